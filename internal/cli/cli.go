// Package cli holds flag-parsing scaffolding shared by every bscall binary:
// the common -v/-T/-q/-@ flags of spec §6.1, and the three-tier option
// resolution (CLI flag > JSON config > hardcoded default) carried over from
// the original implementation's cli_model/options layering.
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/bscall/bscall/internal/logsetup"
)

// CommonFlags holds the flags every binary in spec §6.1 exposes.
type CommonFlags struct {
	LogLevel  string
	Timestamp string
	Quiet     bool
	Threads   int
}

// Register adds the common flags to fs, returning a CommonFlags whose
// fields are populated once fs.Parse has run.
func Register(fs *flag.FlagSet) *CommonFlags {
	c := &CommonFlags{}
	fs.StringVar(&c.LogLevel, "loglevel", logsetup.LevelInfo, "log verbosity: error, warn, info, debug, trace")
	fs.StringVar(&c.LogLevel, "v", logsetup.LevelInfo, "shorthand for -loglevel")
	fs.StringVar(&c.Timestamp, "timestamp", logsetup.TimestampSec, "timestamp resolution: none, sec, ms, us, ns")
	fs.StringVar(&c.Timestamp, "T", logsetup.TimestampSec, "shorthand for -timestamp")
	fs.BoolVar(&c.Quiet, "quiet", false, "suppress non-error output")
	fs.BoolVar(&c.Quiet, "q", false, "shorthand for -quiet")
	fs.IntVar(&c.Threads, "threads", 0, "worker thread cap; 0 = runtime.NumCPU()")
	fs.IntVar(&c.Threads, "@", 0, "shorthand for -threads")
	return c
}

// Apply validates and installs the common flags (logging level/timestamp).
// Quiet forces the error level regardless of what -loglevel requested.
func (c *CommonFlags) Apply() error {
	level := c.LogLevel
	if c.Quiet {
		level = logsetup.LevelError
	}
	if err := logsetup.Apply(level, c.Timestamp); err != nil {
		return errors.E(err, errors.Invalid, "cli: invalid logging flags")
	}
	return nil
}

// LoadJSON reads a JSON config file into dst. It is the single entry point
// for spec §6.5's "top-level JSON config describing the pipeline"; it never
// mutates the file (that is the config writer's job, out of scope here).
func LoadJSON(path string, dst interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.E(err, errors.NotExist, fmt.Sprintf("cli: cannot open config %s", path))
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(dst); err != nil {
		return errors.E(err, errors.Invalid, fmt.Sprintf("cli: malformed config %s", path))
	}
	return nil
}

// Resolve implements the three-tier "CLI flag > JSON config > default"
// option layering used throughout the original cli_model/options modules:
// flagSet is true when the user explicitly passed the flag (track this with
// flag.Visit in callers), in which case flagVal wins; otherwise cfgVal wins
// if non-zero, else def.
func Resolve(flagSet bool, flagVal, cfgVal, def string) string {
	if flagSet {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	return def
}
