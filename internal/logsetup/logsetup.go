// Package logsetup wires the CLI's -v/--loglevel and -T/--timestamp flags
// (spec §6.1) onto grailbio/base/log, the leveled logger used throughout
// this repository.
package logsetup

import (
	"fmt"

	"github.com/grailbio/base/log"
)

// Level names accepted by -v/--loglevel, ordered from least to most verbose.
const (
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

// Timestamp formats accepted by -T/--timestamp.
const (
	TimestampNone = "none"
	TimestampSec  = "sec"
	TimestampMS   = "ms"
	TimestampUS   = "us"
	TimestampNS   = "ns"
)

// Apply sets the process-wide log level from level and checks that timestamp
// names a known resolution, returning an error if either is not recognized.
// The timestamp resolution is only validated; the logger's timestamp format
// is left unchanged. trace is treated as an alias for debug: grailbio/base/log does
// not distinguish a fifth level, and the original Rust CLI's "trace" mapped
// to the same verbosity as "debug".
func Apply(level, timestamp string) error {
	switch level {
	case LevelError:
		log.SetLevel(log.Error)
	case LevelWarn:
		log.SetLevel(log.Info) // base/log has no distinct Warn level; fold into Info
	case LevelInfo:
		log.SetLevel(log.Info)
	case LevelDebug, LevelTrace:
		log.SetLevel(log.Debug)
	default:
		return fmt.Errorf("logsetup: unrecognized loglevel %q", level)
	}
	switch timestamp {
	case TimestampNone, TimestampSec, TimestampMS, TimestampUS, TimestampNS:
	default:
		return fmt.Errorf("logsetup: unrecognized timestamp resolution %q", timestamp)
	}
	return nil
}
