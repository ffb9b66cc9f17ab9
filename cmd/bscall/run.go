package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bscall/bscall/internal/cli"
	"github.com/bscall/bscall/sched"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

// pipelineConfig is the top-level JSON pipeline config of spec §6.5: a flat
// list of assets and the tasks that produce them.
type pipelineConfig struct {
	Assets []struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"assets"`
	Tasks []struct {
		ID      string   `json:"id"`
		Argv    []string `json:"argv"`
		Inputs  []string `json:"inputs"`
		Outputs []string `json:"outputs"`
		Log     string   `json:"log"`
		Cores   int      `json:"cores"`
		Memory  int64    `json:"memory_bytes"`
	} `json:"tasks"`
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := cli.Register(fs)
	configPath := fs.String("config", "", "Pipeline JSON config path (required)")
	lockPath := fs.String("lock", "", "Lock file path; defaults to <config>.lock")
	maxCores := fs.Int("max-cores", 0, "Maximum concurrent cores; 0 = unbounded")
	maxMemory := fs.Int64("max-memory", 0, "Maximum concurrent memory bytes; 0 = unbounded")
	waitForLock := fs.Bool("wait-for-lock", false, "Block until the run lock is available instead of failing immediately")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := common.Apply(); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("run: -config is required")
	}
	lp := *lockPath
	if lp == "" {
		lp = *configPath + ".lock"
	}

	cancel := &sched.CancelFlag{}
	stop := sched.WatchSignals(cancel)
	defer stop()

	var lock *sched.Lock
	var err error
	if *waitForLock {
		lock, err = sched.WaitForLock(lp, 2*time.Second, cancel)
	} else {
		lock, err = sched.AcquireLock(lp)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer lock.Release()

	cfg, err := loadPipelineConfig(*configPath)
	if err != nil {
		return err
	}

	dag := sched.NewDAG()
	assetIDs := make(map[string]int64, len(cfg.Assets))
	for _, a := range cfg.Assets {
		id := dag.AddAsset(&sched.Asset{ID: a.ID, Path: a.Path, Creator: -1})
		assetIDs[a.ID] = id
	}
	for _, t := range cfg.Tasks {
		inputs := make([]int, len(t.Inputs))
		for i, in := range t.Inputs {
			aid, ok := assetIDs[in]
			if !ok {
				return fmt.Errorf("run: task %s references unknown input asset %q", t.ID, in)
			}
			inputs[i] = int(aid)
		}
		outputs := make([]int, len(t.Outputs))
		for i, out := range t.Outputs {
			aid, ok := assetIDs[out]
			if !ok {
				return fmt.Errorf("run: task %s references unknown output asset %q", t.ID, out)
			}
			outputs[i] = int(aid)
		}
		logID := -1
		if t.Log != "" {
			aid, ok := assetIDs[t.Log]
			if !ok {
				return fmt.Errorf("run: task %s references unknown log asset %q", t.ID, t.Log)
			}
			logID = int(aid)
		}
		if _, err := dag.AddTask(&sched.Task{
			ID: t.ID, Argv: t.Argv, Inputs: inputs, Outputs: outputs, Log: logID,
			Hints: sched.ResourceHints{Cores: t.Cores, MemoryBytes: t.Memory},
		}); err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	if dag.HasCycle() {
		return fmt.Errorf("run: pipeline config %s describes a cyclic task graph", *configPath)
	}

	runner := sched.NewRunner(dag, sched.Limits{MaxCores: *maxCores, MaxMemory: *maxMemory}, cancel)
	ctx, cancelCtx := cancel.Context(vcontext.Background())
	defer cancelCtx()
	if err := runner.RunAll(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.Printf("run: pipeline %s complete", *configPath)
	return nil
}

func loadPipelineConfig(path string) (*pipelineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("run: opening config: %w", err)
	}
	defer f.Close()
	var cfg pipelineConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("run: parsing config: %w", err)
	}
	return &cfg, nil
}
