package sched

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Limits caps the scheduler's concurrent resource usage (spec §4.H
// "execution under resource caps").
type Limits struct {
	MaxCores  int
	MaxMemory int64
}

// Runner executes Ready tasks as external processes, respecting Limits and
// a shared CancelFlag, the way cmd/bio-pileup's traverse.Each workers poll
// a shared cancellation signal between units of work.
type Runner struct {
	dag    *DAG
	limits Limits
	cancel *CancelFlag

	mu          sync.Mutex
	usedCores   int
	usedMemory  int64
	cond        *sync.Cond
}

// NewRunner builds a Runner over dag.
func NewRunner(dag *DAG, limits Limits, cancel *CancelFlag) *Runner {
	r := &Runner{dag: dag, limits: limits, cancel: cancel}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// acquire blocks until t's resource hints fit within the remaining budget,
// then reserves them. Returns an error if cancel is raised while waiting.
func (r *Runner) acquire(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.cancel.Raised() {
			return errors.E(errors.Canceled, "sched: run canceled")
		}
		fits := (r.limits.MaxCores == 0 || r.usedCores+t.Hints.Cores <= r.limits.MaxCores) &&
			(r.limits.MaxMemory == 0 || r.usedMemory+t.Hints.MemoryBytes <= r.limits.MaxMemory)
		if fits {
			r.usedCores += t.Hints.Cores
			r.usedMemory += t.Hints.MemoryBytes
			return nil
		}
		r.cond.Wait()
	}
}

func (r *Runner) release(t *Task) {
	r.mu.Lock()
	r.usedCores -= t.Hints.Cores
	r.usedMemory -= t.Hints.MemoryBytes
	r.mu.Unlock()
	r.cond.Broadcast()
}

// RunTask acquires resources, runs t.Argv as an external process with its
// stdout/stderr sent to t's Log asset (if any), and marks t Complete on
// success (spec §4.H "task execution").
func (r *Runner) RunTask(ctx context.Context, t *Task) error {
	if err := r.acquire(t); err != nil {
		return err
	}
	defer r.release(t)

	t.Status = Running
	log.Printf("sched: running %s: %v", t.ID, t.Argv)

	if len(t.Argv) == 0 {
		t.Status = Complete
		return nil
	}
	cmd := exec.CommandContext(ctx, t.Argv[0], t.Argv[1:]...)
	if t.Log >= 0 {
		if a := r.dag.assetByNode(int64(t.Log)); a != nil {
			f, err := os.Create(a.Path)
			if err != nil {
				t.Status = Waiting
				return errors.E(err, "sched: opening log asset for "+t.ID)
			}
			defer f.Close()
			cmd.Stdout = f
			cmd.Stderr = f
		}
	}
	if err := cmd.Run(); err != nil {
		r.cleanupOutputs(t)
		t.Status = Waiting
		return errors.E(err, "sched: task "+t.ID+" failed")
	}
	t.Status = Complete
	return nil
}

// cleanupOutputs removes every output asset a failed or canceled task may
// have partially written, per spec §4.H's failure policy: a task's outputs
// are all-or-nothing, so a half-written file must never be left behind
// looking Present to the next StatAssets pass.
func (r *Runner) cleanupOutputs(t *Task) {
	for _, out := range t.Outputs {
		a := r.dag.assetByNode(int64(out))
		if a == nil || a.Path == "" {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("sched: task %s failed, could not remove output asset %s: %v", t.ID, a.Path, err)
		}
	}
}

// RunAll repeatedly executes ready tasks (one goroutine per ready task, up
// to Limits.MaxCores worth of concurrency) until every task is Complete,
// no task is Ready, or cancel is raised. It recomputes staleness and task
// status after each completed batch, so a task unblocked by this round's
// outputs becomes visible to the next.
func (r *Runner) RunAll(ctx context.Context) error {
	for {
		if r.cancel.Raised() {
			return errors.E(errors.Canceled, "sched: run canceled")
		}
		r.dag.StatAssets()
		if err := r.dag.RecomputeStaleness(); err != nil {
			return err
		}
		r.dag.RefreshTaskStatus()
		ready := r.dag.ReadyTasks()
		if len(ready) == 0 {
			return nil
		}
		var wg sync.WaitGroup
		errs := make([]error, len(ready))
		for i, t := range ready {
			wg.Add(1)
			go func(i int, t *Task) {
				defer wg.Done()
				errs[i] = r.RunTask(ctx, t)
			}(i, t)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
}
