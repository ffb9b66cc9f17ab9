package sched

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCancelFlagContextCancelsOnRaise is spec §5's "cooperative
// cancellation": a context handed out by CancelFlag.Context must cancel the
// instant Raise is called, not merely at the next Raised() poll.
func TestCancelFlagContextCancelsOnRaise(t *testing.T) {
	var c CancelFlag
	ctx, cancel := c.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before Raise was called")
	default:
	}

	c.Raise()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled after Raise")
	}
}

// TestCancelFlagContextAlreadyRaised covers deriving a context from a
// CancelFlag that was raised before Context was ever called.
func TestCancelFlagContextAlreadyRaised(t *testing.T) {
	var c CancelFlag
	c.Raise()
	ctx, cancel := c.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should already be canceled")
	}
}

// TestRunTaskDeletesOutputsOnFailure is spec §4.H's failure policy: a
// failed task's outputs are all-or-nothing, so a half-written output file
// must not survive the task's failure.
func TestRunTaskDeletesOutputsOnFailure(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("partial"), 0o644))

	d := NewDAG()
	outID := d.AddAsset(&Asset{ID: "out", Path: outPath, Creator: -1})
	task := &Task{ID: "t1", Argv: []string{"false"}, Outputs: []int{int(outID)}}
	_, err := d.AddTask(task)
	require.NoError(t, err)

	r := NewRunner(d, Limits{}, &CancelFlag{})
	err = r.RunTask(context.Background(), task)
	assert.Error(t, err)
	assert.Equal(t, Waiting, task.Status)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr), "failed task's output should be removed")
}

// TestRunTaskCancelPropagatesToSubprocess confirms that raising the Runner's
// CancelFlag during a long-running RunTask actually kills the subprocess via
// the context, rather than only being noticed at the next poll.
func TestRunTaskCancelPropagatesToSubprocess(t *testing.T) {
	d := NewDAG()
	task := &Task{ID: "t1", Argv: []string{"sleep", "5"}}
	_, err := d.AddTask(task)
	require.NoError(t, err)

	cancel := &CancelFlag{}
	r := NewRunner(d, Limits{}, cancel)
	ctx, cancelCtx := cancel.Context(context.Background())
	defer cancelCtx()

	done := make(chan error, 1)
	go func() { done <- r.RunTask(ctx, task) }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel.Raise()

	select {
	case <-done:
		assert.Less(t, time.Since(start), 4*time.Second, "subprocess should be killed promptly on cancellation")
	case <-time.After(4 * time.Second):
		t.Fatal("task did not stop after cancel was raised")
	}
}
