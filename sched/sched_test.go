package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/simple"
)

func newLinearDAG(t *testing.T) (*DAG, map[string]int64) {
	d := NewDAG()
	ids := map[string]int64{}
	ids["in"] = d.AddAsset(&Asset{ID: "in", Creator: -1, Status: Present, Mtime: time.Unix(40, 0)})
	ids["mid"] = d.AddAsset(&Asset{ID: "mid", Creator: -1, Status: Present, Mtime: time.Unix(50, 0)})
	ids["out"] = d.AddAsset(&Asset{ID: "out", Creator: -1, Status: Present, Mtime: time.Unix(60, 0)})

	_, err := d.AddTask(&Task{ID: "t1", Inputs: []int{int(ids["in"])}, Outputs: []int{int(ids["mid"])}})
	require.NoError(t, err)
	_, err = d.AddTask(&Task{ID: "t2", Inputs: []int{int(ids["mid"])}, Outputs: []int{int(ids["out"])}})
	require.NoError(t, err)
	return d, ids
}

// TestRecomputeStalenessScenarioS6 is spec §8 scenario S6: an upstream
// asset newer than a downstream derived asset marks the downstream chain
// Outdated even though t2's own direct input looks fresh at its own mtime.
func TestRecomputeStalenessScenarioS6(t *testing.T) {
	d, ids := newLinearDAG(t)
	// "in" was touched after "mid" was derived from it: mid is stale.
	d.assets[ids["in"]].Mtime = time.Unix(200, 0)

	require.NoError(t, d.RecomputeStaleness())
	assert.Equal(t, Outdated, d.assets[ids["mid"]].Status)
	// out was derived from mid at mtime 60, but mid's ancestral_mtime is now
	// 200 (propagated from in), so out must also go stale even though out's
	// own mtime (60) is newer than mid's own mtime (50).
	assert.Equal(t, Outdated, d.assets[ids["out"]].Status)
}

func TestRecomputeStalenessFreshChainStaysPresent(t *testing.T) {
	d, ids := newLinearDAG(t)
	require.NoError(t, d.RecomputeStaleness())
	assert.Equal(t, Present, d.assets[ids["mid"]].Status)
	assert.Equal(t, Present, d.assets[ids["out"]].Status)
}

// TestRefreshTaskStatusReady is spec §8 invariant 6: a task is Ready iff
// every input asset is Present (and not Outdated).
func TestRefreshTaskStatusReady(t *testing.T) {
	d, ids := newLinearDAG(t)
	require.NoError(t, d.RecomputeStaleness())
	d.RefreshTaskStatus()

	t1 := d.Task("t1")
	require.NotNil(t, t1)
	assert.Equal(t, Ready, t1.Status)

	d.assets[ids["in"]].Mtime = time.Unix(200, 0)
	require.NoError(t, d.RecomputeStaleness())
	d.RefreshTaskStatus()
	t2 := d.Task("t2")
	require.NotNil(t, t2)
	assert.Equal(t, Waiting, t2.Status, "t2's input mid is Outdated so t2 cannot be ready")
}

func TestReadyTasksFiltersToReadyOnly(t *testing.T) {
	d, _ := newLinearDAG(t)
	require.NoError(t, d.RecomputeStaleness())
	d.RefreshTaskStatus()
	ready := d.ReadyTasks()
	require.Len(t, ready, 2)
}

// TestAddTaskRejectsDuplicateCreator is spec §8 invariant 7: every
// Derived/Temp/Log asset has exactly one creator task.
func TestAddTaskRejectsDuplicateCreator(t *testing.T) {
	d := NewDAG()
	in := d.AddAsset(&Asset{ID: "in", Creator: -1, Status: Present})
	out := d.AddAsset(&Asset{ID: "out", Creator: -1})
	_, err := d.AddTask(&Task{ID: "t1", Inputs: []int{int(in)}, Outputs: []int{int(out)}})
	require.NoError(t, err)
	_, err = d.AddTask(&Task{ID: "t2", Inputs: []int{int(in)}, Outputs: []int{int(out)}})
	assert.Error(t, err)
}

func TestHasCycleDetectsCycle(t *testing.T) {
	d := NewDAG()
	a := d.AddAsset(&Asset{ID: "a", Creator: -1})
	b := d.AddAsset(&Asset{ID: "b", Creator: -1})
	_, err := d.AddTask(&Task{ID: "t1", Inputs: []int{int(a)}, Outputs: []int{int(b)}})
	require.NoError(t, err)
	// Manually wire a cycle edge b -> t1's task node to simulate a
	// malformed graph (AddTask alone cannot create one, since every output
	// asset gets exactly one creator).
	d.g.SetEdge(d.g.NewEdge(simple.Node(b), simple.Node(d.taskOf["t1"])))
	assert.True(t, d.HasCycle())
}

func TestCancelFlag(t *testing.T) {
	var c CancelFlag
	assert.False(t, c.Raised())
	c.Raise()
	assert.True(t, c.Raised())
	c.Raise()
	assert.True(t, c.Raised())
}
