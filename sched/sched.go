// Package sched implements the task/asset DAG and scheduler of spec §4.H:
// a DAG of assets (files with mtimes) and tasks (commands with required
// inputs/outputs), staleness propagation, ready-task execution under
// resource caps, and cooperative cancellation. The DAG itself is modeled
// with gonum's graph/simple + graph/topo, grounded on kortschak-loopy's
// cmd/press dependency-graph usage.
package sched

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// AssetType enumerates spec §3's Asset.type.
type AssetType int

const (
	Supplied AssetType = iota
	Derived
	Temp
	Log
)

// AssetStatus enumerates spec §3's Asset.status.
type AssetStatus int

const (
	Present AssetStatus = iota
	Outdated
	Absent
)

// Asset is a file tracked by the DAG (spec §3).
type Asset struct {
	ID             string
	Path           string
	Type           AssetType
	Status         AssetStatus
	Mtime          time.Time
	AncestralMtime time.Time
	Creator        int // task node id, or -1 for Supplied assets
	Parents        []int
}

// TaskStatus enumerates spec §3's Task.status. Waiting is the zero value:
// a freshly-added task has neither run nor been classified yet.
type TaskStatus int

const (
	Waiting TaskStatus = iota
	Ready
	Running
	Complete
)

// ResourceHints are a task's {cores, memory bytes, wall-seconds} request.
type ResourceHints struct {
	Cores       int
	MemoryBytes int64
	WallSeconds int
}

// Task is a command with required inputs/outputs (spec §3).
type Task struct {
	ID      string
	Argv    []string
	Inputs  []int // asset node ids
	Outputs []int
	Log     int // asset node id, or -1
	Hints   ResourceHints
	Status  TaskStatus
	Barcode string
}

// DAG owns every Asset/Task and the graph edges between them, using one
// gonum node id space shared by assets and tasks: ids are handed out
// sequentially, and the assets and tasks maps tell the two kinds apart.
type DAG struct {
	g       *simple.DirectedGraph
	assets  map[int64]*Asset
	tasks   map[int64]*Task
	assetOf map[string]int64
	taskOf  map[string]int64
	nextID  int64
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		g:       simple.NewDirectedGraph(),
		assets:  make(map[int64]*Asset),
		tasks:   make(map[int64]*Task),
		assetOf: make(map[string]int64),
		taskOf:  make(map[string]int64),
	}
}

func (d *DAG) newNode() int64 {
	id := d.nextID
	d.nextID++
	d.g.AddNode(simple.Node(id))
	return id
}

// AddAsset registers a, returning its graph node id.
func (d *DAG) AddAsset(a *Asset) int64 {
	id := d.newNode()
	d.assets[id] = a
	d.assetOf[a.ID] = id
	return id
}

// AddTask registers t and wires edges: each input asset -> task, task ->
// each output asset. Per spec §3 "every Derived/Temp/Log asset has exactly
// one creator", AddTask errors if any output asset already has a creator.
func (d *DAG) AddTask(t *Task) (int64, error) {
	for _, out := range t.Outputs {
		a := d.assetByNode(int64(out))
		if a.Creator != -1 {
			return 0, errors.E(errors.Invalid, "sched: asset "+a.ID+" already has a creator task")
		}
	}
	id := d.newNode()
	d.tasks[id] = t
	d.taskOf[t.ID] = id
	for _, in := range t.Inputs {
		d.g.SetEdge(d.g.NewEdge(simple.Node(int64(in)), simple.Node(id)))
	}
	for _, out := range t.Outputs {
		d.g.SetEdge(d.g.NewEdge(simple.Node(id), simple.Node(int64(out))))
		d.assetByNode(int64(out)).Creator = int(id)
	}
	return id, nil
}

func (d *DAG) assetByNode(id int64) *Asset { return d.assets[id] }

// HasCycle reports whether the DAG contains a cycle, using
// graph/topo.DirectedCyclesIn — wiring gonum's cycle detector for the
// scheduler the way cmd/press uses topo.ConnectedComponents for its own
// dependency graph.
func (d *DAG) HasCycle() bool {
	return len(topo.DirectedCyclesIn(d.g)) > 0
}

// TopoOrder returns task node ids in an order consistent with the DAG's
// edges (topo.Sort), or an error if a cycle exists.
func (d *DAG) TopoOrder() ([]int64, error) {
	order, err := topo.Sort(d.g)
	if err != nil {
		return nil, errors.E(err, errors.Invalid, "sched: dependency graph has a cycle")
	}
	var out []int64
	for _, n := range order {
		id := n.ID()
		if _, ok := d.tasks[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// StatAssets fills Mtime/Status for every asset by stat'ing its path (spec
// §4.H "filesystem stat fills mtime/status"); an asset whose path cannot be
// stat'ed becomes Absent.
func (d *DAG) StatAssets() {
	for _, a := range d.assets {
		info, err := os.Stat(a.Path)
		if err != nil {
			a.Status = Absent
			continue
		}
		a.Mtime = info.ModTime()
		a.Status = Present
	}
}

// RecomputeStaleness performs the depth-first ancestral_mtime propagation
// of spec §4.H: ancestral_mtime = max(mtime, every parent's ancestral_mtime),
// and any Present asset whose ancestral_mtime exceeds its own mtime becomes
// Outdated (spec §8 invariant 6).
func (d *DAG) RecomputeStaleness() error {
	order, err := d.TopoOrder()
	if err != nil {
		return err
	}
	// Walk assets in an order where every creator task (and hence its
	// input assets) has already been visited: iterate topo order's tasks,
	// and for each task's output assets fold in the max ancestral_mtime of
	// its input assets.
	for _, a := range d.assets {
		a.AncestralMtime = a.Mtime
	}
	for _, taskID := range order {
		t := d.tasks[taskID]
		var maxAnc time.Time
		for _, in := range t.Inputs {
			a := d.assetByNode(int64(in))
			if a.AncestralMtime.After(maxAnc) {
				maxAnc = a.AncestralMtime
			}
		}
		for _, out := range t.Outputs {
			a := d.assetByNode(int64(out))
			if maxAnc.After(a.AncestralMtime) {
				a.AncestralMtime = maxAnc
			}
		}
	}
	for _, a := range d.assets {
		if a.Status == Present && a.AncestralMtime.After(a.Mtime) {
			a.Status = Outdated
		}
	}
	return nil
}

// RefreshTaskStatus derives each task's status from its input assets (spec
// §3 "a task is Ready iff all inputs are Present and not Outdated", spec §8
// invariant 6).
func (d *DAG) RefreshTaskStatus() {
	for _, t := range d.tasks {
		inputsOK := true
		for _, in := range t.Inputs {
			if d.assetByNode(int64(in)).Status != Present {
				inputsOK = false
				break
			}
		}
		outputsOK := true
		for _, out := range t.Outputs {
			if d.assetByNode(int64(out)).Status != Present {
				outputsOK = false
				break
			}
		}
		switch {
		case t.Status == Complete && inputsOK && outputsOK:
			// Already ran and nothing upstream changed: stays Complete.
		case inputsOK:
			t.Status = Ready
		default:
			t.Status = Waiting
		}
	}
}

// ReadyTasks returns every task currently in the Ready state.
func (d *DAG) ReadyTasks() []*Task {
	var out []*Task
	for _, t := range d.tasks {
		if t.Status == Ready {
			out = append(out, t)
		}
	}
	return out
}

// Asset looks up an asset by id.
func (d *DAG) Asset(id string) *Asset { return d.assets[d.assetOf[id]] }

// Task looks up a task by id.
func (d *DAG) Task(id string) *Task { return d.tasks[d.taskOf[id]] }

var _ graph.Graph = (*simple.DirectedGraph)(nil)

// CancelFlag is the atomic signal-raised flag of spec §4.H / §5: workers
// poll it at every channel receive and between pipeline stages. It can also
// hand out a context.Context that cancels the instant Raise is called, so
// that subprocesses started with exec.CommandContext are actually killed
// rather than merely observed as "canceled" at the next poll.
type CancelFlag struct {
	v int32

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Raise sets the flag and, if Context has been called, cancels the context
// it returned. Idempotent.
func (c *CancelFlag) Raise() {
	atomic.StoreInt32(&c.v, 1)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Raised reports whether Raise has been called.
func (c *CancelFlag) Raised() bool { return atomic.LoadInt32(&c.v) == 1 }

// Context derives a context from parent that is canceled the moment Raise
// is called, including a Raise that already happened before this call.
// The bscall run subcommand passes such a context to Runner.RunAll, which
// hands it to exec.CommandContext, so with WatchSignals raising the flag
// SIGINT/TERM/HUP/QUIT actually kill an in-flight task instead of only
// flipping a flag the next poll notices.
func (c *CancelFlag) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	raised := c.Raised()
	c.mu.Unlock()
	if raised {
		cancel()
	}
	return ctx, cancel
}
