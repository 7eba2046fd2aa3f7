package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/task"
)

// DAG holds the plan's nodes and their dependency edges.
type DAG struct {
	mu         sync.RWMutex
	nodes      map[string]*Node    // All nodes indexed by ID
	dependents map[string][]string // Maps nodeID -> nodes that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		nodes:      make(map[string]*Node),
		dependents: make(map[string][]string),
	}
}

// AddNode adds a node to the DAG. Returns error if the ID already exists.
func (d *DAG) AddNode(n *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[n.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", n.ID)
	}

	d.nodes[n.ID] = n

	// Build dependents map for efficient downstream lookup
	for _, depID := range n.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], n.ID)
	}

	return nil
}

// Validate runs topological sort using gammazero/toposort.
// Returns ordered node IDs or error if a cycle is detected.
// Also verifies all IDs in DependsOn exist in the DAG.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := d.sortedIDs()

	// First, verify all dependencies exist
	for _, id := range ids {
		for _, depID := range d.nodes[id].DependsOn {
			if _, exists := d.nodes[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", id, depID)
			}
		}
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for _, id := range ids {
		n := d.nodes[id]
		if len(n.DependsOn) == 0 {
			// Node with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range n.DependsOn {
			// Edge (depID, id) means depID must come before id
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Nodes on a cycle never get a nil root edge and can go missing
	if len(order) != len(d.nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("plan contains cycle through: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// Waves groups the nodes into levels: every node lands one level after
// its deepest dependency. Nodes within a wave are sorted by ID.
func (d *DAG) Waves() ([][]string, error) {
	order, err := d.Validate()
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	level := make(map[string]int, len(order))
	var waves [][]string
	for _, id := range order {
		l := 0
		for _, depID := range d.nodes[id].DependsOn {
			if level[depID]+1 > l {
				l = level[depID] + 1
			}
		}
		level[id] = l
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], id)
	}

	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves, nil
}

// Blocked reports whether id must be skipped, and names the dependency
// responsible. A dependency blocks when it was skipped, or when it failed
// in FailHard mode.
func (d *DAG) Blocked(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok {
		return "", false
	}
	for _, depID := range n.DependsOn {
		dep, ok := d.nodes[depID]
		if !ok {
			return depID, true
		}
		switch dep.Status {
		case StatusSkipped:
			return depID, true
		case StatusFailed:
			if dep.Mode == FailHard {
				return depID, true
			}
		}
	}
	return "", false
}

// Dependents returns the IDs of nodes directly depending on id.
func (d *DAG) Dependents(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[id]...)
}

// MarkRunning sets the node status to StatusRunning.
func (d *DAG) MarkRunning(id string) error {
	return d.update(id, func(n *Node) { n.Status = StatusRunning })
}

// MarkFinished stores the outcome of a run.
func (d *DAG) MarkFinished(id string, res result.Result[*task.ExtTaskOutput], duration time.Duration) error {
	return d.update(id, func(n *Node) {
		n.Status = StatusSucceeded
		if res.IsErr() {
			n.Status = StatusFailed
		}
		n.Result = res
		n.Duration = duration
	})
}

// MarkSkipped records that the node will never run.
func (d *DAG) MarkSkipped(id, reason string) error {
	return d.update(id, func(n *Node) {
		n.Status = StatusSkipped
		n.Reason = reason
	})
}

func (d *DAG) update(id string, fn func(n *Node)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.nodes[id]
	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	fn(n)
	return nil
}

// Get returns a copy of the node.
func (d *DAG) Get(id string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, exists := d.nodes[id]
	if !exists {
		return nil, false
	}
	return cloneNode(n), true
}

// Nodes returns copies of all nodes sorted by ID.
func (d *DAG) Nodes() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes := make([]*Node, 0, len(d.nodes))
	for _, id := range d.sortedIDs() {
		nodes = append(nodes, cloneNode(d.nodes[id]))
	}
	return nodes
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// sortedIDs must be called with d.mu held.
func (d *DAG) sortedIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
