package workflow

import (
	"fmt"
	"sync"

	"github.com/ymera-labs/ymera/core"
)

// nodeStatus tracks one step's position during a single execution.
type nodeStatus int

const (
	nodePending nodeStatus = iota
	nodeCompleted
	nodeFailed
	nodeSkipped
)

type dagNode struct {
	id         string
	deps       []string
	dependents []string
	status     nodeStatus
}

// dag is a per-execution working copy of a WorkflowDefinition's step graph,
// grounded on the teacher's WorkflowDAG (orchestration/workflow_dag.go):
// same dependents-rebuild-on-add shape, same DFS cycle check, same
// transitive-skip-on-failure propagation.
type dag struct {
	mu    sync.Mutex
	nodes map[string]*dagNode
}

func newDAG(steps []WorkflowStep) *dag {
	d := &dag{nodes: make(map[string]*dagNode, len(steps))}
	for _, s := range steps {
		d.nodes[s.StepID] = &dagNode{id: s.StepID, deps: append([]string(nil), s.Dependencies...)}
	}
	for _, n := range d.nodes {
		for _, dep := range n.deps {
			if depNode, ok := d.nodes[dep]; ok {
				depNode.dependents = append(depNode.dependents, n.id)
			}
		}
	}
	return d
}

// validate checks every dependency resolves and the graph is acyclic.
func (d *dag) validate() error {
	for id, n := range d.nodes {
		for _, dep := range n.deps {
			if _, ok := d.nodes[dep]; !ok {
				return core.NewError("WorkflowDAG.validate", core.KindInvalidRequest, fmt.Errorf("step %s depends on unknown step %s", id, dep))
			}
		}
	}
	visited := make(map[string]bool)
	stack := make(map[string]bool)
	for id := range d.nodes {
		if !visited[id] && d.hasCycle(id, visited, stack) {
			return core.NewError("WorkflowDAG.validate", core.KindInvalidRequest, fmt.Errorf("workflow contains a circular dependency"))
		}
	}
	return nil
}

func (d *dag) hasCycle(id string, visited, stack map[string]bool) bool {
	visited[id] = true
	stack[id] = true
	for _, dep := range d.nodes[id].dependents {
		if !visited[dep] {
			if d.hasCycle(dep, visited, stack) {
				return true
			}
		} else if stack[dep] {
			return true
		}
	}
	stack[id] = false
	return false
}

// ready returns PENDING steps whose every dependency is COMPLETED or
// SKIPPED (a skipped step counts as completed for dependency purposes,
// per spec).
func (d *dag) ready() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for id, n := range d.nodes {
		if n.status != nodePending {
			continue
		}
		if d.depsSatisfied(n) {
			out = append(out, id)
		}
	}
	return out
}

func (d *dag) depsSatisfied(n *dagNode) bool {
	for _, dep := range n.deps {
		depNode := d.nodes[dep]
		if depNode.status != nodeCompleted && depNode.status != nodeSkipped {
			return false
		}
	}
	return true
}

func (d *dag) markSkipped(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markSkippedLocked(id)
}

func (d *dag) markSkippedLocked(id string) {
	n, ok := d.nodes[id]
	if !ok || n.status != nodePending {
		return
	}
	n.status = nodeSkipped
}

func (d *dag) markCompleted(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[id]; ok {
		n.status = nodeCompleted
	}
}

// markFailedAndPropagateSkip marks id FAILED and transitively SKIPs every
// pending dependent, matching spec §4.5 step 2's "dependent steps that had
// on_failure=SKIP are added to skipped transitively" — callers only invoke
// this for steps whose on_failure is SKIP.
func (d *dag) markFailedAndPropagateSkip(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return
	}
	n.status = nodeFailed
	var skip func(string)
	skip = func(nodeID string) {
		node := d.nodes[nodeID]
		if node == nil {
			return
		}
		for _, dep := range node.dependents {
			if depNode := d.nodes[dep]; depNode != nil && depNode.status == nodePending {
				depNode.status = nodeSkipped
				skip(dep)
			}
		}
	}
	skip(id)
}

func (d *dag) markFailed(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[id]; ok {
		n.status = nodeFailed
	}
}

func (d *dag) remaining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.nodes {
		if n.status == nodePending {
			return true
		}
	}
	return false
}

func (d *dag) statusOf(id string) nodeStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.nodes[id]; ok {
		return n.status
	}
	return nodePending
}

// completedInReverseTopoOrder returns every COMPLETED step id, ordered so
// that a step always appears before anything it depends on (for ROLLBACK
// compensation, which runs in reverse topological order).
func (d *dag) completedInReverseTopoOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	inDegree := make(map[string]int, len(d.nodes))
	for id, n := range d.nodes {
		inDegree[id] = len(n.deps)
	}
	var queue, topo []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		topo = append(topo, cur)
		for _, dep := range d.nodes[cur].dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	var out []string
	for i := len(topo) - 1; i >= 0; i-- {
		if d.nodes[topo[i]].status == nodeCompleted {
			out = append(out, topo[i])
		}
	}
	return out
}
