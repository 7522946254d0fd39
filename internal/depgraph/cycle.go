package depgraph

import (
	"errors"
	"sort"

	"github.com/driftline/formulacore/internal/cellval"
)

// ErrCycleDetected is a plain, package-scoped sentinel callers can match
// with errors.Is rather than a typed error they'd have to unwrap.
var ErrCycleDetected = errors.New("depgraph: cycle detected")

// vertexState is the classic White/Gray/Black DFS visitation coloring:
// white unvisited, gray on the current DFS path, black fully explored.
type vertexState int

const (
	white vertexState = iota
	gray
	black
)

// tarjan holds the working state for one StronglyConnectedComponents call.
type tarjan struct {
	g *Graph

	index   map[cellval.VertexID]int
	lowlink map[cellval.VertexID]int
	state   map[cellval.VertexID]vertexState
	stack   []cellval.VertexID
	onStack map[cellval.VertexID]bool
	counter int

	components [][]cellval.VertexID
}

// StronglyConnectedComponents partitions subset into its strongly connected
// components using Tarjan's algorithm, restricted to edges whose both
// endpoints lie in subset. Components are returned in reverse topological
// order (a component with no outgoing edges to another component in the
// result comes first), the same orientation Tarjan's algorithm naturally
// produces since it appends a component to the result when it finishes
// popping it off the DFS stack. The DFS walks precedent edges, so
// "no outgoing edges" means "depends on nothing else in the result": a
// dependency's component is always emitted before its dependents'. The
// evaluator iterates this slice in order as its calculation schedule and
// breaks if that orientation changes.
//
// A component of size 1 whose vertex has no self-loop is not a cycle; the
// evaluator distinguishes that case by checking for a from==to edge itself
// (GraphBuilder guarantees formulas never literally reference their own
// address directly without going through this, but a deliberately
// self-referential formula does produce one).
func (g *Graph) StronglyConnectedComponents(subset []cellval.VertexID) [][]cellval.VertexID {
	inSubset := make(map[cellval.VertexID]struct{}, len(subset))
	for _, id := range subset {
		inSubset[id] = struct{}{}
	}

	t := &tarjan{
		g:       g,
		index:   make(map[cellval.VertexID]int),
		lowlink: make(map[cellval.VertexID]int),
		state:   make(map[cellval.VertexID]vertexState),
		onStack: make(map[cellval.VertexID]bool),
	}

	// Deterministic visit order, same rationale as TopologicalOrder: map
	// iteration order over `subset` itself is already a slice, but we sort
	// by insertion order anyway so re-running on an unchanged graph always
	// emits components in the same order.
	ordered := append([]cellval.VertexID(nil), subset...)
	sort.Slice(ordered, func(i, j int) bool {
		return g.insertOrder[ordered[i]] < g.insertOrder[ordered[j]]
	})

	for _, id := range ordered {
		if t.state[id] == white {
			t.strongConnect(id, inSubset)
		}
	}

	return t.components
}

func (t *tarjan) strongConnect(v cellval.VertexID, inSubset map[cellval.VertexID]struct{}) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.state[v] = gray
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	neighbors := append([]cellval.VertexID(nil), t.g.precedents[v]...)
	sort.Slice(neighbors, func(i, j int) bool {
		return t.g.insertOrder[neighbors[i]] < t.g.insertOrder[neighbors[j]]
	})

	for _, w := range neighbors {
		if _, ok := inSubset[w]; !ok {
			continue
		}
		switch t.state[w] {
		case white:
			t.strongConnect(w, inSubset)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		case gray:
			// w is on the stack: back-edge, v and w share a component.
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		case black:
			// w already fully explored and not on stack: cross-edge to an
			// already-emitted component, ignore for lowlink purposes.
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}

	// v is a component root: pop the stack down to and including v.
	var component []cellval.VertexID
	for {
		n := len(t.stack) - 1
		w := t.stack[n]
		t.stack = t.stack[:n]
		t.onStack[w] = false
		t.state[w] = black
		component = append(component, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, component)
}

// HasCycle reports whether subset contains any cycle: a component of size
// > 1, or a size-1 component whose single vertex has a self-loop.
func (g *Graph) HasCycle(subset []cellval.VertexID) bool {
	for _, component := range g.StronglyConnectedComponents(subset) {
		if len(component) > 1 {
			return true
		}
		if len(component) == 1 && contains(g.precedents[component[0]], component[0]) {
			return true
		}
	}
	return false
}
