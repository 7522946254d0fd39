package evaluator

import (
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
)

// Evaluator is the recompute driver. One Evaluator is bound to a single
// engine State and reused across every recalculation; evaluation is
// explicit: callers batch mutations, then a read triggers it.
type Evaluator struct {
	state *engstate.State
	ctx   *Context

	// spentSeeds records which initialComputedValues entries have already
	// been applied; a config seed feeds exactly one evaluation pass.
	spentSeeds map[cellval.CellAddress]bool
}

// New builds an Evaluator bound to state.
func New(state *engstate.State) *Evaluator {
	return &Evaluator{
		state:      state,
		ctx:        NewContext(state),
		spentSeeds: make(map[cellval.CellAddress]bool),
	}
}

// Run recalculates over the current dirty/volatile sets and returns once
// every affected vertex has a fresh cached value (or a cycle error, in
// strict mode).
func (e *Evaluator) Run() {
	g := e.state.Graph

	// Step 1: frontier = dirty_set ∪ volatile_vertices. MarkAllVolatileDirty
	// folds volatile vertices into the dirty set via the same transitive
	// MarkDirty used everywhere else, so step 2's "closure" is simply
	// whatever is dirty afterward. Dirty already propagates through
	// dependents by construction (depgraph.Graph.MarkDirty).
	g.MarkAllVolatileDirty()
	closure := g.DirtySet()
	if len(closure) == 0 {
		return
	}

	e.state.Stats.RecordEvaluationPass(len(closure))

	// Steps 3-4: partition into SCCs; StronglyConnectedComponents already
	// returns components in an order where a component with no outgoing
	// precedent edges to another component in the result comes first,
	// exactly the evaluation order this loop needs (dependencies' SCCs
	// before dependents' SCCs), so no separate condense-and-Kahn pass over
	// the SCC list is needed.
	components := g.StronglyConnectedComponents(closure)

	for _, component := range components {
		e.evalComponent(g, component)
	}
}

// evalComponent evaluates one SCC: a trivial component (size 1, no
// self-loop) evaluates normally; everything else goes through the
// strict/tolerant cycle policy.
func (e *Evaluator) evalComponent(g *depgraph.Graph, component []cellval.VertexID) {
	if len(component) == 1 && !hasSelfLoop(g, component[0]) {
		e.evalVertex(g, component[0])
		return
	}
	if !e.state.Config.AllowCircularReferences {
		for _, id := range component {
			g.SetValue(id, cellval.ErrorValue(cellval.ErrCycle, ""))
			g.ClearDirty(id)
		}
		return
	}
	e.evalTolerantSCC(g, component)
}

func hasSelfLoop(g *depgraph.Graph, id cellval.VertexID) bool {
	for _, p := range g.Precedents(id) {
		if p == id {
			return true
		}
	}
	return false
}

// evalVertex evaluates a single non-cycle vertex. Vertices with no formula
// (plain values, empties, and range vertices that only exist for fan-in)
// have nothing to recompute; they are simply cleared.
func (e *Evaluator) evalVertex(g *depgraph.Graph, id cellval.VertexID) {
	v, ok := g.Vertex(id)
	if !ok {
		return
	}
	if v.Formula == "" {
		g.ClearDirty(id)
		return
	}
	node, ok := e.state.AST.Materialize(v.AST)
	if !ok {
		g.ClearDirty(id)
		return
	}
	e.ctx.setCurrent(id)
	result, err := node.Eval(e.ctx, v.Cell)
	if err != nil {
		g.SetValue(id, cellval.ErrorValue(cellval.ErrOther, err.Error()))
		g.ClearDirty(id)
		return
	}
	e.storeResult(g, id, v, result)
	g.ClearDirty(id)
}

// storeResult records a formula's result, handling the array case: a
// matrix result updates the cell's extent, and an extent change re-links
// the spilled cells.
func (e *Evaluator) storeResult(g *depgraph.Graph, id cellval.VertexID, v depgraph.Vertex, result formula.Value) {
	if !result.IsMatrix() || (len(result.Matrix) <= 1 && (len(result.Matrix) == 0 || len(result.Matrix[0]) <= 1)) {
		g.SetValue(id, result.AsScalar())
		if v.IsArray {
			e.relinkArray(g, v.Cell, v.ArrayRows, v.ArrayCols, 1, 1)
		}
		g.SetArrayExtent(id, false, 0, 0)
		return
	}
	m := result.Matrix
	rows := uint32(len(m))
	var cols uint32
	if rows > 0 {
		cols = uint32(len(m[0]))
	}
	g.SetValue(id, m.At(0, 0))
	if v.ArrayRows != rows || v.ArrayCols != cols {
		e.relinkArray(g, v.Cell, v.ArrayRows, v.ArrayCols, rows, cols)
	}
	g.SetArrayExtent(id, true, rows, cols)
	e.spillArray(g, v.Cell, m)
}

// relinkArray clears any spilled values an array formula previously wrote
// once its extent shrinks or disappears, by erasing the cells that are no
// longer inside [0,newRows)x[0,newCols) but were inside the old extent.
// Cells still inside both extents are left alone; spillArray overwrites
// them with the fresh values right after this call.
func (e *Evaluator) relinkArray(g *depgraph.Graph, anchor cellval.CellAddress, oldRows, oldCols, newRows, newCols uint32) {
	if oldRows == 0 && oldCols == 0 {
		return
	}
	m := e.state.MappingFor(anchor.Sheet)
	for r := uint32(0); r < oldRows; r++ {
		for c := uint32(0); c < oldCols; c++ {
			if r == 0 && c == 0 {
				continue
			}
			if r < newRows && c < newCols {
				continue
			}
			row, col := anchor.Row+r, anchor.Col+c
			id, ok := m.Get(row, col)
			if !ok {
				continue
			}
			g.RemoveVertex(id)
			m.Remove(row, col)
		}
	}
}

// spillArray writes every non-anchor cell of an array result into the
// address mapping as a plain (formula-less) vertex, materializing one if
// the address was never touched before. Existing formula cells are never
// overwritten by a spill: a cell that carries its own formula wins the
// overlap, so spills simply skip it.
func (e *Evaluator) spillArray(g *depgraph.Graph, anchor cellval.CellAddress, m cellval.Matrix) {
	mapping := e.state.MappingFor(anchor.Sheet)
	for r := range m {
		for c := range m[r] {
			if r == 0 && c == 0 {
				continue
			}
			addr := cellval.CellAddress{Sheet: anchor.Sheet, Row: anchor.Row + uint32(r), Col: anchor.Col + uint32(c)}
			id, ok := mapping.Get(addr.Row, addr.Col)
			if ok {
				if v, ok := g.Vertex(id); ok && v.Formula != "" {
					continue
				}
				g.SetValue(id, m[r][c])
				g.MarkDirty(id)
				continue
			}
			id = g.AddVertex(depgraph.Vertex{Kind: depgraph.VertexCell, Cell: addr, Value: m[r][c]})
			mapping.Set(addr.Row, addr.Col, id)
		}
	}
}
