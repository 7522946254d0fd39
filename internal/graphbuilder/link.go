package graphbuilder

import (
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
)

// LinkReferences walks a parked formula AST and adds a dependency edge
// from formulaID to every cell, range, and named expression it references,
// materializing referenced vertices that don't exist yet; every edge
// endpoint is a materialized vertex, always.
func LinkReferences(state *engstate.State, formulaID cellval.VertexID, home cellval.CellAddress, n formula.Node) {
	switch v := n.(type) {
	case *formula.CellRefNode:
		if addr, ok := resolveCellRef(v, home); ok {
			target := materializeCellIfNeeded(state, addr)
			state.Graph.AddEdge(formulaID, target)
		}
	case *formula.RangeNode:
		if addr, ok := resolveRangeRef(v, home); ok {
			target := ensureRangeVertex(state, addr)
			state.Graph.AddEdge(formulaID, target)
		}
	case *formula.NamedRefNode:
		if id, ok := state.Names.Resolve(home.Sheet, v.Name); ok {
			state.Graph.AddEdge(formulaID, id)
		} else {
			// Name not defined yet: remember who wants it, so a later
			// AddNamedExpression can link and re-dirty just these formulas.
			state.PendingNames[v.Name] = append(state.PendingNames[v.Name], formulaID)
		}
	case *formula.BinaryOpNode:
		LinkReferences(state, formulaID, home, v.Left)
		LinkReferences(state, formulaID, home, v.Right)
	case *formula.UnaryOpNode:
		LinkReferences(state, formulaID, home, v.Operand)
	case *formula.FunctionCallNode:
		for _, arg := range v.Args {
			LinkReferences(state, formulaID, home, arg)
		}
	}
}

// UnlinkPrecedents removes every outgoing dependency edge of formulaID,
// releasing range-vertex refcounts along the way: a range vertex whose last
// consuming edge disappears is garbage-collected. Operations calls this
// before re-linking an edited formula's new reference set.
func UnlinkPrecedents(state *engstate.State, formulaID cellval.VertexID) {
	precedents := append([]cellval.VertexID(nil), state.Graph.Precedents(formulaID)...)
	state.Graph.ClearEdges(formulaID)
	for _, p := range precedents {
		v, ok := state.Graph.Vertex(p)
		if !ok {
			continue
		}
		if v.Kind == depgraph.VertexRange {
			if state.Ranges.RemoveRef(p) {
				state.Graph.RemoveVertex(p)
			}
		}
	}
}

// resolveCellRef and resolveRangeRef duplicate formula.CellRefNode.target /
// formula.RangeNode.target's arithmetic (those methods are unexported,
// internal to how the node evaluates itself) so GraphBuilder can resolve the
// same home-relative offsets to an absolute address for dependency linking
// without reaching into formula package internals.
func resolveCellRef(v *formula.CellRefNode, home cellval.CellAddress) (cellval.CellAddress, bool) {
	row := int64(home.Row) + v.RowOffset
	col := int64(home.Col) + v.ColOffset
	if row < 0 || col < 0 {
		return cellval.CellAddress{}, false
	}
	sheet := home.Sheet
	if v.SheetBound {
		sheet = v.Sheet
	}
	return cellval.CellAddress{Sheet: sheet, Row: uint32(row), Col: uint32(col)}, true
}

func resolveRangeRef(v *formula.RangeNode, home cellval.CellAddress) (cellval.RangeAddress, bool) {
	startRow := int64(home.Row) + v.StartRowOffset
	startCol := int64(home.Col) + v.StartColOffset
	endRow := int64(home.Row) + v.EndRowOffset
	endCol := int64(home.Col) + v.EndColOffset
	if startRow < 0 || startCol < 0 || endRow < 0 || endCol < 0 {
		return cellval.RangeAddress{}, false
	}
	sheet := home.Sheet
	if v.SheetBound {
		sheet = v.Sheet
	}
	if startRow > endRow {
		startRow, endRow = endRow, startRow
	}
	if startCol > endCol {
		startCol, endCol = endCol, startCol
	}
	return cellval.RangeAddress{
		Sheet: sheet, StartRow: uint32(startRow), StartCol: uint32(startCol),
		EndRow: uint32(endRow), EndCol: uint32(endCol),
	}, true
}

// materializeCellIfNeeded returns addr's existing vertex, or allocates an
// empty-valued vertex for it. Empty cells materialize only when something
// references them.
func materializeCellIfNeeded(state *engstate.State, addr cellval.CellAddress) cellval.VertexID {
	mapping := state.MappingFor(addr.Sheet)
	if id, ok := mapping.Get(addr.Row, addr.Col); ok {
		return id
	}
	id := state.Graph.AddVertex(depgraph.Vertex{Kind: depgraph.VertexCell, Cell: addr, Value: cellval.Empty})
	mapping.Set(addr.Row, addr.Col, id)
	state.Stats.RecordVertexDelta(1)
	return id
}

// ensureRangeVertex canonicalizes addr to a single vertex, creating it and
// linking its contributor edges on first use.
//
// This links every contributing cell directly rather than chaining through
// a contained sub-range vertex: dirty propagation is correct either way,
// since a cell's edge needs only *some* path to every range vertex that
// covers it, and the bulk build already visits the whole sheet once. The
// chaining optimization mainly pays off for adding one new wider-range
// formula to an already-large sheet; rangemap.ContainingRanges keeps the
// index it would need.
func ensureRangeVertex(state *engstate.State, addr cellval.RangeAddress) cellval.VertexID {
	if id, ok := state.Ranges.Lookup(addr); ok {
		state.Ranges.AddRef(id)
		return id
	}
	id := state.Graph.AddVertex(depgraph.Vertex{Kind: depgraph.VertexRange, Range: addr})
	state.Ranges.Bind(addr, id)
	linkRangeContributors(state, id, addr)
	return id
}

func linkRangeContributors(state *engstate.State, rangeID cellval.VertexID, addr cellval.RangeAddress) {
	mapping := state.MappingFor(addr.Sheet)
	endRow, endCol := addr.EndRow, addr.EndCol
	if endRow == cellval.Unbounded || endCol == cellval.Unbounded {
		boundRows, boundCols := mapping.Bounds()
		if endRow == cellval.Unbounded {
			endRow = addr.StartRow
			if boundRows > 0 {
				endRow = boundRows - 1
			}
		}
		if endCol == cellval.Unbounded {
			endCol = addr.StartCol
			if boundCols > 0 {
				endCol = boundCols - 1
			}
		}
	}
	if endRow < addr.StartRow || endCol < addr.StartCol {
		return
	}
	for r := addr.StartRow; r <= endRow; r++ {
		for c := addr.StartCol; c <= endCol; c++ {
			if id, ok := mapping.Get(r, c); ok {
				state.Graph.AddEdge(rangeID, id)
			}
			if c == cellval.Unbounded {
				break
			}
		}
		if r == cellval.Unbounded {
			break
		}
	}
}
