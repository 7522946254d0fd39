// Package evaluator implements the recompute driver and cycle detector:
// topological recalculation over the dirty closure, SCC-based cycle
// classification, and the strict/tolerant cycle policies.
package evaluator

import (
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
	"github.com/driftline/formulacore/internal/interp"
)

// Context is the concrete formula.Context every AST node evaluates against,
// reading through the dependency graph's cached values rather than any
// storage of its own. One Context is reused across an entire evaluation
// pass; `current` is swapped to whichever vertex is being evaluated so
// MarkVolatile and error attribution land on the right vertex.
type Context struct {
	state   *engstate.State
	current cellval.VertexID
}

// NewContext builds a Context bound to state.
func NewContext(state *engstate.State) *Context {
	return &Context{state: state}
}

// setCurrent is called by Evaluator immediately before node.Eval.
func (c *Context) setCurrent(id cellval.VertexID) { c.current = id }

// Cell implements formula.Context. A never-materialized address reads as
// Empty. The mapping's "never set" vs "set empty" split collapses to one
// observable value at read time; the distinction only matters to the
// builder and Operations deciding whether to allocate a vertex.
func (c *Context) Cell(addr cellval.CellAddress) cellval.CellValue {
	m, ok := c.state.Addrs[addr.Sheet]
	if !ok {
		return cellval.Empty
	}
	id, ok := m.Get(addr.Row, addr.Col)
	if !ok {
		return cellval.Empty
	}
	v, ok := c.state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty
	}
	return v.Value
}

// Range implements formula.Context, materializing a Matrix by reading every
// cell in addr directly from the address mapping. Range vertices exist for
// dependency fan-in, not as the authoritative source of range *values*;
// those are always read live off the cells themselves.
func (c *Context) Range(addr cellval.RangeAddress) cellval.Matrix {
	m, ok := c.state.Addrs[addr.Sheet]
	if !ok {
		return cellval.Matrix{}
	}
	endRow, endCol := addr.EndRow, addr.EndCol
	if endRow == cellval.Unbounded || endCol == cellval.Unbounded {
		boundRows, boundCols := m.Bounds()
		if endRow == cellval.Unbounded {
			if boundRows == 0 {
				endRow = addr.StartRow
			} else {
				endRow = boundRows - 1
			}
		}
		if endCol == cellval.Unbounded {
			if boundCols == 0 {
				endCol = addr.StartCol
			} else {
				endCol = boundCols - 1
			}
		}
	}
	if endRow < addr.StartRow || endCol < addr.StartCol {
		return cellval.Matrix{}
	}
	rows := endRow - addr.StartRow + 1
	cols := endCol - addr.StartCol + 1
	out := make(cellval.Matrix, rows)
	for r := uint32(0); r < rows; r++ {
		row := make([]cellval.CellValue, cols)
		for cc := uint32(0); cc < cols; cc++ {
			row[cc] = c.Cell(cellval.CellAddress{Sheet: addr.Sheet, Row: addr.StartRow + r, Col: addr.StartCol + cc})
		}
		out[r] = row
	}
	return out
}

// Named implements formula.Context: resolve the name in sheet's scope (or
// global, per namedexpr's shadowing rule), then read either a scalar or a
// range depending on what kind of vertex the name is bound to.
func (c *Context) Named(sheet cellval.SheetID, name string) (cellval.CellValue, cellval.Matrix, bool) {
	id, ok := c.state.Names.Resolve(sheet, name)
	if !ok {
		return cellval.Empty, nil, false
	}
	v, ok := c.state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty, nil, false
	}
	if v.Kind == depgraph.VertexRange {
		addr, ok := c.state.Ranges.Address(id)
		if !ok {
			return cellval.Empty, nil, true
		}
		return cellval.Empty, c.Range(addr), true
	}
	return v.Value, nil, true
}

// ResolveSheet implements formula.Context (consumed by the parser too, via
// ParserContext.ResolveSheet). Interning auto-creates an undefined sheet
// entry for a forward reference, so "referenced before defined" is
// tolerated.
func (c *Context) ResolveSheet(name string) (cellval.SheetID, bool) {
	return c.state.Sheets.Intern(name), true
}

// Call implements formula.Context, dispatching to the interpreter registry
// and flagging the currently-evaluating vertex volatile when name is one of
// the volatile builtins, which must always re-evaluate.
func (c *Context) Call(name string, args []formula.Value) (formula.Value, error) {
	if c.current.Valid() {
		// interp.IsVolatile is checked here rather than in the registry
		// itself, since volatility is a graph-level concern (which vertex
		// to keep re-evaluating), not a property of how the function
		// computes its result.
		if interp.IsVolatile(name) {
			c.state.Graph.MarkVolatile(c.current)
		}
	}
	return c.state.Interp.Call(name, args)
}

// MarkVolatile implements formula.Context directly (a node can also call
// this without going through Call, though today only Call does).
func (c *Context) MarkVolatile() {
	if c.current.Valid() {
		c.state.Graph.MarkVolatile(c.current)
	}
}
