// Package graphbuilder implements the bulk initial build that turns a raw
// sheet (a matrix of literal/formula text) into materialized vertices and
// dependency edges, in three phases: materialize values, link dependencies,
// mark everything dirty. Dependencies link only after every cell in the
// bulk sheet has a vertex, so a forward reference (a formula on row 1
// referencing row 50) never has to special-case "not materialized yet".
package graphbuilder

import (
	"fmt"
	"strconv"

	"github.com/driftline/formulacore/internal/address"
	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/asttransform"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/contentparser"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
)

// SheetData is one sheet's raw content, row-major, cell values being
// whatever a config author would naturally write: a string (plain text or a
// "="-prefixed formula), a float64/int literal, a bool literal, or nil for
// an empty cell. Matches the loose shape EngineConfig.InitialComputedValues
// already uses for seed matrices (map[string][][]any), so the same literal
// Go data a test writes for seeds can describe a sheet's starting content.
type SheetData [][]any

// Build performs the full bulk build for every named sheet in sheets, in
// the order Go happens to range map keys. Callers that care about a
// specific sheet creation order should call BuildSheet per sheet instead.
// Returns an *apperr.Error (SheetSizeLimitExceeded) if any sheet's bounds
// exceed state.Config.MaxRows/MaxColumns.
func Build(state *engstate.State, sheets map[string]SheetData) error {
	for name, data := range sheets {
		if err := BuildSheet(state, name, data); err != nil {
			return err
		}
	}
	return nil
}

// BuildSheet runs phases A and B for one sheet. Phase C, marking every
// formula dirty, happens once per cell as it's materialized, since a
// freshly built vertex always starts dirty; see materializeCell).
func BuildSheet(state *engstate.State, name string, data SheetData) error {
	sheetID := state.Sheets.Define(name)

	rows := uint32(len(data))
	var cols uint32
	for _, row := range data {
		if uint32(len(row)) > cols {
			cols = uint32(len(row))
		}
	}
	if rows > state.Config.MaxRows {
		return apperr.SizeLimit("rows", state.Config.MaxRows, rows)
	}
	if cols > state.Config.MaxColumns {
		return apperr.SizeLimit("columns", state.Config.MaxColumns, cols)
	}

	strategy := chooseStrategy(data, rows, cols)
	mapping := address.NewMapping(sheetID, strategy, rows, cols)
	state.Addrs[sheetID] = mapping

	// Phase A: materialize every non-empty cell as a vertex; formula text
	// is only classified here and is parsed in Phase B. Forward references are safe because reads in Phase B go
	// through state.Addrs, which is fully populated by the time Phase B
	// starts.
	pending := make([]pendingFormula, 0)
	for r, row := range data {
		for c, raw := range row {
			id, formulaText, isFormula := materializeCell(state, mapping, sheetID, uint32(r), uint32(c), raw)
			if isFormula {
				pending = append(pending, pendingFormula{id: id, sheet: sheetID, row: uint32(r), col: uint32(c), text: formulaText})
			}
		}
	}

	// Phase B: parse each formula (a parse cache keyed by raw text avoids
	// re-parsing two cells that happen to hold identical formula strings)
	// and link its dependency edges.
	cache := make(map[string]formula.Node, len(pending))
	for _, pf := range pending {
		node, ok := cache[pf.text]
		if !ok {
			parsed, err := formula.Parse(pf.text, &formula.ParserContext{
				CurrentSheet: pf.sheet,
				CurrentRow:   int64(pf.row),
				CurrentCol:   int64(pf.col),
				ResolveSheet: func(name string) (cellval.SheetID, bool) {
					return state.Sheets.Intern(name), true
				},
			})
			if err != nil {
				state.Graph.SetValue(pf.id, cellval.ErrorValue(cellval.ErrName, err.Error()))
				continue
			}
			node = parsed
			cache[pf.text] = parsed
		} else {
			// A cache hit still needs its own parked copy: asttransform
			// rewrites a parked AST in place on a structural edit, and two
			// cells must never share one mutable node once rewrites start
			// diverging (one cell's row-insert leaves the other's AST
			// untouched). clone() walks the shared tree and deep-copies it.
			node = clone(node)
		}
		astID := state.AST.Park(cellval.CellAddress{Sheet: pf.sheet, Row: pf.row, Col: pf.col}, node)
		state.Graph.SetFormula(pf.id, pf.text)
		setAST(state, pf.id, astID)
		LinkReferences(state, pf.id, cellval.CellAddress{Sheet: pf.sheet, Row: pf.row, Col: pf.col}, node)
	}

	return nil
}

type pendingFormula struct {
	id    cellval.VertexID
	sheet cellval.SheetID
	row   uint32
	col   uint32
	text  string
}

// chooseStrategy picks Dense when the occupancy ratio (non-empty cells /
// observed area) exceeds address.DensityThreshold, Sparse otherwise.
func chooseStrategy(data SheetData, rows, cols uint32) address.Strategy {
	if rows == 0 || cols == 0 {
		return address.Sparse
	}
	var occupied int64
	for _, row := range data {
		for _, raw := range row {
			if !isEmptyRaw(raw) {
				occupied++
			}
		}
	}
	area := int64(rows) * int64(cols)
	if area == 0 {
		return address.Sparse
	}
	if float64(occupied)/float64(area) > address.DensityThreshold {
		return address.Dense
	}
	return address.Sparse
}

func isEmptyRaw(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return s == ""
	}
	return false
}

// materializeCell classifies raw and allocates the matching vertex kind
// (whether a formula is an array formula is decided later, once it is
// actually evaluated and its result shape is known), marking formulas dirty
// as they materialize, since a freshly built vertex has no prior cached value to
// compare against. Returns the formula text and true if this cell needs
// Phase B linking.
func materializeCell(state *engstate.State, mapping *address.Mapping, sheet cellval.SheetID, row, col uint32, raw any) (cellval.VertexID, string, bool) {
	text := toRawText(raw)
	parsed := state.Content.Classify(text)

	addr := cellval.CellAddress{Sheet: sheet, Row: row, Col: col}
	switch parsed.Kind {
	case contentparser.KindEmpty:
		return cellval.NilVertex, "", false
	case contentparser.KindLiteral, contentparser.KindErrorLiteral:
		id := state.Graph.AddVertex(depgraph.Vertex{Kind: depgraph.VertexCell, Cell: addr, Value: parsed.Literal})
		mapping.Set(row, col, id)
		state.Stats.RecordVertexDelta(1)
		return id, "", false
	case contentparser.KindFormula:
		id := state.Graph.AddVertex(depgraph.Vertex{Kind: depgraph.VertexCell, Cell: addr})
		mapping.Set(row, col, id)
		state.Graph.MarkDirty(id)
		state.Stats.RecordVertexDelta(1)
		return id, parsed.Formula, true
	default:
		return cellval.NilVertex, "", false
	}
}

// toRawText renders a config-author literal into the text
// contentparser.Classify expects: whatever would have been typed into the
// cell.
func toRawText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// setAST stashes astID on id's vertex through depgraph.Graph.SetAST.
func setAST(state *engstate.State, id cellval.VertexID, astID asttransform.ASTID) {
	state.Graph.SetAST(id, astID)
}

// clone deep-copies an AST so two cells with textually identical formulas
// never share a mutable node (asttransform rewrites nodes in place).
func clone(n formula.Node) formula.Node {
	switch v := n.(type) {
	case *formula.NumberNode:
		c := *v
		return &c
	case *formula.StringNode:
		c := *v
		return &c
	case *formula.BooleanNode:
		c := *v
		return &c
	case *formula.ErrorLiteralNode:
		c := *v
		return &c
	case *formula.CellRefNode:
		c := *v
		return &c
	case *formula.RangeNode:
		c := *v
		return &c
	case *formula.NamedRefNode:
		c := *v
		return &c
	case *formula.BinaryOpNode:
		c := *v
		c.Left = clone(v.Left)
		c.Right = clone(v.Right)
		return &c
	case *formula.UnaryOpNode:
		c := *v
		c.Operand = clone(v.Operand)
		return &c
	case *formula.FunctionCallNode:
		c := *v
		c.Args = make([]formula.Node, len(v.Args))
		for i, a := range v.Args {
			c.Args[i] = clone(a)
		}
		return &c
	default:
		return n
	}
}
