// Package ops implements the engine's mutation operations, the edits that
// keep the dependency graph and the lazy AST service consistent (cell
// edits, row/column insertion and deletion, sheet lifecycle, named
// expressions), plus the inverse-command undo/redo log. The inverse is
// recorded once each operation has applied successfully.
//
// Every public operation is all-or-nothing: validation happens before the
// first mutation, so a rejected operation leaves the engine untouched.
package ops

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/contentparser"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
	"github.com/driftline/formulacore/internal/graphbuilder"
	"github.com/driftline/formulacore/internal/namedexpr"
)

// Operations is the CRUD facade bound to one engine State.
type Operations struct {
	state *engstate.State
	log   *UndoLog
}

// New builds an Operations facade over state.
func New(state *engstate.State) *Operations {
	return &Operations{state: state, log: NewUndoLog()}
}

// UndoDepth returns how many operations can currently be undone.
func (o *Operations) UndoDepth() int { return o.log.UndoDepth() }

// RedoDepth returns how many undone operations can currently be redone.
func (o *Operations) RedoDepth() int { return o.log.RedoDepth() }

// record stamps a freshly-applied command with a transaction id, logs it,
// and pushes it onto the undo stack (clearing the redo stack: a new edit
// forks history, the standard linear-undo contract).
func (o *Operations) record(name string, apply, revert func() error) {
	txn := uuid.New().String()
	o.state.Stats.RecordOperation(name)
	o.state.Logger.Debug("operation applied", "op", name, "txn", txn)
	o.log.Push(&command{id: txn, name: name, apply: apply, revert: revert})
}

// Undo reverts the most recent operation. Returns an error if there is
// nothing to undo.
func (o *Operations) Undo() error {
	cmd, ok := o.log.PopUndo()
	if !ok {
		return apperr.New(apperr.FailedPrecondition, "", "nothing to undo")
	}
	if err := cmd.revert(); err != nil {
		return err
	}
	o.state.Stats.RecordOperation("undo")
	o.log.PushRedo(cmd)
	return nil
}

// Redo re-applies the most recently undone operation.
func (o *Operations) Redo() error {
	cmd, ok := o.log.PopRedo()
	if !ok {
		return apperr.New(apperr.FailedPrecondition, "", "nothing to redo")
	}
	if err := cmd.apply(); err != nil {
		return err
	}
	o.state.Stats.RecordOperation("redo")
	o.log.PushUndo(cmd)
	return nil
}

// SetCellContents reclassifies the cell at addr from raw text, rebuilds
// its vertex kind if necessary, rewires its outgoing edges, and marks it
// dirty.
func (o *Operations) SetCellContents(addr cellval.CellAddress, raw string) error {
	if err := o.checkCellBounds(addr); err != nil {
		return err
	}
	oldRaw, err := o.applySetCell(addr, raw)
	if err != nil {
		return err
	}
	o.record("setCellContents",
		func() error { _, e := o.applySetCell(addr, raw); return e },
		func() error { _, e := o.applySetCell(addr, oldRaw); return e },
	)
	return nil
}

func (o *Operations) checkCellBounds(addr cellval.CellAddress) error {
	if !o.state.Sheets.IsDefined(addr.Sheet) {
		return apperr.New(apperr.NotFound, apperr.InvalidSheet,
			fmt.Sprintf("sheet id %d does not exist", addr.Sheet))
	}
	if addr.Row >= o.state.Config.MaxRows {
		return apperr.SizeLimit("rows", o.state.Config.MaxRows, addr.Row+1)
	}
	if addr.Col >= o.state.Config.MaxColumns {
		return apperr.SizeLimit("columns", o.state.Config.MaxColumns, addr.Col+1)
	}
	return nil
}

// applySetCell performs the actual edit, returning the cell's previous raw
// content so the caller can build the inverse command.
func (o *Operations) applySetCell(addr cellval.CellAddress, raw string) (string, error) {
	g := o.state.Graph
	mapping := o.state.MappingFor(addr.Sheet)

	oldRaw := ""
	id, existed := mapping.Get(addr.Row, addr.Col)
	if existed {
		oldRaw = o.cellRaw(id)
		if v, ok := g.Vertex(id); ok && v.Formula != "" {
			o.state.AST.Remove(v.AST)
			graphbuilder.UnlinkPrecedents(o.state, id)
			g.SetFormula(id, "")
			g.SetAST(id, 0)
			if v.IsArray {
				o.clearSpill(addr, v.ArrayRows, v.ArrayCols)
			}
			g.SetArrayExtent(id, false, 0, 0)
		}
	}

	parsed := o.state.Content.Classify(raw)
	switch parsed.Kind {
	case contentparser.KindEmpty:
		if !existed {
			return oldRaw, nil
		}
		g.MarkDirty(id)
		if len(g.Dependents(id)) > 0 {
			// Still referenced: degrade to an empty vertex rather than
			// breaking the referencing formulas' edges.
			g.SetValue(id, cellval.Empty)
			return oldRaw, nil
		}
		g.RemoveVertex(id)
		mapping.Remove(addr.Row, addr.Col)
		o.state.Stats.RecordVertexDelta(-1)
		return oldRaw, nil
	default:
		if !existed {
			id = g.AddVertex(depgraph.Vertex{Kind: depgraph.VertexCell, Cell: addr})
			mapping.Set(addr.Row, addr.Col, id)
			o.state.Stats.RecordVertexDelta(1)
		}
	}

	if parsed.Kind == contentparser.KindFormula {
		node, err := formula.Parse(parsed.Formula, &formula.ParserContext{
			CurrentSheet: addr.Sheet,
			CurrentRow:   int64(addr.Row),
			CurrentCol:   int64(addr.Col),
			ResolveSheet: func(name string) (cellval.SheetID, bool) {
				return o.state.Sheets.Intern(name), true
			},
		})
		if err != nil {
			// A malformed formula is data, not an operation failure: the cell
			// holds a #NAME? value the way graphbuilder records a bulk-build
			// parse failure.
			g.SetValue(id, cellval.ErrorValue(cellval.ErrName, err.Error()))
			g.MarkDirty(id)
			return oldRaw, nil
		}
		astID := o.state.AST.Park(addr, node)
		g.SetFormula(id, parsed.Formula)
		g.SetAST(id, astID)
		graphbuilder.LinkReferences(o.state, id, addr, node)
		g.MarkDirty(id)
		return oldRaw, nil
	}

	g.SetValue(id, parsed.Literal)
	g.MarkDirty(id)
	return oldRaw, nil
}

// clearSpill removes the value vertices an array formula spilled outside
// its anchor, once the formula is edited away and no re-evaluation will
// reclaim them.
func (o *Operations) clearSpill(anchor cellval.CellAddress, rows, cols uint32) {
	mapping := o.state.MappingFor(anchor.Sheet)
	for r := uint32(0); r < rows; r++ {
		for c := uint32(0); c < cols; c++ {
			if r == 0 && c == 0 {
				continue
			}
			row, col := anchor.Row+r, anchor.Col+c
			id, ok := mapping.Get(row, col)
			if !ok {
				continue
			}
			if v, ok := o.state.Graph.Vertex(id); ok && v.Formula != "" {
				continue
			}
			o.state.Graph.MarkDirty(id)
			o.state.Graph.RemoveVertex(id)
			mapping.Remove(row, col)
			o.state.Stats.RecordVertexDelta(-1)
		}
	}
}

// cellRaw reconstructs the raw text a cell would have been typed as: the
// unparsed current formula for a formula cell, the literal's display text
// otherwise. Used to build inverse commands.
func (o *Operations) cellRaw(id cellval.VertexID) string {
	v, ok := o.state.Graph.Vertex(id)
	if !ok {
		return ""
	}
	if v.Formula != "" {
		if node, ok := o.state.AST.Materialize(v.AST); ok {
			return formula.Unparse(node, v.Cell, o.state.Sheets.Name)
		}
		return v.Formula
	}
	if v.Value.Kind == cellval.KindError {
		// The bare error token round-trips through the content parser; the
		// detail text would reclassify as a plain string.
		return v.Value.Err.Kind.String()
	}
	return v.Value.String()
}

// RawContent exposes cellRaw for the engine facade and the serialization
// layer: the text that, typed back into a cell, reproduces id's content.
func (o *Operations) RawContent(id cellval.VertexID) string { return o.cellRaw(id) }

// AddNamedExpression validates name uniqueness within scope, parses the
// expression, adds its vertex, and links its dependencies.
func (o *Operations) AddNamedExpression(scope namedexpr.Scope, name, expression string) error {
	if _, exists := o.state.Names.Lookup(scope, name); exists {
		return apperr.New(apperr.AlreadyExists, apperr.NamedExpressionNameInvalid,
			fmt.Sprintf("named expression %q already defined in this scope", name))
	}
	if err := o.applyAddNamed(scope, name, expression); err != nil {
		return err
	}
	o.record("addNamedExpression",
		func() error { return o.applyAddNamed(scope, name, expression) },
		func() error { return o.applyRemoveNamed(scope, name) },
	)
	return nil
}

func (o *Operations) applyAddNamed(scope namedexpr.Scope, name, expression string) error {
	g := o.state.Graph
	home := cellval.CellAddress{Sheet: scope.Sheet}

	id := g.AddVertex(depgraph.Vertex{Kind: depgraph.VertexNamed})
	if err := o.state.Names.Define(scope, name, id); err != nil {
		g.RemoveVertex(id)
		return err
	}
	o.state.Stats.RecordVertexDelta(1)

	parsed := o.state.Content.Classify(expression)
	if parsed.Kind == contentparser.KindFormula {
		node, err := formula.Parse(parsed.Formula, &formula.ParserContext{
			CurrentSheet: scope.Sheet,
			ResolveSheet: func(sheetName string) (cellval.SheetID, bool) {
				return o.state.Sheets.Intern(sheetName), true
			},
		})
		if err != nil {
			g.SetValue(id, cellval.ErrorValue(cellval.ErrName, err.Error()))
			g.MarkDirty(id)
			return nil
		}
		astID := o.state.AST.Park(home, node)
		g.SetFormula(id, parsed.Formula)
		g.SetAST(id, astID)
		graphbuilder.LinkReferences(o.state, id, home, node)
		g.MarkDirty(id)
		o.adoptPendingReferences(name, id)
		return nil
	}
	g.SetValue(id, parsed.Literal)
	g.MarkDirty(id)
	o.adoptPendingReferences(name, id)
	return nil
}

// adoptPendingReferences links formulas that referenced name before it was
// defined. Each candidate's current AST is re-checked, since a formula edited
// since it was queued may no longer mention the name at all.
func (o *Operations) adoptPendingReferences(name string, namedID cellval.VertexID) {
	g := o.state.Graph
	pending := o.state.PendingNames[name]
	if len(pending) == 0 {
		return
	}
	delete(o.state.PendingNames, name)
	for _, fid := range pending {
		v, ok := g.Vertex(fid)
		if !ok || v.Formula == "" {
			continue
		}
		node, ok := o.state.AST.Materialize(v.AST)
		if !ok || !referencesName(node, name) {
			continue
		}
		g.AddEdge(fid, namedID)
		g.MarkDirty(fid)
	}
}

func referencesName(n formula.Node, name string) bool {
	switch v := n.(type) {
	case *formula.NamedRefNode:
		return v.Name == name
	case *formula.BinaryOpNode:
		return referencesName(v.Left, name) || referencesName(v.Right, name)
	case *formula.UnaryOpNode:
		return referencesName(v.Operand, name)
	case *formula.FunctionCallNode:
		for _, arg := range v.Args {
			if referencesName(arg, name) {
				return true
			}
		}
	}
	return false
}

// RemoveNamedExpression removes name from scope; formulas still referencing
// it read #NAME? on their next evaluation.
func (o *Operations) RemoveNamedExpression(scope namedexpr.Scope, name string) error {
	id, exists := o.state.Names.Lookup(scope, name)
	if !exists {
		return apperr.New(apperr.NotFound, apperr.NamedExpressionNameInvalid,
			fmt.Sprintf("named expression %q not defined in this scope", name))
	}
	oldExpr := o.cellRaw(id)
	if err := o.applyRemoveNamed(scope, name); err != nil {
		return err
	}
	o.record("removeNamedExpression",
		func() error { return o.applyRemoveNamed(scope, name) },
		func() error { return o.applyAddNamed(scope, name, oldExpr) },
	)
	return nil
}

func (o *Operations) applyRemoveNamed(scope namedexpr.Scope, name string) error {
	id, exists := o.state.Names.Lookup(scope, name)
	if !exists {
		return nil
	}
	g := o.state.Graph
	if v, ok := g.Vertex(id); ok && v.Formula != "" {
		o.state.AST.Remove(v.AST)
		graphbuilder.UnlinkPrecedents(o.state, id)
	}
	// Formulas still naming this expression go back to the pending queue, so
	// a later re-definition re-links them without a graph rescan.
	for _, dep := range g.Dependents(id) {
		o.state.PendingNames[name] = append(o.state.PendingNames[name], dep)
	}
	g.MarkDirty(id)
	g.RemoveVertex(id)
	o.state.Stats.RecordVertexDelta(-1)
	o.state.Names.Remove(scope, name)
	return nil
}
