// Package asttransform implements the lazy AST transform service: an
// append-only log of structural transforms (row/column insert/delete)
// applied to a parked AST only when it is next needed, instead of eagerly
// rewriting every formula's references the moment a row or column moves.
// Every parked AST remembers the home-cell coordinate and log position
// ("version") it was last synced to; Materialize replays whichever
// transforms it missed. The transform log replaces what would otherwise be
// a global mutation: AST ownership is exclusive to this service, and
// formula cells hold only stable ids.
package asttransform

import (
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/formula"
)

// Kind tags which structural edit a Transform records.
type Kind int

const (
	InsertRow Kind = iota
	DeleteRow
	InsertCol
	DeleteCol
)

// Transform is one structural edit: inserting or deleting `Count` rows/
// columns at position `At` on sheet `Sheet`.
type Transform struct {
	Kind  Kind
	Sheet cellval.SheetID
	At    uint32
	Count uint32
}

// Inverse returns the structural opposite of t (insert <-> delete at the
// same position/count), the building block for undo. Note this only
// inverts reference *shifting*; a deleted row's actual cell contents are
// restored by internal/ops's UndoLog, not by this service. A reference
// that was rewritten to #REF! by the original delete stays #REF! after an
// undo that re-inserts the row, the same information loss a real
// spreadsheet exhibits when the deleted cells' formulas are gone for good.
func (t Transform) Inverse() Transform {
	switch t.Kind {
	case InsertRow:
		return Transform{Kind: DeleteRow, Sheet: t.Sheet, At: t.At, Count: t.Count}
	case DeleteRow:
		return Transform{Kind: InsertRow, Sheet: t.Sheet, At: t.At, Count: t.Count}
	case InsertCol:
		return Transform{Kind: DeleteCol, Sheet: t.Sheet, At: t.At, Count: t.Count}
	default: // DeleteCol
		return Transform{Kind: InsertCol, Sheet: t.Sheet, At: t.At, Count: t.Count}
	}
}

func (t Transform) isRow() bool { return t.Kind == InsertRow || t.Kind == DeleteRow }
func (t Transform) delta() int64 {
	if t.Kind == InsertRow || t.Kind == InsertCol {
		return int64(t.Count)
	}
	return -int64(t.Count)
}

// ASTID is a stable handle a formula cell vertex holds instead of owning
// its AST directly.
type ASTID uint64

type entry struct {
	node    formula.Node
	home    cellval.CellAddress
	version int
}

// Service is the LazyAstTransformService.
type Service struct {
	log     []Transform
	entries map[ASTID]*entry
	nextID  ASTID
}

// New creates an empty Service.
func New() *Service {
	return &Service{entries: make(map[ASTID]*entry)}
}

// RecordTransform appends t to the log. Every AST parked before this call is
// now one version behind; it will be caught up the next time it's
// Materialize-d, never eagerly.
func (s *Service) RecordTransform(t Transform) {
	s.log = append(s.log, t)
}

// Version returns the current log length, the version a freshly Park-ed
// AST is considered up to date with.
func (s *Service) Version() int { return len(s.log) }

// Park records node as parsed at home, current as of this call. Returns a
// stable ASTID for later Materialize/Remove calls.
func (s *Service) Park(home cellval.CellAddress, node formula.Node) ASTID {
	s.nextID++
	id := s.nextID
	s.entries[id] = &entry{node: node, home: home, version: len(s.log)}
	return id
}

// Remove evicts id's entry (the cell was cleared or reclassified to a
// non-formula value).
func (s *Service) Remove(id ASTID) { delete(s.entries, id) }

// Materialize advances id's AST through every transform recorded since it
// was last synced, rewriting references in place, and returns the
// now-current node. Returns false if id is unknown.
func (s *Service) Materialize(id ASTID) (formula.Node, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	for v := e.version; v < len(s.log); v++ {
		t := s.log[v]
		e.node = rewrite(e.node, e.home, t)
		e.home = shiftAddress(e.home, t)
	}
	e.version = len(s.log)
	return e.node, true
}

// shiftAddress moves addr according to t, if addr is on the affected sheet
// and axis. An address inside a deleted region is left alone here: callers
// care about *reference* deletion (handled in rewrite's shiftCoord), not
// about the home cell itself ever landing in a deleted region, since the
// home cell's own removal is handled by internal/ops before a transform is
// even recorded for it.
func shiftAddress(addr cellval.CellAddress, t Transform) cellval.CellAddress {
	if addr.Sheet != t.Sheet {
		return addr
	}
	if t.isRow() {
		newRow, _ := shiftCoord(addr.Row, t.At, t.Count, t.delta())
		addr.Row = newRow
	} else {
		newCol, _ := shiftCoord(addr.Col, t.At, t.Count, t.delta())
		addr.Col = newCol
	}
	return addr
}

// shiftCoord shifts a single row/column coordinate v by an insert/delete of
// count positions at `at`. deleted reports whether v fell inside a deleted
// region and no longer has a meaningful position.
func shiftCoord(v, at, count uint32, delta int64) (newV uint32, deleted bool) {
	if delta > 0 { // insertion
		if v >= at {
			return v + uint32(delta), false
		}
		return v, false
	}
	// deletion
	if v >= at && v < at+count {
		return 0, true
	}
	if v >= at+count {
		return uint32(int64(v) + delta), false
	}
	return v, false
}

// rewrite walks n, shifting every CellRefNode/RangeNode whose resolved
// sheet matches t.Sheet, using home (the node's home address *before* t is
// applied) to resolve each reference's absolute target. A reference that
// lands inside a deleted region becomes an ErrorLiteralNode(#REF!) in situ.
// Nodes with no reference inside them (literals, named refs) pass through
// unchanged.
func rewrite(n formula.Node, home cellval.CellAddress, t Transform) formula.Node {
	switch v := n.(type) {
	case *formula.CellRefNode:
		return rewriteCellRef(v, home, t)
	case *formula.RangeNode:
		return rewriteRange(v, home, t)
	case *formula.BinaryOpNode:
		v.Left = rewrite(v.Left, home, t)
		v.Right = rewrite(v.Right, home, t)
		return v
	case *formula.UnaryOpNode:
		v.Operand = rewrite(v.Operand, home, t)
		return v
	case *formula.FunctionCallNode:
		for i, arg := range v.Args {
			v.Args[i] = rewrite(arg, home, t)
		}
		return v
	default:
		return n
	}
}

func refSheet(sheetBound bool, sheet, homeSheet cellval.SheetID) cellval.SheetID {
	if sheetBound {
		return sheet
	}
	return homeSheet
}

func rewriteCellRef(v *formula.CellRefNode, home cellval.CellAddress, t Transform) formula.Node {
	sheet := refSheet(v.SheetBound, v.Sheet, home.Sheet)
	if sheet != t.Sheet {
		return v
	}
	row := int64(home.Row) + v.RowOffset
	col := int64(home.Col) + v.ColOffset
	if row < 0 || col < 0 {
		return v
	}
	var newRow, newCol uint32
	var rowDeleted, colDeleted bool
	if t.isRow() {
		newRow, rowDeleted = shiftCoord(uint32(row), t.At, t.Count, t.delta())
		newCol = uint32(col)
	} else {
		newCol, colDeleted = shiftCoord(uint32(col), t.At, t.Count, t.delta())
		newRow = uint32(row)
	}
	if rowDeleted || colDeleted {
		return &formula.ErrorLiteralNode{Kind: cellval.ErrRef, Pos: v.Pos}
	}
	newHome := shiftAddress(home, t)
	v.RowOffset = int64(newRow) - int64(newHome.Row)
	v.ColOffset = int64(newCol) - int64(newHome.Col)
	return v
}

func rewriteRange(v *formula.RangeNode, home cellval.CellAddress, t Transform) formula.Node {
	sheet := refSheet(v.SheetBound, v.Sheet, home.Sheet)
	if sheet != t.Sheet {
		return v
	}
	startRow := int64(home.Row) + v.StartRowOffset
	startCol := int64(home.Col) + v.StartColOffset
	endRow := int64(home.Row) + v.EndRowOffset
	endCol := int64(home.Col) + v.EndColOffset
	if startRow < 0 || startCol < 0 || endRow < 0 || endCol < 0 {
		return v
	}

	var newStartRow, newEndRow, newStartCol, newEndCol uint32
	var startDeleted, endDeleted bool
	if t.isRow() {
		newStartRow, startDeleted = shiftCoord(uint32(startRow), t.At, t.Count, t.delta())
		newEndRow, endDeleted = shiftCoord(uint32(endRow), t.At, t.Count, t.delta())
		newStartCol, newEndCol = uint32(startCol), uint32(endCol)
	} else {
		newStartCol, startDeleted = shiftCoord(uint32(startCol), t.At, t.Count, t.delta())
		newEndCol, endDeleted = shiftCoord(uint32(endCol), t.At, t.Count, t.delta())
		newStartRow, newEndRow = uint32(startRow), uint32(endRow)
	}
	if startDeleted && endDeleted {
		// The entire range fell inside the deleted region.
		return &formula.ErrorLiteralNode{Kind: cellval.ErrRef, Pos: v.Pos}
	}
	// A range with one endpoint deleted shrinks rather than becoming a #REF!
	// wholesale. Deleting the first row of SUM(A1:A10) leaves SUM(A1:A9)
	// addressing what remains, the spreadsheet-standard behavior for a
	// partially-consumed range. A deleted start clamps to the cut position
	// (the first surviving coordinate after the shift); a deleted end clamps
	// to the coordinate just before the cut.
	if startDeleted {
		if t.isRow() {
			newStartRow = t.At
		} else {
			newStartCol = t.At
		}
	}
	if endDeleted {
		if t.isRow() {
			newEndRow = t.At - 1
		} else {
			newEndCol = t.At - 1
		}
	}

	newHome := shiftAddress(home, t)
	v.StartRowOffset = int64(newStartRow) - int64(newHome.Row)
	v.StartColOffset = int64(newStartCol) - int64(newHome.Col)
	v.EndRowOffset = int64(newEndRow) - int64(newHome.Row)
	v.EndColOffset = int64(newEndCol) - int64(newHome.Col)
	return v
}
