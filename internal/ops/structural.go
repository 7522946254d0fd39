package ops

import (
	"fmt"
	"sort"

	"github.com/driftline/formulacore/internal/address"
	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/asttransform"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/graphbuilder"
	"github.com/driftline/formulacore/internal/namedexpr"
)

// savedCell is one cell's address and raw content, captured before a
// destructive structural edit so the inverse command can restore it.
type savedCell struct {
	row, col uint32
	raw      string
}

// AddRows inserts count empty rows before row index `at` on sheet: records
// an InsertRow transform for the lazy AST service, shifts the address
// mapping and every straddling range, and moves the shifted vertices'
// addresses.
func (o *Operations) AddRows(sheet cellval.SheetID, at, count uint32) error {
	if err := o.checkStructural(sheet, count); err != nil {
		return err
	}
	rows, _ := o.state.MappingFor(sheet).Bounds()
	if rows+count > o.state.Config.MaxRows {
		return apperr.SizeLimit("rows", o.state.Config.MaxRows, rows+count)
	}
	o.applyInsert(asttransform.Transform{Kind: asttransform.InsertRow, Sheet: sheet, At: at, Count: count})
	o.record("addRows",
		func() error {
			o.applyInsert(asttransform.Transform{Kind: asttransform.InsertRow, Sheet: sheet, At: at, Count: count})
			return nil
		},
		func() error {
			_, err := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteRow, Sheet: sheet, At: at, Count: count})
			return err
		},
	)
	return nil
}

// AddColumns is the column analogue of AddRows.
func (o *Operations) AddColumns(sheet cellval.SheetID, at, count uint32) error {
	if err := o.checkStructural(sheet, count); err != nil {
		return err
	}
	_, cols := o.state.MappingFor(sheet).Bounds()
	if cols+count > o.state.Config.MaxColumns {
		return apperr.SizeLimit("columns", o.state.Config.MaxColumns, cols+count)
	}
	o.applyInsert(asttransform.Transform{Kind: asttransform.InsertCol, Sheet: sheet, At: at, Count: count})
	o.record("addColumns",
		func() error {
			o.applyInsert(asttransform.Transform{Kind: asttransform.InsertCol, Sheet: sheet, At: at, Count: count})
			return nil
		},
		func() error {
			_, err := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteCol, Sheet: sheet, At: at, Count: count})
			return err
		},
	)
	return nil
}

// RemoveRows deletes count rows starting at row index `at`. Formulas that
// referenced the deleted region read #REF! once their ASTs are next
// materialized; formulas that referenced shifted cells keep tracking them.
func (o *Operations) RemoveRows(sheet cellval.SheetID, at, count uint32) error {
	if err := o.checkStructural(sheet, count); err != nil {
		return err
	}
	saved, err := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteRow, Sheet: sheet, At: at, Count: count})
	if err != nil {
		return err
	}
	o.record("removeRows",
		func() error {
			_, e := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteRow, Sheet: sheet, At: at, Count: count})
			return e
		},
		func() error {
			o.applyInsert(asttransform.Transform{Kind: asttransform.InsertRow, Sheet: sheet, At: at, Count: count})
			return o.restoreCells(sheet, saved)
		},
	)
	return nil
}

// RemoveColumns is the column analogue of RemoveRows.
func (o *Operations) RemoveColumns(sheet cellval.SheetID, at, count uint32) error {
	if err := o.checkStructural(sheet, count); err != nil {
		return err
	}
	saved, err := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteCol, Sheet: sheet, At: at, Count: count})
	if err != nil {
		return err
	}
	o.record("removeColumns",
		func() error {
			_, e := o.applyDelete(asttransform.Transform{Kind: asttransform.DeleteCol, Sheet: sheet, At: at, Count: count})
			return e
		},
		func() error {
			o.applyInsert(asttransform.Transform{Kind: asttransform.InsertCol, Sheet: sheet, At: at, Count: count})
			return o.restoreCells(sheet, saved)
		},
	)
	return nil
}

func (o *Operations) checkStructural(sheet cellval.SheetID, count uint32) error {
	if !o.state.Sheets.IsDefined(sheet) {
		return apperr.New(apperr.NotFound, apperr.InvalidSheet,
			fmt.Sprintf("sheet id %d does not exist", sheet))
	}
	if count == 0 {
		return apperr.New(apperr.InvalidArgument, "", "count must be positive")
	}
	return nil
}

// applyInsert performs an InsertRow/InsertCol: log the transform, shift the
// mapping, the range table, and the moved vertices' stored addresses. No
// vertex is dirtied: an insertion moves content and references together, so
// no formula's value changes until a later edit touches the new rows.
func (o *Operations) applyInsert(t asttransform.Transform) {
	mapping := o.state.MappingFor(t.Sheet)
	axis := address.AxisRow
	axisIsRow := true
	if t.Kind == asttransform.InsertCol {
		axis = address.AxisCol
		axisIsRow = false
	}
	o.state.AST.RecordTransform(t)
	mapping.ResizeOnInsertRowCol(axis, t.At, int64(t.Count))
	o.state.Ranges.ResizeOnInsertRowCol(t.Sheet, axisIsRow, t.At, int64(t.Count))
	o.reanchorVertices(t.Sheet)
}

// applyDelete performs a DeleteRow/DeleteCol. The deleted band's vertices
// are removed first (dirtying their dependents so they re-evaluate against
// the #REF! rewrites) and their raw contents are returned for the inverse
// command. The mapping resize then only ever shifts surviving cells.
func (o *Operations) applyDelete(t asttransform.Transform) ([]savedCell, error) {
	g := o.state.Graph
	mapping := o.state.MappingFor(t.Sheet)
	axis := address.AxisRow
	axisIsRow := true
	if t.Kind == asttransform.DeleteCol {
		axis = address.AxisCol
		axisIsRow = false
	}

	// Collect the band, deterministically ordered for the saved-contents log.
	type doomed struct {
		row, col uint32
		id       cellval.VertexID
	}
	var band []doomed
	mapping.IterateAll(func(row, col uint32, id cellval.VertexID) bool {
		pos := row
		if !axisIsRow {
			pos = col
		}
		if pos >= t.At && pos < t.At+t.Count {
			band = append(band, doomed{row, col, id})
		}
		return true
	})
	sort.Slice(band, func(i, j int) bool {
		if band[i].row != band[j].row {
			return band[i].row < band[j].row
		}
		return band[i].col < band[j].col
	})

	saved := make([]savedCell, 0, len(band))
	for _, d := range band {
		saved = append(saved, savedCell{row: d.row, col: d.col, raw: o.cellRaw(d.id)})
		if v, ok := g.Vertex(d.id); ok && v.Formula != "" {
			o.state.AST.Remove(v.AST)
			graphbuilder.UnlinkPrecedents(o.state, d.id)
		}
		g.MarkDirty(d.id)
		g.RemoveVertex(d.id)
		mapping.Remove(d.row, d.col)
		o.state.Stats.RecordVertexDelta(-1)
	}

	o.state.AST.RecordTransform(t)
	mapping.ResizeOnInsertRowCol(axis, t.At, -int64(t.Count))
	o.state.Ranges.ResizeOnInsertRowCol(t.Sheet, axisIsRow, t.At, -int64(t.Count))
	o.reanchorVertices(t.Sheet)
	return saved, nil
}

// reanchorVertices re-stamps every vertex's stored address from its current
// mapping position after a structural shift. The vertex keeps its identity
// and edges, only its coordinates move.
func (o *Operations) reanchorVertices(sheet cellval.SheetID) {
	mapping := o.state.MappingFor(sheet)
	mapping.IterateAll(func(row, col uint32, id cellval.VertexID) bool {
		o.state.Graph.SetAddress(id, cellval.CellAddress{Sheet: sheet, Row: row, Col: col})
		return true
	})
}

func (o *Operations) restoreCells(sheet cellval.SheetID, saved []savedCell) error {
	for _, s := range saved {
		if s.raw == "" {
			continue
		}
		if _, err := o.applySetCell(cellval.CellAddress{Sheet: sheet, Row: s.row, Col: s.col}, s.raw); err != nil {
			return err
		}
	}
	return nil
}

// AddSheet creates a new, empty sheet. Fails if the name is already defined.
func (o *Operations) AddSheet(name string) (cellval.SheetID, error) {
	if id, ok := o.state.Sheets.Lookup(name); ok && o.state.Sheets.IsDefined(id) {
		return cellval.SheetID(0), apperr.New(apperr.AlreadyExists, apperr.InvalidSheet,
			fmt.Sprintf("sheet %q already exists", name))
	}
	id := o.applyAddSheet(name)
	o.record("addSheet",
		func() error { o.applyAddSheet(name); return nil },
		func() error { _, err := o.applyRemoveSheet(name); return err },
	)
	return id, nil
}

func (o *Operations) applyAddSheet(name string) cellval.SheetID {
	id := o.state.Sheets.Define(name)
	if _, ok := o.state.Addrs[id]; !ok {
		o.state.Addrs[id] = address.NewMapping(id, address.Sparse, 0, 0)
	}
	return id
}

// RemoveSheet deletes a sheet and all its contents. Cross-sheet formulas
// that still reference the name resolve to the same (now undefined) id and
// read empty/#REF! on their next evaluation.
func (o *Operations) RemoveSheet(name string) error {
	id, ok := o.state.Sheets.Lookup(name)
	if !ok || !o.state.Sheets.IsDefined(id) {
		return apperr.New(apperr.NotFound, apperr.InvalidSheet,
			fmt.Sprintf("no such sheet %q", name))
	}
	saved, err := o.applyRemoveSheet(name)
	if err != nil {
		return err
	}
	o.record("removeSheet",
		func() error { _, e := o.applyRemoveSheet(name); return e },
		func() error {
			sheetID := o.applyAddSheet(name)
			return o.restoreCells(sheetID, saved)
		},
	)
	return nil
}

func (o *Operations) applyRemoveSheet(name string) ([]savedCell, error) {
	id, ok := o.state.Sheets.Lookup(name)
	if !ok {
		return nil, nil
	}
	g := o.state.Graph
	mapping := o.state.MappingFor(id)

	type doomed struct {
		row, col uint32
		id       cellval.VertexID
	}
	var cells []doomed
	mapping.IterateAll(func(row, col uint32, vid cellval.VertexID) bool {
		cells = append(cells, doomed{row, col, vid})
		return true
	})
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].row != cells[j].row {
			return cells[i].row < cells[j].row
		}
		return cells[i].col < cells[j].col
	})

	saved := make([]savedCell, 0, len(cells))
	for _, c := range cells {
		saved = append(saved, savedCell{row: c.row, col: c.col, raw: o.cellRaw(c.id)})
		if v, ok := g.Vertex(c.id); ok && v.Formula != "" {
			o.state.AST.Remove(v.AST)
			graphbuilder.UnlinkPrecedents(o.state, c.id)
		}
		g.MarkDirty(c.id)
		g.RemoveVertex(c.id)
		o.state.Stats.RecordVertexDelta(-1)
	}

	// Sheet-scoped named expressions go with the sheet.
	scope := namedexpr.PerSheet(id)
	for _, exprName := range o.state.Names.ListNames(scope) {
		if err := o.applyRemoveNamed(scope, exprName); err != nil {
			return saved, err
		}
	}

	delete(o.state.Addrs, id)
	o.state.Sheets.Undefine(id)
	return saved, nil
}

// RenameSheet rebinds a sheet's name. Formulas hold SheetIDs, not names, so
// no AST changes: they unparse with the new name automatically.
func (o *Operations) RenameSheet(oldName, newName string) error {
	if _, err := o.state.Sheets.Rename(oldName, newName); err != nil {
		return err
	}
	o.record("renameSheet",
		func() error { _, e := o.state.Sheets.Rename(oldName, newName); return e },
		func() error { _, e := o.state.Sheets.Rename(newName, oldName); return e },
	)
	return nil
}
