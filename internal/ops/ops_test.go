package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/config"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/evaluator"
	"github.com/driftline/formulacore/internal/graphbuilder"
)

type fixture struct {
	state *engstate.State
	ops   *Operations
	eval  *evaluator.Evaluator
	sheet cellval.SheetID
}

func newFixture(t *testing.T, data graphbuilder.SheetData) *fixture {
	t.Helper()
	state := engstate.New(config.Default())
	require.NoError(t, graphbuilder.BuildSheet(state, "Sheet1", data))
	sheet, _ := state.Sheets.Lookup("Sheet1")
	return &fixture{
		state: state,
		ops:   New(state),
		eval:  evaluator.New(state),
		sheet: sheet,
	}
}

func (f *fixture) addr(row, col uint32) cellval.CellAddress {
	return cellval.CellAddress{Sheet: f.sheet, Row: row, Col: col}
}

func (f *fixture) value(t *testing.T, row, col uint32) cellval.CellValue {
	t.Helper()
	f.eval.Run()
	id, ok := f.state.MappingFor(f.sheet).Get(row, col)
	if !ok {
		return cellval.Empty
	}
	v, ok := f.state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty
	}
	return v.Value
}

func TestSetCellContentsRewiresEdges(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"1", "2", "=A1"}})
	assert.Equal(t, 1.0, f.value(t, 0, 2).Num)

	require.NoError(t, f.ops.SetCellContents(f.addr(0, 2), "=B1"))
	assert.Equal(t, 2.0, f.value(t, 0, 2).Num)

	// The old A1 edge is gone: editing A1 no longer dirties C1.
	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), "99"))
	cID, _ := f.state.MappingFor(f.sheet).Get(0, 2)
	assert.False(t, f.state.Graph.IsDirty(cID), "C1 dirtied through a removed edge")
}

func TestRangeVertexCollectedWithLastConsumer(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"1"}, {"2"}, {"=SUM(A1:A2)"}})
	assert.Equal(t, 3.0, f.value(t, 2, 0).Num)

	rangeAddr := cellval.RangeAddress{Sheet: f.sheet, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 0}
	rangeID, ok := f.state.Ranges.Lookup(rangeAddr)
	require.True(t, ok, "range vertex should exist while a formula consumes it")

	require.NoError(t, f.ops.SetCellContents(f.addr(2, 0), "7"))

	_, stillBound := f.state.Ranges.Lookup(rangeAddr)
	assert.False(t, stillBound, "range binding survived its last consumer")
	_, alive := f.state.Graph.Vertex(rangeID)
	assert.False(t, alive, "range vertex survived its last consumer")
}

func TestClearingReferencedCellKeepsVertex(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"5", "=A1+1"}})
	assert.Equal(t, 6.0, f.value(t, 0, 1).Num)

	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), ""))

	// A1 still has a dependent, so it degrades to an empty vertex instead of
	// disappearing, and B1 recomputes against Empty (coerced to 0).
	_, present := f.state.MappingFor(f.sheet).Get(0, 0)
	assert.True(t, present)
	assert.Equal(t, 1.0, f.value(t, 0, 1).Num)
}

func TestClearingUnreferencedCellRemovesVertex(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"5"}})
	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), ""))
	_, present := f.state.MappingFor(f.sheet).Get(0, 0)
	assert.False(t, present)
}

func TestUndoRestoresFormula(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"2", "=A1*10"}})
	assert.Equal(t, 20.0, f.value(t, 0, 1).Num)

	require.NoError(t, f.ops.SetCellContents(f.addr(0, 1), "0"))
	assert.Equal(t, 0.0, f.value(t, 0, 1).Num)

	require.NoError(t, f.ops.Undo())
	assert.Equal(t, 20.0, f.value(t, 0, 1).Num)

	// The restored cell is a live formula again, not a frozen value.
	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), "3"))
	assert.Equal(t, 30.0, f.value(t, 0, 1).Num)
}

func TestRedoClearedByNewEdit(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"1"}})
	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), "2"))
	require.NoError(t, f.ops.Undo())
	require.Equal(t, 1, f.ops.RedoDepth())

	require.NoError(t, f.ops.SetCellContents(f.addr(0, 0), "9"))
	assert.Equal(t, 0, f.ops.RedoDepth(), "a fresh edit must drop the redo branch")
}

func TestAddRowsOutOfBoundsRejected(t *testing.T) {
	state := engstate.New(config.EngineConfig{MaxRows: 4, MaxColumns: 4, WhitespacePolicy: config.WhitespaceTrim})
	require.NoError(t, graphbuilder.BuildSheet(state, "Sheet1", graphbuilder.SheetData{{"1"}, {"2"}, {"3"}}))
	sheet, _ := state.Sheets.Lookup("Sheet1")
	o := New(state)

	err := o.AddRows(sheet, 0, 5)
	require.Error(t, err)
	// Nothing moved.
	id, ok := state.MappingFor(sheet).Get(0, 0)
	require.True(t, ok)
	v, _ := state.Graph.Vertex(id)
	assert.Equal(t, 1.0, v.Value.Num)
}

func TestRemoveColumnsAndUndo(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"1", "2", "=A1+B1"}})
	assert.Equal(t, 3.0, f.value(t, 0, 2).Num)

	require.NoError(t, f.ops.RemoveColumns(f.sheet, 0, 1))
	// Formula slid to column B; its A1 reference dangles.
	v := f.value(t, 0, 1)
	require.True(t, v.IsError())
	assert.Equal(t, cellval.ErrRef, v.Err.Kind)

	require.NoError(t, f.ops.Undo())
	assert.Equal(t, 1.0, f.value(t, 0, 0).Num)
}

func TestAddSheetDuplicateRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ops.AddSheet("Sheet1")
	require.Error(t, err)
}

func TestRemoveSheetAndUndo(t *testing.T) {
	f := newFixture(t, graphbuilder.SheetData{{"7", "=A1*2"}})
	assert.Equal(t, 14.0, f.value(t, 0, 1).Num)

	require.NoError(t, f.ops.RemoveSheet("Sheet1"))
	assert.False(t, f.state.Sheets.IsDefined(f.sheet))

	require.NoError(t, f.ops.Undo())
	assert.True(t, f.state.Sheets.IsDefined(f.sheet))
	assert.Equal(t, 7.0, f.value(t, 0, 0).Num)
	assert.Equal(t, 14.0, f.value(t, 0, 1).Num)
}

func TestTransactionIDsAreUnique(t *testing.T) {
	f := newFixture(t, nil)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		_, err := f.ops.AddSheet(string(rune('A' + i)))
		require.NoError(t, err)
	}
	for _, cmd := range f.ops.log.undo {
		require.False(t, seen[cmd.id], "duplicate transaction id %s", cmd.id)
		seen[cmd.id] = true
	}
}
