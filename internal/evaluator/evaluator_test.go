package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/config"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
	"github.com/driftline/formulacore/internal/graphbuilder"
)

type steppedRandom struct{ values []float64 }

func (r *steppedRandom) Float64() float64 {
	v := r.values[0]
	if len(r.values) > 1 {
		r.values = r.values[1:]
	}
	return v
}

func build(t *testing.T, data graphbuilder.SheetData) (*engstate.State, *Evaluator) {
	t.Helper()
	state := engstate.New(config.Default())
	require.NoError(t, graphbuilder.BuildSheet(state, "Sheet1", data))
	return state, New(state)
}

func read(t *testing.T, state *engstate.State, row, col uint32) cellval.CellValue {
	t.Helper()
	sheet, _ := state.Sheets.Lookup("Sheet1")
	id, ok := state.MappingFor(sheet).Get(row, col)
	if !ok {
		return cellval.Empty
	}
	v, ok := state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty
	}
	return v.Value
}

func TestVolatileFormulaReevaluatesEveryPass(t *testing.T) {
	state, eval := build(t, graphbuilder.SheetData{{"=RAND()"}})
	state.Interp.Random = &steppedRandom{values: []float64{0.1, 0.2, 0.3}}

	eval.Run()
	assert.Equal(t, 0.1, read(t, state, 0, 0).Num)

	// Nothing was edited, but the volatile cell recomputes anyway.
	eval.Run()
	assert.Equal(t, 0.2, read(t, state, 0, 0).Num)

	eval.Run()
	assert.Equal(t, 0.3, read(t, state, 0, 0).Num)
}

func TestNonVolatileFormulaIsNotRecomputed(t *testing.T) {
	state, eval := build(t, graphbuilder.SheetData{{"1", "=A1+1"}})
	eval.Run()
	assert.Equal(t, 2.0, read(t, state, 0, 1).Num)

	// Tamper with the cached value directly: a second pass with no dirty
	// vertices must not overwrite it.
	sheet, _ := state.Sheets.Lookup("Sheet1")
	id, _ := state.MappingFor(sheet).Get(0, 1)
	state.Graph.SetValue(id, cellval.Number(99))
	eval.Run()
	assert.Equal(t, 99.0, read(t, state, 0, 1).Num)
}

func TestRangeResultSpillsBelowAnchor(t *testing.T) {
	state, eval := build(t, graphbuilder.SheetData{
		{"1", "", "=A1:A2"},
		{"2"},
	})
	eval.Run()

	assert.Equal(t, 1.0, read(t, state, 0, 2).Num, "anchor takes the first scalar")
	assert.Equal(t, 2.0, read(t, state, 1, 2).Num, "second cell spills below")

	sheet, _ := state.Sheets.Lookup("Sheet1")
	id, _ := state.MappingFor(sheet).Get(0, 2)
	v, _ := state.Graph.Vertex(id)
	assert.True(t, v.IsArray)
	assert.Equal(t, uint32(2), v.ArrayRows)
	assert.Equal(t, uint32(1), v.ArrayCols)
}

func TestShrinkingArrayClearsOldSpill(t *testing.T) {
	state, eval := build(t, graphbuilder.SheetData{
		{"1", "", "=A1:A2"},
		{"2"},
	})
	eval.Run()
	require.Equal(t, 2.0, read(t, state, 1, 2).Num)

	// Re-point the formula at a single cell; the old spill cell must go.
	sheet, _ := state.Sheets.Lookup("Sheet1")
	id, _ := state.MappingFor(sheet).Get(0, 2)
	node, err := formula.Parse("=A1:A1", &formula.ParserContext{
		CurrentSheet: sheet,
		CurrentRow:   0,
		CurrentCol:   2,
		ResolveSheet: func(name string) (cellval.SheetID, bool) {
			return state.Sheets.Intern(name), true
		},
	})
	require.NoError(t, err)
	astID := state.AST.Park(cellval.CellAddress{Sheet: sheet, Row: 0, Col: 2}, node)
	state.Graph.SetFormula(id, "=A1:A1")
	state.Graph.SetAST(id, astID)
	state.Graph.MarkDirty(id)
	eval.Run()

	assert.Equal(t, 1.0, read(t, state, 0, 2).Num)
	assert.True(t, read(t, state, 1, 2).IsEmpty(), "stale spill cell survived the shrink")
}

func TestStrictModeFlagsWholeComponent(t *testing.T) {
	state, eval := build(t, graphbuilder.SheetData{{"=B1", "=A1", "=B1+1"}})
	eval.Run()

	for col := uint32(0); col < 2; col++ {
		v := read(t, state, 0, col)
		require.True(t, v.IsError(), "cycle member %d not an error", col)
		assert.Equal(t, cellval.ErrCycle, v.Err.Kind)
	}
	// The downstream formula consumes the cycle error.
	v := read(t, state, 0, 2)
	require.True(t, v.IsError())
	assert.Equal(t, cellval.ErrCycle, v.Err.Kind)
}
