package formulacore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
)

func buildStrict(t *testing.T, sheet Sheet) *Engine {
	t.Helper()
	e, err := BuildFromSheets(map[string]Sheet{"Sheet1": sheet}, nil)
	require.NoError(t, err)
	return e
}

func buildTolerant(t *testing.T, sheet Sheet, seeds [][]any) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AllowCircularReferences = true
	if seeds != nil {
		cfg.InitialComputedValues = map[string][][]any{"Sheet1": seeds}
	}
	e, err := BuildFromSheets(map[string]Sheet{"Sheet1": sheet}, &cfg)
	require.NoError(t, err)
	return e
}

func cellAt(t *testing.T, e *Engine, ref string) CellValue {
	t.Helper()
	v, err := e.GetCellValue("Sheet1", ref)
	require.NoError(t, err)
	return v
}

func numAt(t *testing.T, e *Engine, ref string) float64 {
	t.Helper()
	v := cellAt(t, e, ref)
	require.Equal(t, cellval.KindNumber, v.Kind, "expected a number at %s, got %s", ref, v.String())
	return v.Num
}

func errKindAt(t *testing.T, e *Engine, ref string) ErrorKind {
	t.Helper()
	v := cellAt(t, e, ref)
	require.Equal(t, cellval.KindError, v.Kind, "expected an error at %s, got %s", ref, v.String())
	return v.Err.Kind
}

func TestSimpleCycleStrictMode(t *testing.T) {
	e := buildStrict(t, Sheet{{"=B1", "=A1"}})
	assert.Equal(t, ErrCycle, errKindAt(t, e, "A1"))
	assert.Equal(t, ErrCycle, errKindAt(t, e, "B1"))
}

func TestSelfReferenceStrictMode(t *testing.T) {
	e := buildStrict(t, Sheet{{"=A1"}})
	assert.Equal(t, ErrCycle, errKindAt(t, e, "A1"))
}

func TestTwoCellCycleTolerantWithSeeds(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=B1+1", "=A1+1"}}, [][]any{{200, 199}})
	assert.Equal(t, 200.0, numAt(t, e, "A1"))
	assert.Equal(t, 199.0, numAt(t, e, "B1"))
}

func TestThreeCellCycleTolerantSeeded(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=B1+1", "=C1+1", "=A1+1"}}, [][]any{{300, 299, 298}})
	assert.Equal(t, 300.0, numAt(t, e, "A1"))
	assert.Equal(t, 299.0, numAt(t, e, "B1"))
	assert.Equal(t, 298.0, numAt(t, e, "C1"))
}

func TestEditPropagatesThroughCycle(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=B1+C1", "=A1+1", "10"}}, [][]any{{1199, 1200, 10}})
	assert.Equal(t, 1199.0, numAt(t, e, "A1"))
	assert.Equal(t, 1200.0, numAt(t, e, "B1"))
	assert.Equal(t, 10.0, numAt(t, e, "C1"))

	require.NoError(t, e.SetCellContents("Sheet1", "C1", "20"))

	// A config seed feeds exactly one evaluation pass; the recompute after
	// the edit is a single pass in insertion order over the cycle, each
	// member reading the then-current cached values of the others.
	assert.Equal(t, 20.0, numAt(t, e, "C1"))
	assert.Equal(t, 1220.0, numAt(t, e, "A1")) // B1(1200) + C1(20)
	assert.Equal(t, 1221.0, numAt(t, e, "B1")) // A1(1220) + 1
}

func TestBreakingCycleWithConstantAssignment(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=B1+1", "=A1+1"}}, [][]any{{51, 50}})
	assert.Equal(t, 51.0, numAt(t, e, "A1"))
	assert.Equal(t, 50.0, numAt(t, e, "B1"))

	require.NoError(t, e.SetCellContents("Sheet1", "B1", "75"))
	assert.Equal(t, 76.0, numAt(t, e, "A1"))
	assert.Equal(t, 75.0, numAt(t, e, "B1"))
}

func TestErrorPropagationThroughCycle(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=B1+1", "=1/0"}}, nil)
	assert.Equal(t, ErrDivByZero, errKindAt(t, e, "B1"))
	assert.Equal(t, ErrDivByZero, errKindAt(t, e, "A1"))
}

func TestSelfCycleNoSeedReadsZero(t *testing.T) {
	e := buildTolerant(t, Sheet{{"=A1"}}, nil)
	assert.Equal(t, 0.0, numAt(t, e, "A1"))
}

func TestReferencedEmptyCellReadsEmpty(t *testing.T) {
	e := buildStrict(t, Sheet{{"=B1"}})
	v := cellAt(t, e, "A1")
	assert.True(t, v.IsEmpty(), "reference to a never-written cell reads Empty, got %s", v.String())
}

func TestStructuralEditWithLazyASTRewrite(t *testing.T) {
	e := buildStrict(t, Sheet{{"1", "2", "=A1+B1"}})
	assert.Equal(t, 3.0, numAt(t, e, "C1"))

	require.NoError(t, e.AddRows("Sheet1", 0, 1))

	text, isFormula, err := e.GetCellFormula("Sheet1", "C2")
	require.NoError(t, err)
	require.True(t, isFormula)
	assert.Equal(t, "=A2+B2", text)
	assert.Equal(t, 3.0, numAt(t, e, "C2"))

	v := cellAt(t, e, "C1")
	assert.True(t, v.IsEmpty(), "vacated row reads empty, got %s", v.String())
}

func TestInsertRowBeforeUnevaluatedFormula(t *testing.T) {
	// Same structural edit, but the formula has never been read (so never
	// evaluated) before the insert: the first read must materialize the
	// rewritten AST and still produce 3.
	e := buildStrict(t, Sheet{{"1", "2", "=A1+B1"}})
	require.NoError(t, e.AddRows("Sheet1", 0, 1))
	assert.Equal(t, 3.0, numAt(t, e, "C2"))
}

func TestRemoveRowsDanglesToRefError(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}, {"2"}, {"=A1+A2"}})
	assert.Equal(t, 3.0, numAt(t, e, "A3"))

	require.NoError(t, e.RemoveRows("Sheet1", 0, 1))

	// The formula shifted to A2; its reference to deleted row 1 is a #REF!.
	assert.Equal(t, ErrRef, errKindAt(t, e, "A2"))
}

func TestRemoveRowsShrinksStraddlingRange(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}, {"2"}, {"3"}, {"=SUM(A1:A3)"}})
	assert.Equal(t, 6.0, numAt(t, e, "A4"))

	require.NoError(t, e.RemoveRows("Sheet1", 1, 1))

	text, isFormula, err := e.GetCellFormula("Sheet1", "A3")
	require.NoError(t, err)
	require.True(t, isFormula)
	assert.Equal(t, "=SUM(A1:A2)", text)
	assert.Equal(t, 4.0, numAt(t, e, "A3"))
}

func TestSheetSizeLimitExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRows = 2
	_, err := BuildFromSheets(map[string]Sheet{"Sheet1": {{"1"}, {"2"}, {"3"}}}, &cfg)
	require.Error(t, err)
	var opErr *apperr.Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, apperr.SheetSizeLimitExceeded, opErr.Kind)
}

func TestSetCellBeyondLimitRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRows = 10
	e, err := BuildFromSheets(map[string]Sheet{"Sheet1": {{"1"}}}, &cfg)
	require.NoError(t, err)

	err = e.SetCellContents("Sheet1", "A11", "boom")
	require.Error(t, err)
	var opErr *apperr.Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, apperr.SheetSizeLimitExceeded, opErr.Kind)

	// All-or-nothing: the rejected write left nothing behind.
	v := cellAt(t, e, "A1")
	assert.Equal(t, 1.0, v.Num)
}

func TestUndoRedoCellEdit(t *testing.T) {
	e := buildStrict(t, Sheet{{"10", "=A1*2"}})
	assert.Equal(t, 20.0, numAt(t, e, "B1"))

	require.NoError(t, e.SetCellContents("Sheet1", "A1", "50"))
	assert.Equal(t, 100.0, numAt(t, e, "B1"))

	require.NoError(t, e.Undo())
	assert.Equal(t, 10.0, numAt(t, e, "A1"))
	assert.Equal(t, 20.0, numAt(t, e, "B1"))

	require.NoError(t, e.Redo())
	assert.Equal(t, 50.0, numAt(t, e, "A1"))
	assert.Equal(t, 100.0, numAt(t, e, "B1"))
}

func TestUndoRemoveRowsRestoresContents(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}, {"2"}, {"=SUM(A1:A2)"}})
	assert.Equal(t, 3.0, numAt(t, e, "A3"))

	require.NoError(t, e.RemoveRows("Sheet1", 0, 2))
	require.NoError(t, e.Undo())

	// The deleted band's contents come back via the inverse command.
	assert.Equal(t, 1.0, numAt(t, e, "A1"))
	assert.Equal(t, 2.0, numAt(t, e, "A2"))

	// The surviving formula's references do not: deleting both rows of
	// SUM(A1:A2) rewrote the range to #REF!, and the inverse transform only
	// reverses the shift, not the information loss, the same one-way
	// degradation a real spreadsheet shows when the cut is pasted back as
	// values. (asttransform.Transform.Inverse documents this contract.)
	assert.Equal(t, ErrRef, errKindAt(t, e, "A3"))
}

func TestUndoWithNothingToUndo(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}})
	require.Error(t, e.Undo())
}

func TestEditReclassifiesCellKind(t *testing.T) {
	e := buildStrict(t, Sheet{{"hello", "=LEN(A1)"}})
	assert.Equal(t, 5.0, numAt(t, e, "B1"))

	// literal -> formula
	require.NoError(t, e.SetCellContents("Sheet1", "A1", "=10*2"))
	assert.Equal(t, 20.0, numAt(t, e, "A1"))

	// formula -> literal, dependents follow
	require.NoError(t, e.SetCellContents("Sheet1", "B1", "7"))
	assert.Equal(t, 7.0, numAt(t, e, "B1"))

	// clear
	require.NoError(t, e.SetCellContents("Sheet1", "A1", ""))
	assert.True(t, cellAt(t, e, "A1").IsEmpty())
}

func TestNamedExpressions(t *testing.T) {
	e := buildStrict(t, Sheet{{"100", "=A1*TaxRate"}})
	require.NoError(t, e.AddNamedExpression("TaxRate", "=0.2", ""))
	assert.Equal(t, 20.0, numAt(t, e, "B1"))

	v, err := e.GetNamedExpressionValue("TaxRate", "")
	require.NoError(t, err)
	assert.Equal(t, 0.2, v.Num)

	require.NoError(t, e.RemoveNamedExpression("TaxRate", ""))
	assert.Equal(t, ErrName, errKindAt(t, e, "B1"))
}

func TestNamedExpressionDuplicateRejected(t *testing.T) {
	e := buildStrict(t, nil)
	require.NoError(t, e.AddNamedExpression("Rate", "=1", ""))
	err := e.AddNamedExpression("Rate", "=2", "")
	require.Error(t, err)
	var opErr *apperr.Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, apperr.AlreadyExists, opErr.Code)
}

func TestNamedExpressionInvalidNameRejected(t *testing.T) {
	e := buildStrict(t, nil)
	err := e.AddNamedExpression("A1", "=1", "")
	require.Error(t, err)
	var opErr *apperr.Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, apperr.NamedExpressionNameInvalid, opErr.Kind)
}

func TestCrossSheetReference(t *testing.T) {
	e, err := BuildFromSheets(map[string]Sheet{
		"Data":    {{"41"}},
		"Summary": {{"=Data!A1+1"}},
	}, nil)
	require.NoError(t, err)
	v, err := e.GetCellValue("Summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Num)
}

func TestSheetLifecycle(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}})
	require.NoError(t, e.AddSheet("Extra"))
	assert.Equal(t, []string{"Sheet1", "Extra"}, e.Sheets())

	require.NoError(t, e.RenameSheet("Extra", "Scratch"))
	assert.Equal(t, []string{"Sheet1", "Scratch"}, e.Sheets())

	require.NoError(t, e.RemoveSheet("Scratch"))
	assert.Equal(t, []string{"Sheet1"}, e.Sheets())

	err := e.RemoveSheet("Scratch")
	require.Error(t, err)
}

func TestRenamedSheetFormulasUnparseWithNewName(t *testing.T) {
	e, err := BuildFromSheets(map[string]Sheet{
		"Data":    {{"5"}},
		"Summary": {{"=Data!A1"}},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.RenameSheet("Data", "Inputs"))

	text, isFormula, err := e.GetCellFormula("Summary", "A1")
	require.NoError(t, err)
	require.True(t, isFormula)
	assert.Equal(t, "=Inputs!A1", text)
}

func TestBuildFromSheetRemapsSeeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowCircularReferences = true
	cfg.InitialComputedValues = map[string][][]any{"MyData": {{200, 199}}}
	e, err := BuildFromSheet(Sheet{{"=B1+1", "=A1+1"}}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1"}, e.Sheets())
	assert.Equal(t, 200.0, numAt(t, e, "A1"))
	assert.Equal(t, 199.0, numAt(t, e, "B1"))
}

func TestBuildEmptyThenPopulate(t *testing.T) {
	e, err := BuildEmpty(nil)
	require.NoError(t, err)
	require.NoError(t, e.AddSheet("Sheet1"))
	require.NoError(t, e.SetCellContents("Sheet1", "A1", "2"))
	require.NoError(t, e.SetCellContents("Sheet1", "A2", "=A1^10"))
	assert.Equal(t, 1024.0, numAt(t, e, "A2"))
}

func TestRebuildWithConfig(t *testing.T) {
	e := buildStrict(t, Sheet{{"=B1", "=A1"}})
	assert.Equal(t, ErrCycle, errKindAt(t, e, "A1"))

	cfg := DefaultConfig()
	cfg.AllowCircularReferences = true
	rebuilt, err := e.RebuildWithConfig(cfg)
	require.NoError(t, err)

	v, err := rebuilt.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, cellval.KindNumber, v.Kind, "tolerant rebuild evaluates the cycle with default seeds")
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRows = 0
	_, err := BuildFromSheets(nil, &cfg)
	require.Error(t, err)
	var opErr *apperr.Error
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, apperr.ConfigType, opErr.Kind)
}

func TestStatsRecording(t *testing.T) {
	e := buildStrict(t, Sheet{{"1", "=A1+1"}})
	_ = cellAt(t, e, "B1")
	require.NoError(t, e.SetCellContents("Sheet1", "A1", "2"))
	_ = cellAt(t, e, "B1")

	snap := e.Stats()
	assert.GreaterOrEqual(t, snap.EvaluationPasses, int64(2))
	assert.Equal(t, int64(1), snap.Operations["setCellContents"])
	assert.Greater(t, snap.VertexCount, int64(0))
}

func TestStatsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseStats = false
	e, err := BuildFromSheets(map[string]Sheet{"Sheet1": {{"1"}}}, &cfg)
	require.NoError(t, err)
	_ = cellAt(t, e, "A1")
	assert.Equal(t, int64(0), e.Stats().EvaluationPasses)
}

func TestRangeFunctions(t *testing.T) {
	e := buildStrict(t, Sheet{
		{"1", "2"},
		{"3", "4"},
		{"=SUM(A1:B2)", "=AVERAGE(A1:A2)"},
	})
	assert.Equal(t, 10.0, numAt(t, e, "A3"))
	assert.Equal(t, 2.0, numAt(t, e, "B3"))
}

func TestRangeTracksEdits(t *testing.T) {
	e := buildStrict(t, Sheet{{"1"}, {"2"}, {"=SUM(A1:A2)"}})
	assert.Equal(t, 3.0, numAt(t, e, "A3"))
	require.NoError(t, e.SetCellContents("Sheet1", "A2", "40"))
	assert.Equal(t, 41.0, numAt(t, e, "A3"))
}

func TestLookupFunctions(t *testing.T) {
	e := buildStrict(t, Sheet{
		{"apple", "10"},
		{"pear", "20"},
		{"plum", "30"},
		{`=VLOOKUP("pear",A1:B3,2,FALSE)`, `=MATCH("plum",A1:A3,0)`},
	})
	assert.Equal(t, 20.0, numAt(t, e, "A4"))
	assert.Equal(t, 3.0, numAt(t, e, "B4"))
}
