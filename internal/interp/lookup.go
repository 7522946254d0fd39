package interp

import (
	"math"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/formula"
)

// Lookup functions route through the engine's column search index
// (internal/colsearch) rather than scanning inline, so the strategy chosen
// at engine construction governs every MATCH/VLOOKUP on the instance.

// firstColumn extracts the leftmost column of a range argument. A scalar
// argument is treated as a 1x1 column, matching how Excel degrades
// single-cell lookup ranges.
func firstColumn(v formula.Value) []cellval.CellValue {
	if !v.IsMatrix() {
		return []cellval.CellValue{v.Scalar}
	}
	out := make([]cellval.CellValue, 0, len(v.Matrix))
	for _, row := range v.Matrix {
		if len(row) == 0 {
			out = append(out, cellval.Empty)
			continue
		}
		out = append(out, row[0])
	}
	return out
}

func (r *Registry) match(args []formula.Value) (formula.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return formula.Value{}, nameErr("MATCH", "requires 2 or 3 arguments")
	}
	target := args[0].AsScalar()
	if target.IsError() {
		return formula.ScalarValue(target), nil
	}
	column := firstColumn(args[1])

	matchType := 1.0
	if len(args) == 3 {
		mt, ok := args[2].AsScalar().AsNumber()
		if !ok {
			return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "MATCH type must be numeric")), nil
		}
		matchType = mt
	}

	var idx int
	if matchType == 0 {
		idx = r.Search.FindExact(column, target)
	} else {
		// matchType -1 (descending columns) is not supported by the search
		// index; it is collapsed to the ascending form.
		idx = r.Search.FindLastLessOrEqual(column, target)
	}
	if idx < 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNA, "MATCH found no match")), nil
	}
	return formula.ScalarValue(cellval.Number(float64(idx + 1))), nil
}

func (r *Registry) vlookup(args []formula.Value) (formula.Value, error) {
	if len(args) < 3 || len(args) > 4 {
		return formula.Value{}, nameErr("VLOOKUP", "requires 3 or 4 arguments")
	}
	target := args[0].AsScalar()
	if target.IsError() {
		return formula.ScalarValue(target), nil
	}
	if !args[1].IsMatrix() {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "VLOOKUP table must be a range")), nil
	}
	table := args[1].Matrix

	colNum, ok := args[2].AsScalar().AsNumber()
	if !ok || colNum < 1 || colNum != math.Trunc(colNum) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "VLOOKUP column index must be a positive integer")), nil
	}

	rangeLookup := true
	if len(args) == 4 {
		rangeLookup = isTruthy(args[3].AsScalar())
	}

	column := firstColumn(args[1])
	var idx int
	if rangeLookup {
		idx = r.Search.FindLastLessOrEqual(column, target)
	} else {
		idx = r.Search.FindExact(column, target)
	}
	if idx < 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNA, "VLOOKUP found no match")), nil
	}
	row := table[idx]
	if int(colNum) > len(row) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrRef, "VLOOKUP column index outside the table")), nil
	}
	return formula.ScalarValue(row[int(colNum)-1]), nil
}

func (r *Registry) index(args []formula.Value) (formula.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return formula.Value{}, nameErr("INDEX", "requires 2 or 3 arguments")
	}
	if !args[0].IsMatrix() {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "INDEX array must be a range")), nil
	}
	m := args[0].Matrix

	rowNum, ok := args[1].AsScalar().AsNumber()
	if !ok || rowNum < 1 || rowNum != math.Trunc(rowNum) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "INDEX row must be a positive integer")), nil
	}
	colNum := 1.0
	if len(args) == 3 {
		colNum, ok = args[2].AsScalar().AsNumber()
		if !ok || colNum < 1 || colNum != math.Trunc(colNum) {
			return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "INDEX column must be a positive integer")), nil
		}
	}
	if int(rowNum) > len(m) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrRef, "INDEX row outside the array")), nil
	}
	row := m[int(rowNum)-1]
	if int(colNum) > len(row) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrRef, "INDEX column outside the array")), nil
	}
	return formula.ScalarValue(row[int(colNum)-1]), nil
}
