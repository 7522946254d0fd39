// Package export implements the engine's serialization facade: XLSX import
// and export over github.com/xuri/excelize. Formula cells are written as
// formulas (so the file recalculates in a real spreadsheet application)
// alongside their last computed value; literal cells are written as plain
// values.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/formula"
	"github.com/driftline/formulacore/internal/graphbuilder"
)

// XLSX writes an engine's sheets to a workbook file.
type XLSX struct {
	state *engstate.State
}

// NewXLSX builds an exporter over state. Callers are expected to have run an
// evaluation pass first so cached values are current.
func NewXLSX(state *engstate.State) *XLSX {
	return &XLSX{state: state}
}

// WriteFile saves the workbook to path.
func (x *XLSX) WriteFile(path string) error {
	f, err := x.build()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// Write streams the workbook to w.
func (x *XLSX) Write(w io.Writer) error {
	f, err := x.build()
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

func (x *XLSX) build() (*excelize.File, error) {
	f := excelize.NewFile()
	names := x.state.Sheets.ListSheets()
	for i, name := range names {
		if i == 0 {
			// excelize seeds a new workbook with one sheet; rename it rather
			// than leaving a stray empty "Sheet1" tab.
			defaultName := f.GetSheetName(0)
			if defaultName != name {
				if err := f.SetSheetName(defaultName, name); err != nil {
					return nil, err
				}
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, err
			}
		}
		if err := x.writeSheet(f, name); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (x *XLSX) writeSheet(f *excelize.File, name string) error {
	sheetID, ok := x.state.Sheets.Lookup(name)
	if !ok {
		return fmt.Errorf("sheet %q vanished during export", name)
	}
	mapping := x.state.MappingFor(sheetID)

	var firstErr error
	mapping.IterateAll(func(row, col uint32, id cellval.VertexID) bool {
		v, ok := x.state.Graph.Vertex(id)
		if !ok {
			return true
		}
		axis := cellval.FormatA1(row, col)
		// The value goes in first: setting a value on a cell drops any
		// formula already stored there.
		if err := f.SetCellValue(name, axis, cellNative(v.Value)); err != nil {
			firstErr = err
			return false
		}
		if v.Formula != "" {
			if node, ok := x.state.AST.Materialize(v.AST); ok {
				// Workbook formulas carry no leading "=" on the wire.
				text := strings.TrimPrefix(formula.Unparse(node, v.Cell, x.state.Sheets.Name), "=")
				if err := f.SetCellFormula(name, axis, text); err != nil {
					firstErr = err
					return false
				}
			}
		}
		return true
	})
	return firstErr
}

// cellNative converts a CellValue into the Go value excelize serializes
// most faithfully.
func cellNative(v cellval.CellValue) any {
	switch v.Kind {
	case cellval.KindNumber:
		return v.Num
	case cellval.KindBool:
		return v.Bool
	case cellval.KindString:
		return v.Str
	case cellval.KindError:
		return v.Err.Kind.String()
	default:
		return nil
	}
}

// ReadFile loads a workbook from path into the raw sheet-data shape
// graphbuilder bulk-builds from: formulas as "="-prefixed strings, literals
// as their display text.
func ReadFile(path string) (map[string]graphbuilder.SheetData, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]graphbuilder.SheetData)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, err
		}
		data := make(graphbuilder.SheetData, len(rows))
		for r, row := range rows {
			cells := make([]any, len(row))
			for c, text := range row {
				if text == "" {
					continue
				}
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				if fml, err := f.GetCellFormula(name, axis); err == nil && fml != "" {
					cells[c] = "=" + strings.TrimPrefix(fml, "=")
					continue
				}
				cells[c] = text
			}
			data[r] = cells
		}
		out[name] = data
	}
	return out, nil
}
