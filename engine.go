// Package formulacore is a spreadsheet formula engine: named sheets of
// values and formulas, a dependency graph that tracks what feeds what, a
// topological scheduler that recomputes only what changed, cycle detection
// with an optional seeded tolerant mode, and lazy AST rewriting that keeps
// parsed formulas in sync with row/column edits without re-parsing.
//
// Construction goes through the factory functions (BuildFromSheets,
// BuildFromSheet, BuildEmpty); everything afterward goes through Engine's
// methods. The engine is single-threaded: callers serialize access.
package formulacore

import (
	"fmt"
	"io"
	"sort"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/config"
	"github.com/driftline/formulacore/internal/engstate"
	"github.com/driftline/formulacore/internal/evaluator"
	"github.com/driftline/formulacore/internal/export"
	"github.com/driftline/formulacore/internal/formula"
	"github.com/driftline/formulacore/internal/graphbuilder"
	"github.com/driftline/formulacore/internal/namedexpr"
	"github.com/driftline/formulacore/internal/ops"
	"github.com/driftline/formulacore/internal/telemetry"
)

// Public vocabulary, aliased from the internal packages so embedders can
// name these types without reaching into internal/.
type (
	// CellValue is the evaluated content of a cell: number, string, bool,
	// empty, or an in-cell error.
	CellValue = cellval.CellValue
	// ErrorKind enumerates the in-cell error codes (#CYCLE!, #DIV/0!, ...).
	ErrorKind = cellval.ErrorKind
	// Config is the engine's recognized-options bundle.
	Config = config.EngineConfig
	// Sheet is one sheet's raw content, row-major; cells are strings
	// ("="-prefixed for formulas), numbers, bools, or nil.
	Sheet = graphbuilder.SheetData
	// OperationError is the API-plane error type: it aborts the operation
	// that produced it and never appears inside a cell.
	OperationError = apperr.Error
	// StatsSnapshot is a point-in-time copy of the engine's counters.
	StatsSnapshot = telemetry.StatsSnapshot
)

// In-cell error kinds, re-exported for callers matching on Value results.
const (
	ErrCycle     = cellval.ErrCycle
	ErrDivByZero = cellval.ErrDivByZero
	ErrValue     = cellval.ErrValue
	ErrRef       = cellval.ErrRef
	ErrName      = cellval.ErrName
	ErrNum       = cellval.ErrNum
	ErrNA        = cellval.ErrNA
)

// NewSheetPrefix names the sheet BuildFromSheet generates ("Sheet1").
const NewSheetPrefix = "Sheet"

// DefaultConfig returns the baseline configuration: strict cycles, Excel's
// sheet size limits, stats on.
func DefaultConfig() Config { return config.Default() }

// NamedExpression declares a named formula or constant at build time.
// SheetScope empty means global scope.
type NamedExpression struct {
	Name       string
	Expression string
	SheetScope string
}

// Engine is one spreadsheet instance.
type Engine struct {
	state *engstate.State
	eval  *evaluator.Evaluator
	ops   *ops.Operations
}

// BuildFromSheets constructs an engine from named sheets. cfg nil means
// DefaultConfig. Sheets build in lexical name order for determinism.
func BuildFromSheets(sheets map[string]Sheet, cfg *Config, named ...NamedExpression) (*Engine, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(sheets) {
		if err := graphbuilder.BuildSheet(e.state, name, sheets[name]); err != nil {
			return nil, err
		}
	}
	if err := e.defineNamed(named); err != nil {
		return nil, err
	}
	return e, nil
}

// BuildFromSheet constructs an engine holding a single generated sheet named
// NewSheetPrefix + "1". A sole initialComputedValues entry keyed by any name
// is remapped to the generated sheet, so seed matrices written against the
// caller's own naming still apply.
func BuildFromSheet(sheet Sheet, cfg *Config, named ...NamedExpression) (*Engine, error) {
	name := NewSheetPrefix + "1"
	resolved := resolveConfig(cfg)
	if len(resolved.InitialComputedValues) == 1 {
		for key, matrix := range resolved.InitialComputedValues {
			if key != name {
				resolved.InitialComputedValues = map[string][][]any{name: matrix}
			}
		}
	}
	return BuildFromSheets(map[string]Sheet{name: sheet}, &resolved, named...)
}

// BuildEmpty constructs an engine with no sheets.
func BuildEmpty(cfg *Config, named ...NamedExpression) (*Engine, error) {
	return BuildFromSheets(nil, cfg, named...)
}

// RebuildWithConfig serializes the engine's current sheets and named
// expressions, overlays patch onto the current configuration, and builds a
// fresh engine from the result. The receiver is left untouched.
func (e *Engine) RebuildWithConfig(patch Config) (*Engine, error) {
	merged := e.state.Config.Merge(patch)
	sheets := make(map[string]Sheet)
	for _, name := range e.Sheets() {
		sheets[name] = e.serializeSheet(name)
	}
	named := e.serializeNamed()
	return BuildFromSheets(sheets, &merged, named...)
}

func newEngine(cfg *Config) (*Engine, error) {
	resolved := resolveConfig(cfg)
	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	state := engstate.New(resolved)
	return &Engine{
		state: state,
		eval:  evaluator.New(state),
		ops:   ops.New(state),
	}, nil
}

func resolveConfig(cfg *Config) Config {
	if cfg == nil {
		return config.Default()
	}
	return *cfg
}

func (e *Engine) defineNamed(named []NamedExpression) error {
	for _, n := range named {
		scope := namedexpr.Global
		if n.SheetScope != "" {
			id, ok := e.state.Sheets.Lookup(n.SheetScope)
			if !ok {
				return apperr.New(apperr.NotFound, apperr.InvalidSheet,
					fmt.Sprintf("named expression %q scoped to unknown sheet %q", n.Name, n.SheetScope))
			}
			scope = namedexpr.PerSheet(id)
		}
		if err := e.ops.AddNamedExpression(scope, n.Name, n.Expression); err != nil {
			return err
		}
	}
	return nil
}

// recalculate runs an incremental evaluation pass if anything is dirty or
// volatile. Reads call this first: evaluation is lazy, triggered by the
// first read after a batch of mutations, never mid-mutation.
func (e *Engine) recalculate() {
	e.eval.Run()
}

// GetCellValue returns the evaluated value at ref ("A1"-style) on the named
// sheet, triggering a recalculation of the dirty closure if needed. A
// never-written cell reads as Empty.
func (e *Engine) GetCellValue(sheetName, ref string) (CellValue, error) {
	addr, err := e.resolveRef(sheetName, ref)
	if err != nil {
		return cellval.Empty, err
	}
	e.recalculate()
	return e.readCell(addr), nil
}

// GetCellFormula returns the cell's current formula text (shifted references
// included) and true, or "" and false for a non-formula cell.
func (e *Engine) GetCellFormula(sheetName, ref string) (string, bool, error) {
	addr, err := e.resolveRef(sheetName, ref)
	if err != nil {
		return "", false, err
	}
	mapping := e.state.MappingFor(addr.Sheet)
	id, ok := mapping.Get(addr.Row, addr.Col)
	if !ok {
		return "", false, nil
	}
	v, ok := e.state.Graph.Vertex(id)
	if !ok || v.Formula == "" {
		return "", false, nil
	}
	node, ok := e.state.AST.Materialize(v.AST)
	if !ok {
		return v.Formula, true, nil
	}
	return formula.Unparse(node, v.Cell, e.state.Sheets.Name), true, nil
}

// SetCellContents writes raw content ("=A1+1", "42", "hello", "" to clear)
// into the cell at ref.
func (e *Engine) SetCellContents(sheetName, ref string, raw string) error {
	addr, err := e.resolveRef(sheetName, ref)
	if err != nil {
		return err
	}
	return e.ops.SetCellContents(addr, raw)
}

// AddRows inserts count empty rows before zero-based row index at.
func (e *Engine) AddRows(sheetName string, at, count uint32) error {
	id, err := e.sheetID(sheetName)
	if err != nil {
		return err
	}
	return e.ops.AddRows(id, at, count)
}

// RemoveRows deletes count rows starting at zero-based row index at.
func (e *Engine) RemoveRows(sheetName string, at, count uint32) error {
	id, err := e.sheetID(sheetName)
	if err != nil {
		return err
	}
	return e.ops.RemoveRows(id, at, count)
}

// AddColumns inserts count empty columns before zero-based column index at.
func (e *Engine) AddColumns(sheetName string, at, count uint32) error {
	id, err := e.sheetID(sheetName)
	if err != nil {
		return err
	}
	return e.ops.AddColumns(id, at, count)
}

// RemoveColumns deletes count columns starting at zero-based column index at.
func (e *Engine) RemoveColumns(sheetName string, at, count uint32) error {
	id, err := e.sheetID(sheetName)
	if err != nil {
		return err
	}
	return e.ops.RemoveColumns(id, at, count)
}

// AddSheet creates a new empty sheet.
func (e *Engine) AddSheet(name string) error {
	_, err := e.ops.AddSheet(name)
	return err
}

// RemoveSheet deletes the named sheet and everything on it.
func (e *Engine) RemoveSheet(name string) error {
	return e.ops.RemoveSheet(name)
}

// RenameSheet rebinds a sheet's name; formulas referencing it follow along.
func (e *Engine) RenameSheet(oldName, newName string) error {
	return e.ops.RenameSheet(oldName, newName)
}

// AddNamedExpression defines a named formula or constant. sheetScope empty
// means global.
func (e *Engine) AddNamedExpression(name, expression, sheetScope string) error {
	scope, err := e.resolveScope(sheetScope)
	if err != nil {
		return err
	}
	return e.ops.AddNamedExpression(scope, name, expression)
}

// RemoveNamedExpression removes a named expression from the given scope.
func (e *Engine) RemoveNamedExpression(name, sheetScope string) error {
	scope, err := e.resolveScope(sheetScope)
	if err != nil {
		return err
	}
	return e.ops.RemoveNamedExpression(scope, name)
}

// GetNamedExpressionValue evaluates and returns a named expression's value.
func (e *Engine) GetNamedExpressionValue(name, sheetScope string) (CellValue, error) {
	scope, err := e.resolveScope(sheetScope)
	if err != nil {
		return cellval.Empty, err
	}
	id, ok := e.state.Names.Lookup(scope, name)
	if !ok {
		return cellval.Empty, apperr.New(apperr.NotFound, apperr.NamedExpressionNameInvalid,
			fmt.Sprintf("named expression %q not defined", name))
	}
	e.recalculate()
	v, ok := e.state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty, nil
	}
	return v.Value, nil
}

// Undo reverts the most recent mutation.
func (e *Engine) Undo() error { return e.ops.Undo() }

// Redo re-applies the most recently undone mutation.
func (e *Engine) Redo() error { return e.ops.Redo() }

// Sheets returns the defined sheet names in creation order.
func (e *Engine) Sheets() []string { return e.state.Sheets.ListSheets() }

// Stats returns a snapshot of the engine's counters (zero-valued when the
// engine was built with UseStats off).
func (e *Engine) Stats() StatsSnapshot { return e.state.Stats.Snapshot() }

// ExportXLSX recalculates and writes every sheet to an .xlsx file at path.
func (e *Engine) ExportXLSX(path string) error {
	e.recalculate()
	return export.NewXLSX(e.state).WriteFile(path)
}

// WriteXLSX recalculates and streams the workbook to w.
func (e *Engine) WriteXLSX(w io.Writer) error {
	e.recalculate()
	return export.NewXLSX(e.state).Write(w)
}

// ImportXLSX builds an engine from an .xlsx workbook on disk.
func ImportXLSX(path string, cfg *Config) (*Engine, error) {
	sheets, err := export.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return BuildFromSheets(sheets, cfg)
}

func (e *Engine) sheetID(name string) (cellval.SheetID, error) {
	id, ok := e.state.Sheets.Lookup(name)
	if !ok || !e.state.Sheets.IsDefined(id) {
		return 0, apperr.New(apperr.NotFound, apperr.InvalidSheet,
			fmt.Sprintf("no such sheet %q", name))
	}
	return id, nil
}

func (e *Engine) resolveRef(sheetName, ref string) (cellval.CellAddress, error) {
	id, err := e.sheetID(sheetName)
	if err != nil {
		return cellval.CellAddress{}, err
	}
	row, col, err := cellval.ParseA1(ref)
	if err != nil {
		return cellval.CellAddress{}, apperr.New(apperr.InvalidArgument, "", err.Error())
	}
	return cellval.CellAddress{Sheet: id, Row: row, Col: col}, nil
}

func (e *Engine) resolveScope(sheetScope string) (namedexpr.Scope, error) {
	if sheetScope == "" {
		return namedexpr.Global, nil
	}
	id, err := e.sheetID(sheetScope)
	if err != nil {
		return namedexpr.Scope{}, err
	}
	return namedexpr.PerSheet(id), nil
}

func (e *Engine) readCell(addr cellval.CellAddress) CellValue {
	mapping := e.state.MappingFor(addr.Sheet)
	id, ok := mapping.Get(addr.Row, addr.Col)
	if !ok {
		return cellval.Empty
	}
	v, ok := e.state.Graph.Vertex(id)
	if !ok {
		return cellval.Empty
	}
	return v.Value
}

// serializeSheet reconstructs a sheet's raw contents (formulas unparsed in
// their current, transform-adjusted form) for RebuildWithConfig.
func (e *Engine) serializeSheet(name string) Sheet {
	id, ok := e.state.Sheets.Lookup(name)
	if !ok {
		return nil
	}
	mapping := e.state.MappingFor(id)
	rows, _ := mapping.Bounds()
	data := make(Sheet, rows)
	mapping.IterateAll(func(row, col uint32, vid cellval.VertexID) bool {
		raw := e.ops.RawContent(vid)
		if raw == "" {
			return true
		}
		for uint32(len(data)) <= row {
			data = append(data, nil)
		}
		for uint32(len(data[row])) <= col {
			data[row] = append(data[row], nil)
		}
		data[row][col] = raw
		return true
	})
	return data
}

func (e *Engine) serializeNamed() []NamedExpression {
	var out []NamedExpression
	for _, name := range e.state.Names.ListNames(namedexpr.Global) {
		if id, ok := e.state.Names.Lookup(namedexpr.Global, name); ok {
			out = append(out, NamedExpression{Name: name, Expression: e.ops.RawContent(id)})
		}
	}
	for _, sheetName := range e.Sheets() {
		sheetID, _ := e.state.Sheets.Lookup(sheetName)
		scope := namedexpr.PerSheet(sheetID)
		for _, name := range e.state.Names.ListNames(scope) {
			if id, ok := e.state.Names.Lookup(scope, name); ok {
				out = append(out, NamedExpression{Name: name, Expression: e.ops.RawContent(id), SheetScope: sheetName})
			}
		}
	}
	return out
}

func sortedKeys(m map[string]Sheet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
