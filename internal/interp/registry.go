// Package interp implements the formula interpreter: the builtin function
// dispatch table a FunctionCallNode invokes through formula.Context.Call.
// Arguments arrive as formula.Value (scalar-or-matrix), so range arguments
// flow through the same path as scalars.
package interp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/colsearch"
	"github.com/driftline/formulacore/internal/formula"
)

// Clock supplies the current time, injectable so NOW/TODAY are
// deterministically testable.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock, backed by time.Now.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// RandomSource supplies random floats, injectable for the same reason
// Clock is.
type RandomSource interface {
	Float64() float64
}

// DefaultRandomSource is the production RandomSource, backed by math/rand/v2.
type DefaultRandomSource struct{}

func (DefaultRandomSource) Float64() float64 { return rand.Float64() }

// volatileNames is the set of functions whose result can change between
// evaluations with no input edit, so the enclosing cell must always
// recalculate.
var volatileNames = map[string]bool{
	"NOW":         true,
	"TODAY":       true,
	"RAND":        true,
	"RANDBETWEEN": true,
}

// IsVolatile reports whether calling name should mark the enclosing
// formula cell volatile.
func IsVolatile(name string) bool {
	return volatileNames[strings.ToUpper(name)]
}

// excelEpochMS anchors serial-date conversion for NOW/TODAY at 1899-12-31,
// so 1900-01-01 is serial 1. No day is inserted for the fictitious
// 1900-02-29.
const (
	excelEpochMS = -2209075200000
	msPerDay     = 86400000
)

// Registry dispatches builtin function calls by name, the concrete
// implementation behind formula.Context.Call.
type Registry struct {
	Clock  Clock
	Random RandomSource
	Search *colsearch.Search
}

// New builds a Registry with production Clock/RandomSource and a linear
// column search. Engines that configured a different search strategy pass
// it via NewWithSearch.
func New() *Registry {
	return NewWithSearch(colsearch.New(colsearch.Linear))
}

// NewWithSearch builds a Registry around a pre-selected column search index.
func NewWithSearch(search *colsearch.Search) *Registry {
	return &Registry{Clock: WallClock{}, Random: DefaultRandomSource{}, Search: search}
}

func nameErr(name, msg string) error {
	return apperr.New(apperr.InvalidArgument, "", fmt.Sprintf("%s: %s", name, msg))
}

// Call invokes the builtin named name with args. Unknown names evaluate to
// a #NAME? value, not a Go error.
func (r *Registry) Call(name string, args []formula.Value) (formula.Value, error) {
	switch strings.ToUpper(name) {
	case "SUM":
		return r.sum(args)
	case "AVERAGE":
		return r.average(args)
	case "AVERAGEA":
		return r.averageA(args)
	case "COUNT":
		return r.count(args)
	case "COUNTA":
		return r.countA(args)
	case "MAX":
		return r.maxFn(args)
	case "MIN":
		return r.minFn(args)
	case "MEDIAN":
		return r.median(args)
	case "MODE":
		return r.mode(args)
	case "IF":
		return r.ifFn(args)
	case "AND":
		return r.and(args)
	case "OR":
		return r.or(args)
	case "NOT":
		return r.not(args)
	case "CONCATENATE":
		return r.concatenate(args)
	case "LEN":
		return r.length(args)
	case "UPPER":
		return r.upper(args)
	case "LOWER":
		return r.lower(args)
	case "TRIM":
		return r.trim(args)
	case "ABS":
		return r.abs(args)
	case "ROUND":
		return r.round(args)
	case "FLOOR":
		return r.floor(args)
	case "CEILING":
		return r.ceiling(args)
	case "SQRT":
		return r.sqrt(args)
	case "POWER":
		return r.power(args)
	case "MOD":
		return r.mod(args)
	case "PI":
		return r.pi(args)
	case "NOW":
		return r.now(args)
	case "TODAY":
		return r.today(args)
	case "RAND":
		return r.rand(args)
	case "RANDBETWEEN":
		return r.randBetween(args)
	case "MATCH":
		return r.match(args)
	case "VLOOKUP":
		return r.vlookup(args)
	case "INDEX":
		return r.index(args)
	default:
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrName, fmt.Sprintf("unknown function: %s", name))), nil
	}
}

// numbers flattens args into a slice of numeric values, skipping empty
// cells and non-numeric scalars inside ranges, but propagating an error
// value immediately if one is seen (direct arg or inside a range).
func numbers(args []formula.Value) ([]float64, *cellval.CellError, error) {
	var out []float64
	for _, arg := range args {
		if arg.IsMatrix() {
			for _, row := range arg.Matrix {
				for _, cell := range row {
					if cell.IsError() {
						return nil, cell.Err, nil
					}
					if cell.IsEmpty() {
						continue
					}
					if n, ok := cell.AsNumber(); ok {
						out = append(out, n)
					}
				}
			}
			continue
		}
		if arg.Scalar.IsError() {
			return nil, arg.Scalar.Err, nil
		}
		if arg.Scalar.IsEmpty() {
			continue
		}
		if n, ok := arg.Scalar.AsNumber(); ok {
			out = append(out, n)
		}
	}
	return out, nil, nil
}

func errResult(e *cellval.CellError) formula.Value {
	return formula.ScalarValue(cellval.Error(e))
}

func (r *Registry) sum(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return formula.ScalarValue(cellval.Number(round15(total))), nil
}

// round15 reparses through "%.15f", rounding to 15 decimal places, which
// cleans up float64 accumulation noise.
func round15(f float64) float64 {
	n, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", f), 64)
	return n
}

func (r *Registry) average(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	if len(vals) == 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrDivByZero, "AVERAGE of no values")), nil
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return formula.ScalarValue(cellval.Number(total / float64(len(vals)))), nil
}

func (r *Registry) averageA(args []formula.Value) (formula.Value, error) {
	sum, count := 0.0, 0
	process := func(v cellval.CellValue) (*cellval.CellError, bool) {
		if v.IsEmpty() {
			return nil, true
		}
		if v.IsError() {
			return v.Err, false
		}
		switch v.Kind {
		case cellval.KindNumber:
			sum += v.Num
			count++
		case cellval.KindBool:
			if v.Bool {
				sum += 1
			}
			count++
		case cellval.KindString:
			count++
		}
		return nil, true
	}
	for _, arg := range args {
		if arg.IsMatrix() {
			for _, row := range arg.Matrix {
				for _, cell := range row {
					if errVal, ok := process(cell); !ok {
						return errResult(errVal), nil
					}
				}
			}
			continue
		}
		if errVal, ok := process(arg.Scalar); !ok {
			return errResult(errVal), nil
		}
	}
	if count == 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrRef, "AVERAGEA has no values")), nil
	}
	return formula.ScalarValue(cellval.Number(sum / float64(count))), nil
}

func (r *Registry) count(args []formula.Value) (formula.Value, error) {
	count := 0
	for _, arg := range args {
		if arg.IsMatrix() {
			for _, row := range arg.Matrix {
				for _, cell := range row {
					if cell.Kind == cellval.KindNumber {
						count++
					}
				}
			}
			continue
		}
		if arg.Scalar.IsError() {
			return errResult(arg.Scalar.Err), nil
		}
		if arg.Scalar.Kind == cellval.KindNumber {
			count++
		}
	}
	return formula.ScalarValue(cellval.Number(float64(count))), nil
}

func (r *Registry) countA(args []formula.Value) (formula.Value, error) {
	count := 0
	for _, arg := range args {
		if arg.IsMatrix() {
			for _, row := range arg.Matrix {
				for _, cell := range row {
					if !cell.IsEmpty() {
						count++
					}
				}
			}
			continue
		}
		if arg.Scalar.IsError() {
			return errResult(arg.Scalar.Err), nil
		}
		count++
	}
	return formula.ScalarValue(cellval.Number(float64(count))), nil
}

func (r *Registry) maxFn(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	if len(vals) == 0 {
		return formula.ScalarValue(cellval.Number(0)), nil
	}
	max := vals[0]
	for _, v := range vals[1:] {
		if v > max {
			max = v
		}
	}
	return formula.ScalarValue(cellval.Number(max)), nil
}

func (r *Registry) minFn(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	if len(vals) == 0 {
		return formula.ScalarValue(cellval.Number(0)), nil
	}
	min := vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
	}
	return formula.ScalarValue(cellval.Number(min)), nil
}

func (r *Registry) median(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	if len(vals) == 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNum, "MEDIAN has no numeric values")), nil
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return formula.ScalarValue(cellval.Number((vals[mid-1] + vals[mid]) / 2)), nil
	}
	return formula.ScalarValue(cellval.Number(vals[mid])), nil
}

func (r *Registry) mode(args []formula.Value) (formula.Value, error) {
	vals, errVal, err := numbers(args)
	if err != nil {
		return formula.Value{}, err
	}
	if errVal != nil {
		return errResult(errVal), nil
	}
	freq := make(map[float64]int)
	for _, v := range vals {
		freq[v]++
	}
	if len(freq) == 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNum, "MODE has no numeric values")), nil
	}
	maxFreq := 0
	for _, f := range freq {
		if f > maxFreq {
			maxFreq = f
		}
	}
	var modes []float64
	for v, f := range freq {
		if f == maxFreq {
			modes = append(modes, v)
		}
	}
	if maxFreq == 1 && len(modes) == len(freq) {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNA, "MODE: no value appears more than once")), nil
	}
	sort.Float64s(modes)
	return formula.ScalarValue(cellval.Number(modes[0])), nil
}

func (r *Registry) ifFn(args []formula.Value) (formula.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return formula.Value{}, nameErr("IF", "requires 2 or 3 arguments")
	}
	cond := args[0].AsScalar()
	if cond.IsError() {
		return formula.ScalarValue(cond), nil
	}
	if isTruthy(cond) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return formula.ScalarValue(cellval.Bool(false)), nil
}

func (r *Registry) and(args []formula.Value) (formula.Value, error) {
	for _, arg := range args {
		v := arg.AsScalar()
		if v.IsError() {
			return formula.ScalarValue(v), nil
		}
		if !isTruthy(v) {
			return formula.ScalarValue(cellval.Bool(false)), nil
		}
	}
	return formula.ScalarValue(cellval.Bool(true)), nil
}

func (r *Registry) or(args []formula.Value) (formula.Value, error) {
	for _, arg := range args {
		v := arg.AsScalar()
		if v.IsError() {
			return formula.ScalarValue(v), nil
		}
		if isTruthy(v) {
			return formula.ScalarValue(cellval.Bool(true)), nil
		}
	}
	return formula.ScalarValue(cellval.Bool(false)), nil
}

func (r *Registry) not(args []formula.Value) (formula.Value, error) {
	if len(args) != 1 {
		return formula.Value{}, nameErr("NOT", "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		return formula.ScalarValue(v), nil
	}
	return formula.ScalarValue(cellval.Bool(!isTruthy(v))), nil
}

func (r *Registry) concatenate(args []formula.Value) (formula.Value, error) {
	var b strings.Builder
	for _, arg := range args {
		v := arg.AsScalar()
		if v.IsError() {
			return formula.ScalarValue(v), nil
		}
		b.WriteString(v.String())
	}
	return formula.ScalarValue(cellval.Text(b.String())), nil
}

func (r *Registry) length(args []formula.Value) (formula.Value, error) {
	if len(args) != 1 {
		return formula.Value{}, nameErr("LEN", "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		return formula.ScalarValue(v), nil
	}
	return formula.ScalarValue(cellval.Number(float64(len(v.String())))), nil
}

func (r *Registry) upper(args []formula.Value) (formula.Value, error) {
	if len(args) != 1 {
		return formula.Value{}, nameErr("UPPER", "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		return formula.ScalarValue(v), nil
	}
	return formula.ScalarValue(cellval.Text(strings.ToUpper(v.String()))), nil
}

func (r *Registry) lower(args []formula.Value) (formula.Value, error) {
	if len(args) != 1 {
		return formula.Value{}, nameErr("LOWER", "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		return formula.ScalarValue(v), nil
	}
	return formula.ScalarValue(cellval.Text(strings.ToLower(v.String()))), nil
}

func (r *Registry) trim(args []formula.Value) (formula.Value, error) {
	if len(args) != 1 {
		return formula.Value{}, nameErr("TRIM", "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		return formula.ScalarValue(v), nil
	}
	return formula.ScalarValue(cellval.Text(strings.TrimSpace(v.String()))), nil
}

func oneNumericArg(name string, args []formula.Value) (float64, *formula.Value, error) {
	if len(args) != 1 {
		return 0, nil, nameErr(name, "requires exactly 1 argument")
	}
	v := args[0].AsScalar()
	if v.IsError() {
		res := formula.ScalarValue(v)
		return 0, &res, nil
	}
	n, ok := v.AsNumber()
	if !ok {
		res := formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, name+" requires a numeric argument"))
		return 0, &res, nil
	}
	return n, nil, nil
}

func (r *Registry) abs(args []formula.Value) (formula.Value, error) {
	n, early, err := oneNumericArg("ABS", args)
	if early != nil || err != nil {
		return derefOr(early), err
	}
	return formula.ScalarValue(cellval.Number(math.Abs(n))), nil
}

func derefOr(v *formula.Value) formula.Value {
	if v == nil {
		return formula.Value{}
	}
	return *v
}

func (r *Registry) round(args []formula.Value) (formula.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return formula.Value{}, nameErr("ROUND", "requires 1 or 2 arguments")
	}
	for _, arg := range args {
		if arg.AsScalar().IsError() {
			return formula.ScalarValue(arg.AsScalar()), nil
		}
	}
	num, ok := args[0].AsScalar().AsNumber()
	if !ok {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "ROUND requires a numeric first argument")), nil
	}
	places := 0.0
	if len(args) == 2 {
		places, ok = args[1].AsScalar().AsNumber()
		if !ok {
			return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "ROUND requires a numeric second argument")), nil
		}
	}
	mult := math.Pow(10, places)
	return formula.ScalarValue(cellval.Number(math.Round(num*mult) / mult)), nil
}

func (r *Registry) floor(args []formula.Value) (formula.Value, error) {
	n, early, err := oneNumericArg("FLOOR", args)
	if early != nil || err != nil {
		return derefOr(early), err
	}
	return formula.ScalarValue(cellval.Number(math.Floor(n))), nil
}

func (r *Registry) ceiling(args []formula.Value) (formula.Value, error) {
	n, early, err := oneNumericArg("CEILING", args)
	if early != nil || err != nil {
		return derefOr(early), err
	}
	return formula.ScalarValue(cellval.Number(math.Ceil(n))), nil
}

func (r *Registry) sqrt(args []formula.Value) (formula.Value, error) {
	n, early, err := oneNumericArg("SQRT", args)
	if early != nil || err != nil {
		return derefOr(early), err
	}
	if n < 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNum, "SQRT requires a non-negative argument")), nil
	}
	return formula.ScalarValue(cellval.Number(math.Sqrt(n))), nil
}

func (r *Registry) power(args []formula.Value) (formula.Value, error) {
	if len(args) != 2 {
		return formula.Value{}, nameErr("POWER", "requires exactly 2 arguments")
	}
	for _, arg := range args {
		if arg.AsScalar().IsError() {
			return formula.ScalarValue(arg.AsScalar()), nil
		}
	}
	base, ok1 := args[0].AsScalar().AsNumber()
	exp, ok2 := args[1].AsScalar().AsNumber()
	if !ok1 || !ok2 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "POWER requires numeric arguments")), nil
	}
	return formula.ScalarValue(cellval.Number(math.Pow(base, exp))), nil
}

func (r *Registry) mod(args []formula.Value) (formula.Value, error) {
	if len(args) != 2 {
		return formula.Value{}, nameErr("MOD", "requires exactly 2 arguments")
	}
	for _, arg := range args {
		if arg.AsScalar().IsError() {
			return formula.ScalarValue(arg.AsScalar()), nil
		}
	}
	dividend, ok1 := args[0].AsScalar().AsNumber()
	divisor, ok2 := args[1].AsScalar().AsNumber()
	if !ok1 || !ok2 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "MOD requires numeric arguments")), nil
	}
	if divisor == 0 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrDivByZero, "division by zero")), nil
	}
	return formula.ScalarValue(cellval.Number(math.Mod(dividend, divisor))), nil
}

func (r *Registry) pi(args []formula.Value) (formula.Value, error) {
	if len(args) != 0 {
		return formula.Value{}, nameErr("PI", "takes no arguments")
	}
	return formula.ScalarValue(cellval.Number(math.Pi)), nil
}

func (r *Registry) now(args []formula.Value) (formula.Value, error) {
	if len(args) != 0 {
		return formula.Value{}, nameErr("NOW", "takes no arguments")
	}
	diffMs := float64(r.Clock.Now().UnixMilli() - excelEpochMS)
	return formula.ScalarValue(cellval.Number(diffMs / msPerDay)), nil
}

func (r *Registry) today(args []formula.Value) (formula.Value, error) {
	if len(args) != 0 {
		return formula.Value{}, nameErr("TODAY", "takes no arguments")
	}
	now := r.Clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	diffMs := float64(midnight.UnixMilli() - excelEpochMS)
	return formula.ScalarValue(cellval.Number(math.Floor(diffMs / msPerDay))), nil
}

func (r *Registry) rand(args []formula.Value) (formula.Value, error) {
	if len(args) != 0 {
		return formula.Value{}, nameErr("RAND", "takes no arguments")
	}
	return formula.ScalarValue(cellval.Number(r.Random.Float64())), nil
}

func (r *Registry) randBetween(args []formula.Value) (formula.Value, error) {
	if len(args) != 2 {
		return formula.Value{}, nameErr("RANDBETWEEN", "requires exactly 2 arguments")
	}
	lo, ok1 := args[0].AsScalar().AsNumber()
	hi, ok2 := args[1].AsScalar().AsNumber()
	if !ok1 || !ok2 {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrValue, "RANDBETWEEN requires numeric arguments")), nil
	}
	if hi < lo {
		return formula.ScalarValue(cellval.ErrorValue(cellval.ErrNum, "RANDBETWEEN requires bottom <= top")), nil
	}
	span := math.Floor(hi) - math.Ceil(lo) + 1
	return formula.ScalarValue(cellval.Number(math.Ceil(lo) + math.Floor(r.Random.Float64()*span))), nil
}

// isTruthy follows spreadsheet truthiness: nonzero numbers, nonempty
// strings, TRUE.
func isTruthy(v cellval.CellValue) bool {
	switch v.Kind {
	case cellval.KindBool:
		return v.Bool
	case cellval.KindNumber:
		return v.Num != 0
	case cellval.KindString:
		return v.Str != ""
	case cellval.KindEmpty:
		return false
	default:
		return true
	}
}
