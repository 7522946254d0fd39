// Package formula implements the lexer, recursive-descent parser, and AST
// for spreadsheet formula text.
//
// Every reference node stores its offset from the formula's home cell
// (RowOffset/ColOffset) instead of an absolute address. Offset-based
// references are what make lazy AST rewriting on row/column insert cheap:
// only the home-cell coordinate moves, never every formula in the sheet.
// Nodes evaluate against a formula.Context interface, so the evaluation
// loop owns cell/range resolution rather than the AST itself.
package formula

import (
	"fmt"
	"math"
	"strings"

	"github.com/driftline/formulacore/internal/cellval"
)

// NodePosition is the [start, end) byte span of a node within its source
// formula text, used for error messages and round-tripping.
type NodePosition struct {
	Start int
	End   int
}

// Context is what an AST node needs from its environment to evaluate:
// cell/range/named lookups relative to the sheet the formula lives on, plus
// a way to resolve a sheet name to an id and to flag volatility. The
// evaluator implements this and reaches the interpreter's builtins through
// Call; the AST package itself never touches depgraph or sheetreg directly.
type Context interface {
	Cell(addr cellval.CellAddress) cellval.CellValue
	Range(addr cellval.RangeAddress) cellval.Matrix
	Named(sheet cellval.SheetID, name string) (cellval.CellValue, cellval.Matrix, bool)
	ResolveSheet(name string) (cellval.SheetID, bool)
	Call(name string, args []Value) (Value, error)
	MarkVolatile()
}

// Value is what an AST node evaluates to: either a scalar CellValue or a
// Matrix (when the node is a range or named range bound to a range), as an
// explicit sum type rather than an `any` that callers type-switch on.
type Value struct {
	Matrix cellval.Matrix    // non-nil for range results
	Scalar cellval.CellValue // meaningful when Matrix == nil
}

// IsMatrix reports whether v holds a range result.
func (v Value) IsMatrix() bool { return v.Matrix != nil }

// ScalarValue builds a scalar Value.
func ScalarValue(v cellval.CellValue) Value { return Value{Scalar: v} }

// MatrixValue builds a range Value.
func MatrixValue(m cellval.Matrix) Value { return Value{Matrix: m} }

// AsScalar collapses v to a single CellValue for contexts that can't accept
// a range (e.g. a binary operator operand): a 1x1 matrix collapses to its
// one cell, anything larger becomes #VALUE!.
func (v Value) AsScalar() cellval.CellValue {
	if !v.IsMatrix() {
		return v.Scalar
	}
	if len(v.Matrix) == 1 && len(v.Matrix[0]) == 1 {
		return v.Matrix[0][0]
	}
	return cellval.ErrorValue(cellval.ErrValue, "range used where a single value was expected")
}

// Node is one parsed formula expression.
type Node interface {
	Eval(ctx Context, home cellval.CellAddress) (Value, error)
	Position() NodePosition
	String() string
}

// NumberNode is a numeric literal.
type NumberNode struct {
	Value float64
	Pos   NodePosition
}

func (n *NumberNode) Eval(Context, cellval.CellAddress) (Value, error) {
	return ScalarValue(cellval.Number(n.Value)), nil
}
func (n *NumberNode) Position() NodePosition { return n.Pos }
func (n *NumberNode) String() string {
	if n.Value == float64(int64(n.Value)) {
		return fmt.Sprintf("%d", int64(n.Value))
	}
	return fmt.Sprintf("%g", n.Value)
}

// StringNode is a string literal.
type StringNode struct {
	Value string
	Pos   NodePosition
}

func (n *StringNode) Eval(Context, cellval.CellAddress) (Value, error) {
	return ScalarValue(cellval.Text(n.Value)), nil
}
func (n *StringNode) Position() NodePosition { return n.Pos }
func (n *StringNode) String() string {
	return fmt.Sprintf("%q", n.Value)
}

// BooleanNode is a boolean literal.
type BooleanNode struct {
	Value bool
	Pos   NodePosition
}

func (n *BooleanNode) Eval(Context, cellval.CellAddress) (Value, error) {
	return ScalarValue(cellval.Bool(n.Value)), nil
}
func (n *BooleanNode) Position() NodePosition { return n.Pos }
func (n *BooleanNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorLiteralNode is an explicit error typed directly into a cell, e.g.
// "=#REF!", or left behind where a structural rewrite removed the cells a
// reference pointed at (asttransform turns the dangling reference into one
// of these rather than deleting the node).
type ErrorLiteralNode struct {
	Kind cellval.ErrorKind
	Pos  NodePosition
}

func (n *ErrorLiteralNode) Eval(Context, cellval.CellAddress) (Value, error) {
	return ScalarValue(cellval.ErrorValue(n.Kind, "")), nil
}
func (n *ErrorLiteralNode) Position() NodePosition { return n.Pos }
func (n *ErrorLiteralNode) String() string         { return n.Kind.String() }

// CellRefNode is a cell reference, stored relative to the formula's home
// cell, so a lazy row/column rewrite only has to move the home cell rather
// than patch every formula.
type CellRefNode struct {
	Sheet      cellval.SheetID // zero means "same sheet as home"
	SheetBound bool            // true if an explicit Sheet!Ref was written
	RowOffset  int64
	ColOffset  int64
	Pos        NodePosition
}

func (n *CellRefNode) target(home cellval.CellAddress) (cellval.CellAddress, bool) {
	row := int64(home.Row) + n.RowOffset
	col := int64(home.Col) + n.ColOffset
	if row < 0 || col < 0 {
		return cellval.CellAddress{}, false
	}
	sheet := home.Sheet
	if n.SheetBound {
		sheet = n.Sheet
	}
	return cellval.CellAddress{Sheet: sheet, Row: uint32(row), Col: uint32(col)}, true
}

func (n *CellRefNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	addr, ok := n.target(home)
	if !ok {
		return ScalarValue(cellval.ErrorValue(cellval.ErrRef, "reference resolves outside the sheet")), nil
	}
	return ScalarValue(ctx.Cell(addr)), nil
}
func (n *CellRefNode) Position() NodePosition { return n.Pos }
func (n *CellRefNode) String() string {
	if n.SheetBound {
		return fmt.Sprintf("SHEET_REF(%d,%d,%d)", n.Sheet, n.RowOffset, n.ColOffset)
	}
	return fmt.Sprintf("REF(%d,%d)", n.RowOffset, n.ColOffset)
}

// RangeNode is a range reference, relative to the home cell the same way
// CellRefNode is.
type RangeNode struct {
	Sheet                          cellval.SheetID
	SheetBound                     bool
	StartRowOffset, StartColOffset int64
	EndRowOffset, EndColOffset     int64
	Pos                            NodePosition
}

func (n *RangeNode) target(home cellval.CellAddress) (cellval.RangeAddress, bool) {
	startRow := int64(home.Row) + n.StartRowOffset
	startCol := int64(home.Col) + n.StartColOffset
	endRow := int64(home.Row) + n.EndRowOffset
	endCol := int64(home.Col) + n.EndColOffset
	if startRow < 0 || startCol < 0 || endRow < 0 || endCol < 0 {
		return cellval.RangeAddress{}, false
	}
	sheet := home.Sheet
	if n.SheetBound {
		sheet = n.Sheet
	}
	if startRow > endRow {
		startRow, endRow = endRow, startRow
	}
	if startCol > endCol {
		startCol, endCol = endCol, startCol
	}
	return cellval.RangeAddress{
		Sheet: sheet, StartRow: uint32(startRow), StartCol: uint32(startCol),
		EndRow: uint32(endRow), EndCol: uint32(endCol),
	}, true
}

func (n *RangeNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	addr, ok := n.target(home)
	if !ok {
		return ScalarValue(cellval.ErrorValue(cellval.ErrRef, "range resolves outside the sheet")), nil
	}
	return MatrixValue(ctx.Range(addr)), nil
}
func (n *RangeNode) Position() NodePosition { return n.Pos }
func (n *RangeNode) String() string {
	if n.SheetBound {
		return fmt.Sprintf("SHEET_RANGE(%d,%d,%d,%d,%d)", n.Sheet, n.StartRowOffset, n.StartColOffset, n.EndRowOffset, n.EndColOffset)
	}
	return fmt.Sprintf("RANGE(%d,%d,%d,%d)", n.StartRowOffset, n.StartColOffset, n.EndRowOffset, n.EndColOffset)
}

// NamedRefNode references a named expression by name.
type NamedRefNode struct {
	Name string
	Pos  NodePosition
}

func (n *NamedRefNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	scalar, matrix, ok := ctx.Named(home.Sheet, n.Name)
	if !ok {
		return ScalarValue(cellval.ErrorValue(cellval.ErrName, fmt.Sprintf("name %q not found", n.Name))), nil
	}
	if matrix != nil {
		return MatrixValue(matrix), nil
	}
	return ScalarValue(scalar), nil
}
func (n *NamedRefNode) Position() NodePosition { return n.Pos }
func (n *NamedRefNode) String() string         { return n.Name }

// BinaryOpNode is a binary operator expression. BinaryOp itself (BinOpAdd,
// BinOpSubtract, ...) is declared in lexer.go; the lexer already needed the
// enum to classify TokenBinaryOp text, so the parser and AST share it rather
// than each defining their own.
type BinaryOpNode struct {
	Op          BinaryOp
	Left, Right Node
	Pos         NodePosition
}

func (n *BinaryOpNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	left, err := n.Left.Eval(ctx, home)
	if err != nil {
		return Value{}, err
	}
	right, err := n.Right.Eval(ctx, home)
	if err != nil {
		return Value{}, err
	}
	lv, rv := left.AsScalar(), right.AsScalar()
	if lv.IsError() {
		return ScalarValue(lv), nil
	}
	if rv.IsError() {
		return ScalarValue(rv), nil
	}

	switch n.Op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply, BinOpDivide, BinOpPower, BinOpModulo:
		ln, lok := lv.AsNumber()
		rn, rok := rv.AsNumber()
		if !lok || !rok {
			return ScalarValue(cellval.ErrorValue(cellval.ErrValue, "arithmetic requires numeric operands")), nil
		}
		switch n.Op {
		case BinOpAdd:
			return ScalarValue(cellval.Number(ln + rn)), nil
		case BinOpSubtract:
			return ScalarValue(cellval.Number(ln - rn)), nil
		case BinOpMultiply:
			return ScalarValue(cellval.Number(ln * rn)), nil
		case BinOpDivide:
			if rn == 0 {
				return ScalarValue(cellval.ErrorValue(cellval.ErrDivByZero, "division by zero")), nil
			}
			return ScalarValue(cellval.Number(ln / rn)), nil
		case BinOpModulo:
			if rn == 0 {
				return ScalarValue(cellval.ErrorValue(cellval.ErrDivByZero, "modulo by zero")), nil
			}
			return ScalarValue(cellval.Number(math.Mod(ln, rn))), nil
		case BinOpPower:
			return ScalarValue(cellval.Number(math.Pow(ln, rn))), nil
		}
	case BinOpConcat:
		return ScalarValue(cellval.Text(lv.String() + rv.String())), nil
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp, comparable := compareValues(lv, rv)
		if !comparable {
			return ScalarValue(cellval.ErrorValue(cellval.ErrValue, "values are not comparable")), nil
		}
		var result bool
		switch n.Op {
		case BinOpEqual:
			result = cmp == 0
		case BinOpNotEqual:
			result = cmp != 0
		case BinOpLess:
			result = cmp < 0
		case BinOpLessEqual:
			result = cmp <= 0
		case BinOpGreater:
			result = cmp > 0
		case BinOpGreaterEqual:
			result = cmp >= 0
		}
		return ScalarValue(cellval.Bool(result)), nil
	}
	return Value{}, fmt.Errorf("unknown binary operator %d", n.Op)
}

func (n *BinaryOpNode) Position() NodePosition { return n.Pos }
func (n *BinaryOpNode) String() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.String(), binaryOpSymbol(n.Op), n.Right.String())
}

func binaryOpSymbol(op BinaryOp) string {
	switch op {
	case BinOpAdd:
		return "+"
	case BinOpSubtract:
		return "-"
	case BinOpMultiply:
		return "*"
	case BinOpDivide:
		return "/"
	case BinOpModulo:
		return "%"
	case BinOpPower:
		return "^"
	case BinOpConcat:
		return "&"
	case BinOpEqual:
		return "="
	case BinOpNotEqual:
		return "<>"
	case BinOpLess:
		return "<"
	case BinOpLessEqual:
		return "<="
	case BinOpGreater:
		return ">"
	case BinOpGreaterEqual:
		return ">="
	}
	return "?"
}

// UnaryOpNode is a unary operator expression. UnaryOp (UnaryOpPlus,
// UnaryOpMinus, UnaryOpPercent) is declared in lexer.go alongside BinaryOp.
type UnaryOpNode struct {
	Op      UnaryOp
	Operand Node
	Pos     NodePosition
}

func (n *UnaryOpNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	val, err := n.Operand.Eval(ctx, home)
	if err != nil {
		return Value{}, err
	}
	scalar := val.AsScalar()
	if scalar.IsError() {
		return ScalarValue(scalar), nil
	}
	num, ok := scalar.AsNumber()
	if !ok {
		return ScalarValue(cellval.ErrorValue(cellval.ErrValue, "unary operator requires a numeric value")), nil
	}
	switch n.Op {
	case UnaryOpPlus:
		return ScalarValue(cellval.Number(num)), nil
	case UnaryOpMinus:
		return ScalarValue(cellval.Number(-num)), nil
	case UnaryOpPercent:
		return ScalarValue(cellval.Number(num / 100.0)), nil
	}
	return Value{}, fmt.Errorf("unknown unary operator %d", n.Op)
}
func (n *UnaryOpNode) Position() NodePosition { return n.Pos }
func (n *UnaryOpNode) String() string {
	switch n.Op {
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.String())
	case UnaryOpMinus:
		return "-" + n.Operand.String()
	default:
		return "+" + n.Operand.String()
	}
}

// FunctionCallNode is a builtin function call.
type FunctionCallNode struct {
	Name string
	Args []Node
	Pos  NodePosition
}

func (n *FunctionCallNode) Eval(ctx Context, home cellval.CellAddress) (Value, error) {
	args := make([]Value, len(n.Args))
	for i, arg := range n.Args {
		v, err := arg.Eval(ctx, home)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	return ctx.Call(n.Name, args)
}
func (n *FunctionCallNode) Position() NodePosition { return n.Pos }
func (n *FunctionCallNode) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(parts, ","))
}

// compareValues orders two scalar CellValues the spreadsheet way: numbers
// compare numerically, strings lexically (case-insensitive), booleans as
// 0/1, and cross-kind comparisons are only defined for number-vs-bool.
func compareValues(a, b cellval.CellValue) (int, bool) {
	if a.Kind == cellval.KindNumber && b.Kind == cellval.KindNumber {
		switch {
		case a.Num < b.Num:
			return -1, true
		case a.Num > b.Num:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Kind == cellval.KindString && b.Kind == cellval.KindString {
		return strings.Compare(strings.ToUpper(a.Str), strings.ToUpper(b.Str)), true
	}
	if a.Kind == cellval.KindBool && b.Kind == cellval.KindBool {
		switch {
		case a.Bool == b.Bool:
			return 0, true
		case a.Bool:
			return 1, true
		default:
			return -1, true
		}
	}
	if (a.Kind == cellval.KindNumber || a.Kind == cellval.KindBool) && (b.Kind == cellval.KindNumber || b.Kind == cellval.KindBool) {
		// Mixed number/bool: the boolean takes part as 0 or 1.
		asNum := func(v cellval.CellValue) float64 {
			if v.Kind == cellval.KindBool {
				if v.Bool {
					return 1
				}
				return 0
			}
			return v.Num
		}
		return compareValues(cellval.Number(asNum(a)), cellval.Number(asNum(b)))
	}
	if a.Kind == cellval.KindEmpty && b.Kind == cellval.KindEmpty {
		return 0, true
	}
	return 0, false
}
