package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/driftline/formulacore/internal/cellval"
)

// SheetNamer resolves a SheetID back to its display name for cross-sheet
// references. Returning false renders the reference as a #REF! error text,
// the same way a dangling sheet reads at evaluation time.
type SheetNamer func(id cellval.SheetID) (string, bool)

// Unparse renders a parsed formula back to its canonical text form, leading
// "=" included. References are resolved against home, so the same AST
// unparsed from two different home cells prints the two different absolute
// addresses its offsets denote, which is exactly what a formula shifted by
// a lazy row/column rewrite must display (a formula built as "=A1+B1" on C1
// reads "=A2+B2" once a row is inserted above it).
func Unparse(n Node, home cellval.CellAddress, sheets SheetNamer) string {
	return "=" + unparseNode(n, home, sheets, precLowest)
}

// Operator precedence tiers, matching the parser's descent chain
// (parseComparison -> parseConcatenation -> parseAddition ->
// parseMultiplication -> parsePower). A child is parenthesized when its
// precedence is strictly lower than its parent's context, so "=(A1+B1)*2"
// keeps its parens and "=A1+B1" stays bare.
const (
	precLowest = iota
	precComparison
	precConcat
	precAdditive
	precMultiplicative
	precPower
	precUnary
)

func binaryPrec(op BinaryOp) int {
	switch op {
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		return precComparison
	case BinOpConcat:
		return precConcat
	case BinOpAdd, BinOpSubtract:
		return precAdditive
	case BinOpMultiply, BinOpDivide, BinOpModulo:
		return precMultiplicative
	case BinOpPower:
		return precPower
	}
	return precLowest
}

func unparseNode(n Node, home cellval.CellAddress, sheets SheetNamer, parentPrec int) string {
	switch v := n.(type) {
	case *NumberNode:
		return formatNumber(v.Value)
	case *StringNode:
		return `"` + strings.ReplaceAll(v.Value, `"`, `""`) + `"`
	case *BooleanNode:
		if v.Value {
			return "TRUE"
		}
		return "FALSE"
	case *ErrorLiteralNode:
		return v.Kind.String()
	case *CellRefNode:
		return unparseCellRef(v, home, sheets)
	case *RangeNode:
		return unparseRange(v, home, sheets)
	case *NamedRefNode:
		return v.Name
	case *UnaryOpNode:
		operand := unparseNode(v.Operand, home, sheets, precUnary)
		switch v.Op {
		case UnaryOpMinus:
			return "-" + operand
		case UnaryOpPercent:
			return operand + "%"
		default:
			return "+" + operand
		}
	case *BinaryOpNode:
		prec := binaryPrec(v.Op)
		left := unparseNode(v.Left, home, sheets, prec)
		// The right operand of a same-precedence non-associative pair keeps
		// its parens: "=A1-(B1-C1)" must not flatten to "=A1-B1-C1".
		right := unparseNode(v.Right, home, sheets, prec+1)
		text := left + binaryOpSymbol(v.Op) + right
		if prec < parentPrec {
			return "(" + text + ")"
		}
		return text
	case *FunctionCallNode:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = unparseNode(a, home, sheets, precLowest)
		}
		return strings.ToUpper(v.Name) + "(" + strings.Join(args, ",") + ")"
	default:
		return fmt.Sprintf("<%T>", n)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func unparseCellRef(v *CellRefNode, home cellval.CellAddress, sheets SheetNamer) string {
	row := int64(home.Row) + v.RowOffset
	col := int64(home.Col) + v.ColOffset
	if row < 0 || col < 0 {
		return cellval.ErrRef.String()
	}
	a1 := cellval.FormatA1(uint32(row), uint32(col))
	if v.SheetBound {
		name, ok := sheetPrefix(v.Sheet, sheets)
		if !ok {
			return cellval.ErrRef.String()
		}
		return name + a1
	}
	return a1
}

func unparseRange(v *RangeNode, home cellval.CellAddress, sheets SheetNamer) string {
	startRow := int64(home.Row) + v.StartRowOffset
	startCol := int64(home.Col) + v.StartColOffset
	endRow := int64(home.Row) + v.EndRowOffset
	endCol := int64(home.Col) + v.EndColOffset
	if startRow < 0 || startCol < 0 || endRow < 0 || endCol < 0 {
		return cellval.ErrRef.String()
	}
	text := cellval.FormatA1(uint32(startRow), uint32(startCol)) + ":" +
		cellval.FormatA1(uint32(endRow), uint32(endCol))
	if v.SheetBound {
		name, ok := sheetPrefix(v.Sheet, sheets)
		if !ok {
			return cellval.ErrRef.String()
		}
		return name + text
	}
	return text
}

// sheetPrefix renders a sheet qualifier, quoting names that would not lex as
// a bare identifier ("My Sheet" -> "'My Sheet'!").
func sheetPrefix(id cellval.SheetID, sheets SheetNamer) (string, bool) {
	if sheets == nil {
		return "", false
	}
	name, ok := sheets(id)
	if !ok {
		return "", false
	}
	if strings.ContainsAny(name, " !':") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'!", true
	}
	return name + "!", true
}
