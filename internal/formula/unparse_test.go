package formula

import (
	"testing"

	"github.com/driftline/formulacore/internal/cellval"
)

func sheetNamer(id cellval.SheetID) (string, bool) {
	switch id {
	case 1:
		return "Sheet1", true
	case 2:
		return "Sheet2", true
	case 3:
		return "My Sheet", true
	default:
		return "", false
	}
}

// Round-trip: unparse(parse(s)) reproduces the canonical form of s, and
// parsing the canonical form is a fixed point.
func TestUnparseRoundTrip(t *testing.T) {
	home := cellval.CellAddress{Sheet: 1, Row: 4, Col: 2} // C5
	ctx := testContext(4, 2)

	cases := []struct {
		formula   string
		canonical string
	}{
		{"=1+2", "=1+2"},
		{"=A1", "=A1"},
		{"=A1+B2*3", "=A1+B2*3"},
		{"=(A1+B2)*3", "=(A1+B2)*3"},
		{"=SUM(A1:A10)", "=SUM(A1:A10)"},
		{"=sum(a1:a10)", "=SUM(A1:A10)"},
		{"=Sheet2!A1", "=Sheet2!A1"},
		{"=Sheet2!A1:B2", "=Sheet2!A1:B2"},
		{"='My Sheet'!A1", "='My Sheet'!A1"},
		{`="a"&"b"`, `="a"&"b"`},
		{"=-A1", "=-A1"},
		{"=50%", "=50%"},
		{"=A1<>B1", "=A1<>B1"},
		{"=A1<=2", "=A1<=2"},
		{"=TRUE", "=TRUE"},
		{"=IF(A1>0,1,-1)", "=IF(A1>0,1,-1)"},
		{"=1.5*2", "=1.5*2"},
		{"=10-(2-3)", "=10-(2-3)"},
		{"=10-2-3", "=10-2-3"},
	}
	for _, c := range cases {
		node, err := Parse(c.formula, ctx)
		if err != nil {
			t.Errorf("%s: parse error: %v", c.formula, err)
			continue
		}
		got := Unparse(node, home, sheetNamer)
		if got != c.canonical {
			t.Errorf("unparse(%s) = %s, want %s", c.formula, got, c.canonical)
		}

		// Fixed point: the canonical form parses back to the same text.
		again, err := Parse(got, ctx)
		if err != nil {
			t.Errorf("%s: canonical form %q does not re-parse: %v", c.formula, got, err)
			continue
		}
		if second := Unparse(again, home, sheetNamer); second != got {
			t.Errorf("%s: canonical form is not a fixed point: %q -> %q", c.formula, got, second)
		}
	}
}

func TestUnparseShiftsWithHome(t *testing.T) {
	// "=A1+B1" parsed at C1 carries offsets; unparsed from C2 (the position
	// the formula lands on after a row insert above it) it reads "=A2+B2".
	node, err := Parse("=A1+B1", testContext(0, 2))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := Unparse(node, cellval.CellAddress{Sheet: 1, Row: 1, Col: 2}, sheetNamer)
	if got != "=A2+B2" {
		t.Errorf("unparse from shifted home = %s, want =A2+B2", got)
	}
}

func TestUnparseDanglingReference(t *testing.T) {
	// A reference whose offsets resolve above row 0 has no address to print.
	node, err := Parse("=A1", testContext(0, 0))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ref := node.(*CellRefNode)
	ref.RowOffset = -1
	got := Unparse(ref, cellval.CellAddress{Sheet: 1, Row: 0, Col: 0}, sheetNamer)
	if got != "=#REF!" {
		t.Errorf("dangling unparse = %s, want =#REF!", got)
	}
}

func TestUnparseErrorLiteral(t *testing.T) {
	node := &ErrorLiteralNode{Kind: cellval.ErrRef}
	got := Unparse(node, cellval.CellAddress{Sheet: 1}, sheetNamer)
	if got != "=#REF!" {
		t.Errorf("error literal unparse = %s, want =#REF!", got)
	}
}
