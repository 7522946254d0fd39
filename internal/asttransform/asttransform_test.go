package asttransform

import (
	"testing"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/formula"
)

func parseAt(t *testing.T, text string, row, col int64) formula.Node {
	t.Helper()
	node, err := formula.Parse(text, &formula.ParserContext{
		CurrentSheet: 1,
		CurrentRow:   row,
		CurrentCol:   col,
		ResolveSheet: func(string) (cellval.SheetID, bool) { return 1, true },
	})
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	return node
}

func namer(id cellval.SheetID) (string, bool) { return "Sheet1", true }

func unparseAt(node formula.Node, row, col uint32) string {
	return formula.Unparse(node, cellval.CellAddress{Sheet: 1, Row: row, Col: col}, namer)
}

func TestMaterializeWithoutTransformsIsIdentity(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1+B1", 0, 2)
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 0, Col: 2}, node)

	got, ok := s.Materialize(id)
	if !ok {
		t.Fatal("Materialize: unknown id")
	}
	if text := unparseAt(got, 0, 2); text != "=A1+B1" {
		t.Errorf("got %s, want =A1+B1", text)
	}
}

func TestInsertRowShiftsReferences(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1+B1", 0, 2) // formula at C1
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 0, Col: 2}, node)

	s.RecordTransform(Transform{Kind: InsertRow, Sheet: 1, At: 0, Count: 1})

	got, _ := s.Materialize(id)
	// The formula's home moved to C2; its references follow their cells.
	if text := unparseAt(got, 1, 2); text != "=A2+B2" {
		t.Errorf("got %s, want =A2+B2", text)
	}
}

func TestInsertColumnShiftsReferences(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1*2", 0, 1) // formula at B1
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 0, Col: 1}, node)

	s.RecordTransform(Transform{Kind: InsertCol, Sheet: 1, At: 0, Count: 2})

	got, _ := s.Materialize(id)
	if text := unparseAt(got, 0, 3); text != "=C1*2" {
		t.Errorf("got %s, want =C1*2", text)
	}
}

func TestDeleteRowRewritesDanglingToRef(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1+A2", 2, 0) // formula at A3
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 2, Col: 0}, node)

	s.RecordTransform(Transform{Kind: DeleteRow, Sheet: 1, At: 0, Count: 1})

	got, _ := s.Materialize(id)
	// A1 was deleted (#REF!), A2 slid up to A1; the formula now lives at A2.
	if text := unparseAt(got, 1, 0); text != "=#REF!+A1" {
		t.Errorf("got %s, want =#REF!+A1", text)
	}
}

func TestDeleteRowShrinksStraddlingRange(t *testing.T) {
	s := New()
	node := parseAt(t, "=SUM(A1:A10)", 10, 0) // formula at A11
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 10, Col: 0}, node)

	s.RecordTransform(Transform{Kind: DeleteRow, Sheet: 1, At: 0, Count: 1})

	got, _ := s.Materialize(id)
	if text := unparseAt(got, 9, 0); text != "=SUM(A1:A9)" {
		t.Errorf("got %s, want =SUM(A1:A9)", text)
	}
}

func TestDeleteTailOfRangeClampsEnd(t *testing.T) {
	s := New()
	node := parseAt(t, "=SUM(A1:A10)", 10, 0)
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 10, Col: 0}, node)

	// Delete rows 9-10 (indices 8 and 9): the range end clamps to A8.
	s.RecordTransform(Transform{Kind: DeleteRow, Sheet: 1, At: 8, Count: 2})

	got, _ := s.Materialize(id)
	if text := unparseAt(got, 8, 0); text != "=SUM(A1:A8)" {
		t.Errorf("got %s, want =SUM(A1:A8)", text)
	}
}

func TestDeleteWholeRangeBecomesRef(t *testing.T) {
	s := New()
	node := parseAt(t, "=SUM(A2:A3)", 4, 0) // formula at A5
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 4, Col: 0}, node)

	s.RecordTransform(Transform{Kind: DeleteRow, Sheet: 1, At: 1, Count: 2})

	got, _ := s.Materialize(id)
	if text := unparseAt(got, 2, 0); text != "=SUM(#REF!)" {
		t.Errorf("got %s, want =SUM(#REF!)", text)
	}
}

func TestTransformsApplyLazilyAndOnce(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1", 0, 1)
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 0, Col: 1}, node)

	s.RecordTransform(Transform{Kind: InsertRow, Sheet: 1, At: 0, Count: 1})
	s.RecordTransform(Transform{Kind: InsertRow, Sheet: 1, At: 0, Count: 1})

	first, _ := s.Materialize(id)
	firstText := unparseAt(first, 2, 1)

	// A second Materialize with no new transforms must not re-apply the log.
	second, _ := s.Materialize(id)
	secondText := unparseAt(second, 2, 1)

	if firstText != "=A3" || secondText != "=A3" {
		t.Errorf("materialize twice = %s then %s, want =A3 both times", firstText, secondText)
	}
}

func TestTransformsOnOtherSheetsAreIgnored(t *testing.T) {
	s := New()
	node := parseAt(t, "=A1", 0, 1)
	id := s.Park(cellval.CellAddress{Sheet: 1, Row: 0, Col: 1}, node)

	s.RecordTransform(Transform{Kind: InsertRow, Sheet: 7, At: 0, Count: 5})

	got, _ := s.Materialize(id)
	if text := unparseAt(got, 0, 1); text != "=A1" {
		t.Errorf("got %s, want =A1", text)
	}
}

func TestVersionAdvances(t *testing.T) {
	s := New()
	if s.Version() != 0 {
		t.Fatalf("fresh service version = %d, want 0", s.Version())
	}
	s.RecordTransform(Transform{Kind: InsertRow, Sheet: 1, At: 0, Count: 1})
	if s.Version() != 1 {
		t.Errorf("version after one transform = %d, want 1", s.Version())
	}
}

func TestInverse(t *testing.T) {
	cases := []struct {
		in, want Kind
	}{
		{InsertRow, DeleteRow},
		{DeleteRow, InsertRow},
		{InsertCol, DeleteCol},
		{DeleteCol, InsertCol},
	}
	for _, c := range cases {
		inv := Transform{Kind: c.in, Sheet: 1, At: 3, Count: 2}.Inverse()
		if inv.Kind != c.want || inv.At != 3 || inv.Count != 2 {
			t.Errorf("Inverse(%v) = %+v, want kind %v at 3 count 2", c.in, inv, c.want)
		}
	}
}

func TestRemoveEvictsEntry(t *testing.T) {
	s := New()
	id := s.Park(cellval.CellAddress{Sheet: 1}, parseAt(t, "=1", 0, 0))
	s.Remove(id)
	if _, ok := s.Materialize(id); ok {
		t.Error("Materialize after Remove should report unknown id")
	}
}
