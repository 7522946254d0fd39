package cellval

import (
	"math"
	"testing"
)

func TestParseA1(t *testing.T) {
	cases := []struct {
		ref      string
		row, col uint32
	}{
		{"A1", 0, 0},
		{"B2", 1, 1},
		{"Z10", 9, 25},
		{"AA1", 0, 26},
		{"AB100", 99, 27},
		{"$C$3", 2, 2},
		{"c3", 2, 2},
	}
	for _, c := range cases {
		row, col, err := ParseA1(c.ref)
		if err != nil {
			t.Errorf("ParseA1(%q): %v", c.ref, err)
			continue
		}
		if row != c.row || col != c.col {
			t.Errorf("ParseA1(%q) = (%d, %d), want (%d, %d)", c.ref, row, col, c.row, c.col)
		}
	}
}

func TestParseA1Invalid(t *testing.T) {
	for _, ref := range []string{"", "A", "1", "A0", "1A", "A-1", "!!"} {
		if _, _, err := ParseA1(ref); err == nil {
			t.Errorf("ParseA1(%q) should have failed", ref)
		}
	}
}

func TestFormatA1RoundTrip(t *testing.T) {
	for _, c := range []struct{ row, col uint32 }{{0, 0}, {9, 25}, {0, 26}, {99, 701}} {
		ref := FormatA1(c.row, c.col)
		row, col, err := ParseA1(ref)
		if err != nil || row != c.row || col != c.col {
			t.Errorf("round trip (%d, %d) -> %q -> (%d, %d, %v)", c.row, c.col, ref, row, col, err)
		}
	}
}

func TestColumnLetters(t *testing.T) {
	cases := map[uint32]string{0: "A", 25: "Z", 26: "AA", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for col, want := range cases {
		if got := ColumnLetters(col); got != want {
			t.Errorf("ColumnLetters(%d) = %q, want %q", col, got, want)
		}
	}
}

func TestValueEquality(t *testing.T) {
	if !Number(1).Equal(Number(1)) {
		t.Error("equal numbers not equal")
	}
	if Number(1).Equal(Text("1")) {
		t.Error("number equals string")
	}
	if Number(math.NaN()).Equal(Number(math.NaN())) {
		t.Error("NaN must not equal NaN")
	}
	if !Empty.Equal(CellValue{Kind: KindEmpty}) {
		t.Error("empties not equal")
	}
	a := ErrorValue(ErrRef, "one")
	b := ErrorValue(ErrRef, "two")
	if !a.Equal(b) {
		t.Error("errors of the same kind should be equal regardless of detail")
	}
}

func TestAsNumberCoercion(t *testing.T) {
	if n, ok := Bool(true).AsNumber(); !ok || n != 1 {
		t.Error("TRUE should coerce to 1")
	}
	if n, ok := Empty.AsNumber(); !ok || n != 0 {
		t.Error("Empty should coerce to 0")
	}
	if _, ok := Text("x").AsNumber(); ok {
		t.Error("text must not coerce")
	}
	if _, ok := ErrorValue(ErrValue, "").AsNumber(); ok {
		t.Error("errors must not coerce")
	}
}

func TestRangeContains(t *testing.T) {
	r := RangeAddress{Sheet: 1, StartRow: 1, StartCol: 1, EndRow: 3, EndCol: 3}
	if !r.Contains(CellAddress{Sheet: 1, Row: 2, Col: 2}) {
		t.Error("interior cell not contained")
	}
	if r.Contains(CellAddress{Sheet: 2, Row: 2, Col: 2}) {
		t.Error("other sheet contained")
	}
	if r.Contains(CellAddress{Sheet: 1, Row: 4, Col: 2}) {
		t.Error("cell past the end contained")
	}

	open := RangeAddress{Sheet: 1, StartRow: 0, StartCol: 0, EndRow: Unbounded, EndCol: 0}
	if !open.Contains(CellAddress{Sheet: 1, Row: 1 << 20, Col: 0}) {
		t.Error("open range must contain any row")
	}
	if open.Area() != -1 {
		t.Error("open range area must be -1")
	}
}
