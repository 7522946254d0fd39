package rangemap

import (
	"testing"

	"github.com/driftline/formulacore/internal/cellval"
)

func ra(startRow, startCol, endRow, endCol uint32) cellval.RangeAddress {
	return cellval.RangeAddress{Sheet: 1, StartRow: startRow, StartCol: startCol, EndRow: endRow, EndCol: endCol}
}

func vid(n uint32) cellval.VertexID {
	return cellval.VertexID{Index: n, Generation: 1}
}

func TestBindAndLookup(t *testing.T) {
	tbl := New()
	addr := ra(0, 0, 9, 0)
	if _, ok := tbl.Lookup(addr); ok {
		t.Fatal("empty table reported a binding")
	}
	tbl.Bind(addr, vid(1))
	got, ok := tbl.Lookup(addr)
	if !ok || got != vid(1) {
		t.Fatalf("Lookup = (%v, %v)", got, ok)
	}
	if back, ok := tbl.Address(vid(1)); !ok || back != addr {
		t.Fatalf("Address = (%v, %v)", back, ok)
	}
}

func TestRefCountGC(t *testing.T) {
	tbl := New()
	addr := ra(0, 0, 9, 0)
	tbl.Bind(addr, vid(1))
	tbl.AddRef(vid(1))

	if collected := tbl.RemoveRef(vid(1)); collected {
		t.Fatal("collected while a ref remained")
	}
	if collected := tbl.RemoveRef(vid(1)); !collected {
		t.Fatal("last RemoveRef did not collect")
	}
	if _, ok := tbl.Lookup(addr); ok {
		t.Fatal("binding survived collection")
	}
}

func TestContainingRanges(t *testing.T) {
	tbl := New()
	tbl.Bind(ra(0, 0, 99, 25), vid(1)) // A1:Z100
	tbl.Bind(ra(0, 0, 9, 0), vid(2))   // A1:A10

	got := tbl.ContainingRanges(ra(1, 1, 4, 1)) // B2:B5
	if len(got) != 1 || got[0] != vid(1) {
		t.Fatalf("ContainingRanges = %v, want just the big range", got)
	}
}

func TestResizeShiftsWholeRange(t *testing.T) {
	tbl := New()
	tbl.Bind(ra(5, 0, 9, 0), vid(1)) // A6:A10

	tbl.ResizeOnInsertRowCol(1, true, 0, 2)

	if _, ok := tbl.Lookup(ra(5, 0, 9, 0)); ok {
		t.Fatal("old binding survived the shift")
	}
	got, ok := tbl.Lookup(ra(7, 0, 11, 0))
	if !ok || got != vid(1) {
		t.Fatal("range did not shift down by 2")
	}
}

func TestResizeGrowsStraddlingRange(t *testing.T) {
	tbl := New()
	tbl.Bind(ra(0, 0, 9, 0), vid(1)) // A1:A10

	// Insert inside the range: start pinned, end grows.
	tbl.ResizeOnInsertRowCol(1, true, 5, 3)

	got, ok := tbl.Lookup(ra(0, 0, 12, 0))
	if !ok || got != vid(1) {
		t.Fatal("straddling range did not grow")
	}
}

func TestResizeShrinksOnDelete(t *testing.T) {
	tbl := New()
	tbl.Bind(ra(0, 0, 9, 0), vid(1))

	tbl.ResizeOnInsertRowCol(1, true, 5, -2)

	got, ok := tbl.Lookup(ra(0, 0, 7, 0))
	if !ok || got != vid(1) {
		t.Fatal("straddling range did not shrink")
	}
}

func TestResizeIgnoresOtherSheets(t *testing.T) {
	tbl := New()
	tbl.Bind(ra(0, 0, 9, 0), vid(1))
	tbl.ResizeOnInsertRowCol(2, true, 0, 5)
	if _, ok := tbl.Lookup(ra(0, 0, 9, 0)); !ok {
		t.Fatal("resize on another sheet moved this sheet's range")
	}
}
