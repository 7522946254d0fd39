// Package colsearch implements the engine's column search index: the
// strategy a lookup function (MATCH, VLOOKUP) uses to locate a value inside
// a column of cells. The strategy is chosen once at engine construction and
// represented as a sum type, not a subclass hierarchy, the same
// construction-time selection the address mapping uses for Dense/Sparse.
package colsearch

import (
	"sort"
	"strings"

	"github.com/driftline/formulacore/internal/cellval"
)

// Strategy selects how a column is searched.
type Strategy int

const (
	// Linear scans every cell in order. Correct on any column, O(n) per
	// lookup.
	Linear Strategy = iota
	// Binary bisects the column, requiring it to be sorted ascending the
	// way Excel's range-lookup forms of MATCH/VLOOKUP do. On an unsorted
	// column it degrades to the same "last value <= target" contract those
	// functions document: garbage in, garbage out, never a crash.
	Binary
)

// Search is the column search index handed to the interpreter.
type Search struct {
	strategy Strategy
}

// New builds a Search using the given strategy for approximate lookups.
// Exact lookups always scan: a binary search cannot find an exact match in
// an unsorted column, and the caller asking for exactness is usually asking
// because the column is unsorted.
func New(strategy Strategy) *Search {
	return &Search{strategy: strategy}
}

// FindExact returns the zero-based index of the first cell in column equal
// to target, or -1. String comparison is case-insensitive, matching
// spreadsheet lookup semantics.
func (s *Search) FindExact(column []cellval.CellValue, target cellval.CellValue) int {
	for i, v := range column {
		if lookupEqual(v, target) {
			return i
		}
	}
	return -1
}

// FindLastLessOrEqual returns the zero-based index of the last cell in
// column whose value is <= target, or -1 if every cell exceeds target. This
// is the approximate-match contract of MATCH(..., 1) and VLOOKUP's
// range-lookup form.
func (s *Search) FindLastLessOrEqual(column []cellval.CellValue, target cellval.CellValue) int {
	if s.strategy == Binary {
		// sort.Search finds the first index whose value exceeds target; the
		// answer is the index just before it.
		n := sort.Search(len(column), func(i int) bool {
			return lookupCompare(column[i], target) > 0
		})
		return n - 1
	}
	best := -1
	for i, v := range column {
		if lookupCompare(v, target) <= 0 {
			best = i
		}
	}
	return best
}

func lookupEqual(a, b cellval.CellValue) bool {
	if a.Kind == cellval.KindString && b.Kind == cellval.KindString {
		return strings.EqualFold(a.Str, b.Str)
	}
	return a.Equal(b)
}

// lookupCompare orders two cells for approximate matching: numbers before
// strings before booleans (the spreadsheet sort order), same-kind values by
// their natural order. Incomparable pairs order by kind only.
func lookupCompare(a, b cellval.CellValue) int {
	ka, kb := kindRank(a), kindRank(b)
	if ka != kb {
		return ka - kb
	}
	switch a.Kind {
	case cellval.KindNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case cellval.KindString:
		return strings.Compare(strings.ToUpper(a.Str), strings.ToUpper(b.Str))
	case cellval.KindBool:
		switch {
		case a.Bool == b.Bool:
			return 0
		case a.Bool:
			return 1
		}
		return -1
	}
	return 0
}

func kindRank(v cellval.CellValue) int {
	switch v.Kind {
	case cellval.KindNumber:
		return 0
	case cellval.KindString:
		return 1
	case cellval.KindBool:
		return 2
	default:
		return 3
	}
}
