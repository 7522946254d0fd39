// Package rangemap canonicalizes range references (e.g. A1:A10) to a
// single shared VertexID, so two formulas that reference the same range
// don't each get their own dependency-graph fan-out node, and indexes the
// containment relation between ranges so a sub-range can find an
// already-materialized super-range.
package rangemap

import "github.com/driftline/formulacore/internal/cellval"

// Table canonicalizes RangeAddress values to a single VertexID each, with
// refcounting so a range vertex is GC'd once nothing references it anymore.
type Table struct {
	addrToID  map[cellval.RangeAddress]cellval.VertexID
	idToAddr  map[cellval.VertexID]cellval.RangeAddress
	refCounts map[cellval.VertexID]int
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		addrToID:  make(map[cellval.RangeAddress]cellval.VertexID),
		idToAddr:  make(map[cellval.VertexID]cellval.RangeAddress),
		refCounts: make(map[cellval.VertexID]int),
	}
}

// Lookup returns the existing vertex for addr, if any, without creating one.
func (t *Table) Lookup(addr cellval.RangeAddress) (cellval.VertexID, bool) {
	id, ok := t.addrToID[addr]
	return id, ok
}

// Bind records that addr canonicalizes to id (the caller, the graph builder,
// owns vertex allocation; this table just owns the address<->id mapping)
// and bumps its refcount.
func (t *Table) Bind(addr cellval.RangeAddress, id cellval.VertexID) {
	if existing, ok := t.addrToID[addr]; ok {
		if existing == id {
			t.refCounts[id]++
		}
		return
	}
	t.addrToID[addr] = id
	t.idToAddr[id] = addr
	t.refCounts[id] = 1
}

// AddRef increments id's reference count (another formula now names the
// same range).
func (t *Table) AddRef(id cellval.VertexID) { t.refCounts[id]++ }

// RemoveRef decrements id's reference count, evicting the binding and
// returning true if it reached zero.
func (t *Table) RemoveRef(id cellval.VertexID) bool {
	t.refCounts[id]--
	if t.refCounts[id] > 0 {
		return false
	}
	if addr, ok := t.idToAddr[id]; ok {
		delete(t.addrToID, addr)
	}
	delete(t.idToAddr, id)
	delete(t.refCounts, id)
	return true
}

// Address returns the RangeAddress bound to id.
func (t *Table) Address(id cellval.VertexID) (cellval.RangeAddress, bool) {
	addr, ok := t.idToAddr[id]
	return addr, ok
}

// ContainingRanges returns every already-canonicalized range on addr.Sheet
// that fully contains addr: a formula referencing B2:B5 inside a sheet that
// already has an A1:Z100 range vertex can fan in from that larger range's
// edges instead of re-walking every cell.
func (t *Table) ContainingRanges(addr cellval.RangeAddress) []cellval.VertexID {
	var out []cellval.VertexID
	for candidateAddr, id := range t.addrToID {
		if candidateAddr == addr {
			continue
		}
		if candidateAddr.ContainsRange(addr) {
			out = append(out, id)
		}
	}
	return out
}

// ResizeOnInsertRowCol shifts every bound RangeAddress on a sheet whose
// bounds fall at-or-after `at` on the given axis by delta, mirroring
// address.Mapping's structural-edit handling. Ranges that straddle the
// insertion/deletion point grow or shrink rather than shift wholesale;
// ranges entirely before `at` are untouched.
func (t *Table) ResizeOnInsertRowCol(sheet cellval.SheetID, axisIsRow bool, at uint32, delta int64) {
	type rebind struct {
		old, new cellval.RangeAddress
		id       cellval.VertexID
	}
	var rebinds []rebind
	for addr, id := range t.addrToID {
		if addr.Sheet != sheet {
			continue
		}
		start, end := addr.StartRow, addr.EndRow
		if !axisIsRow {
			start, end = addr.StartCol, addr.EndCol
		}
		newStart, newEnd := start, end
		switch {
		case at <= start:
			newStart = shiftBound(start, delta)
			newEnd = shiftBound(end, delta)
		case at > start && at <= end:
			// insertion/deletion point falls inside the range: the range
			// grows or shrinks, its start is untouched.
			newEnd = shiftBound(end, delta)
		default:
			continue // entirely before `at`, untouched
		}
		newAddr := addr
		if axisIsRow {
			newAddr.StartRow, newAddr.EndRow = newStart, newEnd
		} else {
			newAddr.StartCol, newAddr.EndCol = newStart, newEnd
		}
		if newAddr != addr {
			rebinds = append(rebinds, rebind{addr, newAddr, id})
		}
	}
	for _, rb := range rebinds {
		delete(t.addrToID, rb.old)
		t.addrToID[rb.new] = rb.id
		t.idToAddr[rb.id] = rb.new
	}
}

func shiftBound(v uint32, delta int64) uint32 {
	if v == cellval.Unbounded {
		return v
	}
	shifted := int64(v) + delta
	if shifted < 0 {
		return 0
	}
	return uint32(shifted)
}
