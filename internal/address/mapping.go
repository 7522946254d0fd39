// Package address implements the per-sheet address mapping: storage of
// cell vertices keyed by (row, col), with two storage strategies chosen
// once at sheet creation and fixed for that sheet's lifetime.
//
// Dense keeps a flat column-major grid sized to the observed bounds; the
// grid element is a single VertexID, so one growable slice per sheet is
// cheap enough without tiling. Sparse is a plain map with no
// pre-allocation, the right shape for mostly-empty sheets.
package address

import "github.com/driftline/formulacore/internal/cellval"

// Strategy is the storage strategy, chosen once at NewMapping and never
// changed for the life of the sheet.
type Strategy int

const (
	// Dense stores vertices in a flat, column-major slice sized to the
	// largest row/col seen so far. Fast iteration, O(rows*cols) memory.
	Dense Strategy = iota
	// Sparse stores vertices in a map. Slow iteration over a region, O(set
	// cells) memory, the right choice for mostly-empty sheets.
	Sparse
)

// DensityThreshold is the occupancy ratio (non-empty cells / observed area)
// above which a bulk build requests Dense for a new sheet. The builder
// decides; Mapping itself just honors whichever Strategy it's constructed
// with.
const DensityThreshold = 0.2

// Mapping is one sheet's (row, col) -> VertexID index.
type Mapping struct {
	strategy Strategy
	sheet    cellval.SheetID

	// dense storage
	rows, cols uint32
	grid       []cellval.VertexID

	// sparse storage
	sparse map[cellval.CellAddress]cellval.VertexID
	// sparseRows/sparseCols track the high-water mark of occupied
	// coordinates for Sparse mappings, since there is no backing grid to
	// ask for a size. Never shrinks on Remove; a conservative (slightly
	// too generous) bound is fine for resolving an open range like "A:A",
	// which only needs *an* upper bound on where materialized data could
	// be, not a tight one.
	sparseRows, sparseCols uint32
}

// NewMapping creates a Mapping for sheet using the given strategy.
// rows/cols are only consulted for Dense (the initial grid capacity); a
// Sparse mapping ignores them.
func NewMapping(sheet cellval.SheetID, strategy Strategy, rows, cols uint32) *Mapping {
	m := &Mapping{strategy: strategy, sheet: sheet}
	if strategy == Dense {
		m.rows, m.cols = rows, cols
		if rows > 0 && cols > 0 {
			m.grid = make([]cellval.VertexID, uint64(rows)*uint64(cols))
		}
	} else {
		m.sparse = make(map[cellval.CellAddress]cellval.VertexID)
	}
	return m
}

// Strategy reports which storage strategy this mapping uses.
func (m *Mapping) Strategy() Strategy { return m.strategy }

func (m *Mapping) index(row, col uint32) (uint64, bool) {
	if row >= m.rows || col >= m.cols {
		return 0, false
	}
	// column-major: per-column iteration is the hot path for range reads.
	return uint64(col)*uint64(m.rows) + uint64(row), true
}

// Get returns the vertex at (row, col). The second return is false for a
// never-materialized address, distinct from an explicitly materialized
// empty-cell vertex, which callers must not conflate with "never set".
func (m *Mapping) Get(row, col uint32) (cellval.VertexID, bool) {
	if m.strategy == Dense {
		idx, ok := m.index(row, col)
		if !ok {
			return cellval.NilVertex, false
		}
		v := m.grid[idx]
		return v, v.Valid()
	}
	v, ok := m.sparse[cellval.CellAddress{Sheet: m.sheet, Row: row, Col: col}]
	return v, ok
}

// Set stores id at (row, col), growing the dense grid if needed.
func (m *Mapping) Set(row, col uint32, id cellval.VertexID) {
	if m.strategy == Dense {
		m.ensureCapacity(row, col)
		idx, _ := m.index(row, col)
		m.grid[idx] = id
		return
	}
	m.sparse[cellval.CellAddress{Sheet: m.sheet, Row: row, Col: col}] = id
	if row+1 > m.sparseRows {
		m.sparseRows = row + 1
	}
	if col+1 > m.sparseCols {
		m.sparseCols = col + 1
	}
}

// Bounds returns an upper bound on the occupied extent of the sheet: every
// materialized cell satisfies row < rows && col < cols. Used to resolve an
// open-ended range reference ("A:A", "3:3") to a finite extent.
func (m *Mapping) Bounds() (rows, cols uint32) {
	if m.strategy == Dense {
		return m.rows, m.cols
	}
	return m.sparseRows, m.sparseCols
}

// Remove clears any vertex at (row, col).
func (m *Mapping) Remove(row, col uint32) {
	if m.strategy == Dense {
		idx, ok := m.index(row, col)
		if !ok {
			return
		}
		m.grid[idx] = cellval.NilVertex
		return
	}
	delete(m.sparse, cellval.CellAddress{Sheet: m.sheet, Row: row, Col: col})
}

// ensureCapacity grows the dense grid to cover (row, col), re-laying out the
// column-major grid. The grid grows to exactly row+1 rows and col+1
// columns; there is no extra headroom.
func (m *Mapping) ensureCapacity(row, col uint32) {
	newRows, newCols := m.rows, m.cols
	if row >= newRows {
		newRows = row + 1
	}
	if col >= newCols {
		newCols = col + 1
	}
	if newRows == m.rows && newCols == m.cols {
		return
	}
	grown := make([]cellval.VertexID, uint64(newRows)*uint64(newCols))
	for c := uint32(0); c < m.cols; c++ {
		for r := uint32(0); r < m.rows; r++ {
			old := m.grid[uint64(c)*uint64(m.rows)+uint64(r)]
			if old.Valid() {
				grown[uint64(c)*uint64(newRows)+uint64(r)] = old
			}
		}
	}
	m.grid = grown
	m.rows, m.cols = newRows, newCols
}

// IterateRow yields (col, VertexID) for every materialized cell in row,
// up to maxCol (exclusive): in ascending column order for Dense, in
// unspecified order for Sparse.
func (m *Mapping) IterateRow(row, maxCol uint32) iterSeq {
	return func(yield func(col uint32, id cellval.VertexID) bool) {
		if m.strategy == Dense {
			if row >= m.rows {
				return
			}
			limit := m.cols
			if maxCol < limit {
				limit = maxCol
			}
			for c := uint32(0); c < limit; c++ {
				idx, _ := m.index(row, c)
				if v := m.grid[idx]; v.Valid() {
					if !yield(c, v) {
						return
					}
				}
			}
			return
		}
		for addr, id := range m.sparse {
			if addr.Row == row && addr.Col < maxCol {
				if !yield(addr.Col, id) {
					return
				}
			}
		}
	}
}

// IterateColumn yields (row, VertexID) for every materialized cell in col.
func (m *Mapping) IterateColumn(col, maxRow uint32) iterSeq {
	return func(yield func(row uint32, id cellval.VertexID) bool) {
		if m.strategy == Dense {
			if col >= m.cols {
				return
			}
			limit := m.rows
			if maxRow < limit {
				limit = maxRow
			}
			for r := uint32(0); r < limit; r++ {
				idx, _ := m.index(r, col)
				if v := m.grid[idx]; v.Valid() {
					if !yield(r, v) {
						return
					}
				}
			}
			return
		}
		for addr, id := range m.sparse {
			if addr.Col == col && addr.Row < maxRow {
				if !yield(addr.Row, id) {
					return
				}
			}
		}
	}
}

// IterateAll invokes visit for every materialized cell. Order is column-major
// for Dense, unspecified for Sparse. Callers that need determinism collect
// and sort.
func (m *Mapping) IterateAll(visit func(row, col uint32, id cellval.VertexID) bool) {
	if m.strategy == Dense {
		for c := uint32(0); c < m.cols; c++ {
			for r := uint32(0); r < m.rows; r++ {
				idx, _ := m.index(r, c)
				if v := m.grid[idx]; v.Valid() {
					if !visit(r, c, v) {
						return
					}
				}
			}
		}
		return
	}
	for addr, id := range m.sparse {
		if !visit(addr.Row, addr.Col, id) {
			return
		}
	}
}

// iterSeq mirrors iter.Seq2[uint32, cellval.VertexID] without requiring the
// range-over-func language feature at call sites that predate it;
// range-able directly in Go 1.23+.
type iterSeq func(yield func(pos uint32, id cellval.VertexID) bool)

// ResizeOnInsertRowCol shifts every materialized address at or after `at`
// by delta positions along the given axis. delta is positive for insertion,
// negative for deletion; cells that would land below zero are dropped. The
// caller must have already removed the deleted band's cells and recorded
// the transform that rewrites formulas pointing at them.
func (m *Mapping) ResizeOnInsertRowCol(axis Axis, at uint32, delta int64) {
	if m.strategy == Sparse {
		m.resizeSparse(axis, at, delta)
		return
	}
	m.resizeDense(axis, at, delta)
}

// Axis selects rows or columns for a structural resize.
type Axis int

const (
	AxisRow Axis = iota
	AxisCol
)

func (m *Mapping) resizeSparse(axis Axis, at uint32, delta int64) {
	shifted := make(map[cellval.CellAddress]cellval.VertexID, len(m.sparse))
	for addr, id := range m.sparse {
		pos := addr.Row
		if axis == AxisCol {
			pos = addr.Col
		}
		if pos < at {
			shifted[addr] = id
			continue
		}
		newPos := int64(pos) + delta
		if newPos < 0 {
			continue // cell removed by a column/row deletion
		}
		newAddr := addr
		if axis == AxisRow {
			newAddr.Row = uint32(newPos)
		} else {
			newAddr.Col = uint32(newPos)
		}
		shifted[newAddr] = id
		if newAddr.Row+1 > m.sparseRows {
			m.sparseRows = newAddr.Row + 1
		}
		if newAddr.Col+1 > m.sparseCols {
			m.sparseCols = newAddr.Col + 1
		}
	}
	m.sparse = shifted
}

func (m *Mapping) resizeDense(axis Axis, at uint32, delta int64) {
	// Rebuild via the sparse path conceptually: walk every occupied dense
	// cell, compute its shifted coordinate, and re-place it. Simpler than
	// in-place array surgery and correctness matters far more than a few
	// extra allocations on a structural edit, which is already O(sheet).
	type entry struct {
		row, col uint32
		id       cellval.VertexID
	}
	var entries []entry
	for c := uint32(0); c < m.cols; c++ {
		for r := uint32(0); r < m.rows; r++ {
			idx, _ := m.index(r, c)
			if v := m.grid[idx]; v.Valid() {
				entries = append(entries, entry{r, c, v})
			}
		}
	}
	newRows, newCols := m.rows, m.cols
	if axis == AxisRow {
		newRows = uint32(int64(m.rows) + delta)
	} else {
		newCols = uint32(int64(m.cols) + delta)
	}
	m.grid = make([]cellval.VertexID, uint64(newRows)*uint64(newCols))
	m.rows, m.cols = newRows, newCols
	for _, e := range entries {
		pos := e.row
		if axis == AxisCol {
			pos = e.col
		}
		if pos < at {
			m.Set(e.row, e.col, e.id)
			continue
		}
		newPos := int64(pos) + delta
		if newPos < 0 {
			continue
		}
		if axis == AxisRow {
			m.Set(uint32(newPos), e.col, e.id)
		} else {
			m.Set(e.row, uint32(newPos), e.id)
		}
	}
}
