// Package depgraph implements the dependency graph: the typed vertex arena
// (cells, ranges, named expressions), its edges, dirty/volatile tracking,
// and the two traversal algorithms evaluation needs: a deterministic
// topological order (Kahn) and strongly connected component detection
// (Tarjan) for cycle handling.
//
// The vertex store is an arena with generational integer handles rather
// than shared-ownership pointers: a removed slot is recycled, and its
// generation increments, so a stale cellval.VertexID held elsewhere (e.g.
// an address-mapping entry not yet updated) can never resolve to an
// unrelated vertex that was allocated into the same slot later.
package depgraph

import (
	"github.com/driftline/formulacore/internal/asttransform"
	"github.com/driftline/formulacore/internal/cellval"
)

// VertexKind tags what a vertex represents. Kind-dependent behavior is
// dispatched by switching on it, not through an interface hierarchy, so a
// new kind fails loudly everywhere it isn't handled.
type VertexKind int

const (
	VertexCell VertexKind = iota
	VertexRange
	VertexNamed
)

// Vertex is one node in the dependency graph.
type Vertex struct {
	Kind VertexKind

	// Populated when Kind == VertexCell.
	Cell cellval.CellAddress

	// Populated when Kind == VertexRange.
	Range cellval.RangeAddress

	// Formula is the raw formula text, present for formula cells and named
	// expressions bound to a formula. A vertex can also exist for a plain
	// literal cell that something depends on; those leave Formula empty.
	Formula string

	// AST is the parked-AST handle owned by asttransform.Service, present
	// iff Formula != "". Zero (asttransform's reserved "no ast" value)
	// means no formula is parked.
	AST asttransform.ASTID

	// Value is the last computed/cached value.
	Value cellval.CellValue

	// IsArray marks a formula cell whose last evaluation returned a matrix
	// wider than 1x1. ArrayRows/ArrayCols record the extent anchored at
	// Cell; the evaluator re-links spilled cells whenever a re-evaluation
	// changes the shape.
	IsArray              bool
	ArrayRows, ArrayCols uint32

	// generation is bumped on RemoveVertex so stale handles referring to a
	// reused slot index are detectable.
	generation uint32
	// alive is false for a free slot (either never allocated or removed).
	alive bool
}

// arena stores vertices in slots addressed by index, with a free list of
// removed slots for reuse.
type arena struct {
	slots []Vertex
	free  []uint32 // indices of removed, reusable slots
	count int      // number of currently-alive vertices
}

func newArena() *arena {
	return &arena{}
}

// alloc reserves a slot for a new vertex, recycling a freed one if
// available, and returns its VertexID at the new generation.
func (a *arena) alloc(v Vertex) cellval.VertexID {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		gen := a.slots[idx].generation + 1
		v.generation = gen
		v.alive = true
		a.slots[idx] = v
		a.count++
		return cellval.VertexID{Index: idx + 1, Generation: gen}
	}
	v.generation = 1
	v.alive = true
	a.slots = append(a.slots, v)
	a.count++
	return cellval.VertexID{Index: uint32(len(a.slots)), Generation: v.generation}
}

// resolve returns a pointer to id's live vertex, or nil if id is stale or
// was never allocated. Index is 1-based (0 reserved for cellval.NilVertex).
func (a *arena) resolve(id cellval.VertexID) *Vertex {
	if id.Index == 0 || int(id.Index) > len(a.slots) {
		return nil
	}
	slot := &a.slots[id.Index-1]
	if !slot.alive || slot.generation != id.Generation {
		return nil
	}
	return slot
}

// release marks id's slot as reusable. No-op if id is already stale.
func (a *arena) release(id cellval.VertexID) {
	slot := a.resolve(id)
	if slot == nil {
		return
	}
	*slot = Vertex{generation: slot.generation}
	a.free = append(a.free, id.Index-1)
	a.count--
}
