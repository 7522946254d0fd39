package depgraph

import (
	"github.com/driftline/formulacore/internal/asttransform"
	"github.com/driftline/formulacore/internal/cellval"
)

// Graph is the full dependency graph: vertex arena, edges, dirty/volatile
// sets. "Precedent" = depended upon, "dependent" = depends on this vertex.
type Graph struct {
	arena *arena

	precedents map[cellval.VertexID][]cellval.VertexID
	dependents map[cellval.VertexID][]cellval.VertexID

	dirty    map[cellval.VertexID]struct{}
	volatile map[cellval.VertexID]struct{}

	// insertOrder gives every vertex a monotonic sequence number at
	// creation time, used to break ties deterministically in traversal
	// (map iteration order is otherwise nondeterministic in Go).
	insertOrder map[cellval.VertexID]int
	nextOrder   int
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		arena:       newArena(),
		precedents:  make(map[cellval.VertexID][]cellval.VertexID),
		dependents:  make(map[cellval.VertexID][]cellval.VertexID),
		dirty:       make(map[cellval.VertexID]struct{}),
		volatile:    make(map[cellval.VertexID]struct{}),
		insertOrder: make(map[cellval.VertexID]int),
	}
}

// AddVertex allocates a new vertex and returns its handle.
func (g *Graph) AddVertex(v Vertex) cellval.VertexID {
	id := g.arena.alloc(v)
	g.insertOrder[id] = g.nextOrder
	g.nextOrder++
	return id
}

// Vertex returns a copy of id's data, or false if id is stale/unknown.
func (g *Graph) Vertex(id cellval.VertexID) (Vertex, bool) {
	v := g.arena.resolve(id)
	if v == nil {
		return Vertex{}, false
	}
	return *v, true
}

// SetFormula updates id's formula text.
func (g *Graph) SetFormula(id cellval.VertexID, formula string) {
	if v := g.arena.resolve(id); v != nil {
		v.Formula = formula
	}
}

// SetAddress updates id's cell address, used by Operations after a
// row/column insert or delete shifts the cells of a sheet (the vertex keeps
// its identity and edges; only its coordinates move).
func (g *Graph) SetAddress(id cellval.VertexID, addr cellval.CellAddress) {
	if v := g.arena.resolve(id); v != nil {
		v.Cell = addr
	}
}

// SetValue updates id's cached value.
func (g *Graph) SetValue(id cellval.VertexID, value cellval.CellValue) {
	if v := g.arena.resolve(id); v != nil {
		v.Value = value
	}
}

// SetAST updates id's parked-AST handle (GraphBuilder/Operations call this
// once the AST is parsed and handed to asttransform.Service.Park).
func (g *Graph) SetAST(id cellval.VertexID, ast asttransform.ASTID) {
	if v := g.arena.resolve(id); v != nil {
		v.AST = ast
	}
}

// SetArrayExtent records the rectangle an array formula's last evaluation
// occupied. Re-linking spilled cells on an extent change is the evaluator's
// job; this just persists the extent it re-links against.
func (g *Graph) SetArrayExtent(id cellval.VertexID, isArray bool, rows, cols uint32) {
	if v := g.arena.resolve(id); v != nil {
		v.IsArray, v.ArrayRows, v.ArrayCols = isArray, rows, cols
	}
}

// InsertOrder returns id's creation sequence number, used by the evaluator
// to visit cycle members in a stable, deterministic order.
func (g *Graph) InsertOrder(id cellval.VertexID) int { return g.insertOrder[id] }

// RemoveVertex detaches id from every edge it participates in and frees its
// arena slot. Idempotent: removing an already-removed or unknown id is a
// no-op; no caller needs to distinguish "already gone" from "just
// removed".
func (g *Graph) RemoveVertex(id cellval.VertexID) {
	if g.arena.resolve(id) == nil {
		return
	}
	for _, precedent := range g.precedents[id] {
		g.dependents[precedent] = removeFrom(g.dependents[precedent], id)
	}
	for _, dependent := range g.dependents[id] {
		g.precedents[dependent] = removeFrom(g.precedents[dependent], id)
	}
	delete(g.precedents, id)
	delete(g.dependents, id)
	delete(g.dirty, id)
	delete(g.volatile, id)
	delete(g.insertOrder, id)
	g.arena.release(id)
}

func removeFrom(list []cellval.VertexID, target cellval.VertexID) []cellval.VertexID {
	for i, v := range list {
		if v == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// AddEdge records that `from` depends on `to` (from has a precedent `to`).
func (g *Graph) AddEdge(from, to cellval.VertexID) {
	if !contains(g.precedents[from], to) {
		g.precedents[from] = append(g.precedents[from], to)
	}
	if !contains(g.dependents[to], from) {
		g.dependents[to] = append(g.dependents[to], from)
	}
}

// RemoveEdge removes the from-depends-on-to edge, if present.
func (g *Graph) RemoveEdge(from, to cellval.VertexID) {
	g.precedents[from] = removeFrom(g.precedents[from], to)
	g.dependents[to] = removeFrom(g.dependents[to], from)
}

func contains(list []cellval.VertexID, target cellval.VertexID) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// ClearEdges removes id's outgoing edges to its precedents, without removing
// id itself; edges from id's dependents to id are kept (used before
// re-linking a formula cell's dependencies after an edit).
func (g *Graph) ClearEdges(id cellval.VertexID) {
	for _, precedent := range g.precedents[id] {
		g.dependents[precedent] = removeFrom(g.dependents[precedent], id)
	}
	g.precedents[id] = nil
}

// Precedents returns the vertices id directly depends on.
func (g *Graph) Precedents(id cellval.VertexID) []cellval.VertexID {
	return g.precedents[id]
}

// Dependents returns the vertices that directly depend on id.
func (g *Graph) Dependents(id cellval.VertexID) []cellval.VertexID {
	return g.dependents[id]
}

// MarkDirty marks id, and transitively every vertex that depends on it, as
// needing recalculation. Idempotent, and terminates on cycles.
func (g *Graph) MarkDirty(id cellval.VertexID) {
	if _, already := g.dirty[id]; already {
		return
	}
	g.dirty[id] = struct{}{}
	for _, dependent := range g.dependents[id] {
		g.MarkDirty(dependent)
	}
}

// ClearDirty clears id's dirty flag without touching its dependents.
func (g *Graph) ClearDirty(id cellval.VertexID) { delete(g.dirty, id) }

// DirtySet returns every currently-dirty vertex, order unspecified.
func (g *Graph) DirtySet() []cellval.VertexID {
	out := make([]cellval.VertexID, 0, len(g.dirty))
	for id := range g.dirty {
		out = append(out, id)
	}
	return out
}

// IsDirty reports whether id is marked dirty.
func (g *Graph) IsDirty(id cellval.VertexID) bool {
	_, ok := g.dirty[id]
	return ok
}

// MarkVolatile marks id as containing a volatile function (always
// recalculated, regardless of dirty state).
func (g *Graph) MarkVolatile(id cellval.VertexID) { g.volatile[id] = struct{}{} }

// UnmarkVolatile removes id's volatile marking.
func (g *Graph) UnmarkVolatile(id cellval.VertexID) { delete(g.volatile, id) }

// IsVolatile reports whether id is marked volatile.
func (g *Graph) IsVolatile(id cellval.VertexID) bool {
	_, ok := g.volatile[id]
	return ok
}

// VolatileSet returns every volatile vertex.
func (g *Graph) VolatileSet() []cellval.VertexID {
	out := make([]cellval.VertexID, 0, len(g.volatile))
	for id := range g.volatile {
		out = append(out, id)
	}
	return out
}

// MarkAllVolatileDirty marks every volatile vertex dirty, used at the start
// of a recalculation pass.
func (g *Graph) MarkAllVolatileDirty() {
	for id := range g.volatile {
		g.MarkDirty(id)
	}
}

// VertexCount returns the number of live vertices.
func (g *Graph) VertexCount() int { return g.arena.count }
