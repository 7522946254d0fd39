package cellval

// VertexID is a generational arena handle into the dependency graph.
// Index is the slot; Generation increments every time that slot is reused
// after a RemoveVertex, so a stale VertexID held by a cell's AddressMapping
// entry can never silently resolve to an unrelated, later vertex.
type VertexID struct {
	Index      uint32
	Generation uint32
}

// NilVertex is the zero value, never assigned to a real vertex (the arena
// reserves slot/generation 0 for "none").
var NilVertex = VertexID{}

// Valid reports whether v could plausibly refer to a live vertex (it may
// still be stale; only the arena can confirm liveness via Generation).
func (v VertexID) Valid() bool { return v != NilVertex }
