package depgraph

import (
	"sort"

	"github.com/driftline/formulacore/internal/cellval"
)

// TopologicalOrder computes a calculation order over subset using Kahn's
// algorithm: in-degree zeroing, wave by wave. Collecting each wave from a
// Go map directly would make the recalculation order nondeterministic
// between runs on the same spreadsheet, so each ready wave is sorted by
// insertion order before being appended, so the same edits always
// recalculate in the same order.
//
// Returns ErrCycleDetected if subset (restricted to edges within subset)
// is not acyclic. Cycle handling itself (seeding, SCC condensation) is the
// evaluator's job, not this function's. Callers that tolerate cycles
// should route through StronglyConnectedComponents first and pass this
// function the condensed DAG.
func (g *Graph) TopologicalOrder(subset []cellval.VertexID) ([]cellval.VertexID, error) {
	inSubset := make(map[cellval.VertexID]struct{}, len(subset))
	for _, id := range subset {
		inSubset[id] = struct{}{}
	}

	inDegree := make(map[cellval.VertexID]int, len(subset))
	for _, id := range subset {
		degree := 0
		for _, precedent := range g.precedents[id] {
			if _, ok := inSubset[precedent]; ok {
				degree++
			}
		}
		inDegree[id] = degree
	}

	order := make([]cellval.VertexID, 0, len(subset))
	remaining := len(subset)

	for remaining > 0 {
		var wave []cellval.VertexID
		for id, degree := range inDegree {
			if degree == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, ErrCycleDetected
		}
		sort.Slice(wave, func(i, j int) bool {
			return g.insertOrder[wave[i]] < g.insertOrder[wave[j]]
		})
		for _, id := range wave {
			delete(inDegree, id)
			remaining--
			for _, dependent := range g.dependents[id] {
				if _, ok := inSubset[dependent]; ok {
					if _, stillPending := inDegree[dependent]; stillPending {
						inDegree[dependent]--
					}
				}
			}
		}
		order = append(order, wave...)
	}

	return order, nil
}
