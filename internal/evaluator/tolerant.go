package evaluator

import (
	"sort"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/depgraph"
)

// evalTolerantSCC implements the tolerant-mode cycle policy: seed every
// member, then evaluate the component exactly once, in insertion order,
// with no fixed-point iteration.
//
// A member seeded from initialComputedValues keeps the seed as its value for
// the pass that applies it and is not re-evaluated within that pass. The
// seed IS its computed value, which is what lets an engine resume from a
// previously saved state and read back exactly what was saved. Each config
// seed is consumed by the pass that applies it: a later edit that re-dirties
// the cycle recomputes from the then-current cached values, not from the
// original seeds.
func (e *Evaluator) evalTolerantSCC(g *depgraph.Graph, component []cellval.VertexID) {
	members := append([]cellval.VertexID(nil), component...)
	sort.Slice(members, func(i, j int) bool {
		return g.InsertOrder(members[i]) < g.InsertOrder(members[j])
	})

	seeded := make(map[cellval.VertexID]bool, len(members))
	for _, id := range members {
		if e.seedMember(g, id) {
			seeded[id] = true
		}
	}

	for _, id := range members {
		if seeded[id] {
			g.ClearDirty(id)
			continue
		}
		v, ok := g.Vertex(id)
		if !ok || v.Formula == "" {
			g.ClearDirty(id)
			continue
		}
		node, ok := e.state.AST.Materialize(v.AST)
		if !ok {
			g.ClearDirty(id)
			continue
		}
		e.ctx.setCurrent(id)
		result, err := node.Eval(e.ctx, v.Cell)
		if err != nil {
			g.SetValue(id, cellval.ErrorValue(cellval.ErrOther, err.Error()))
			g.ClearDirty(id)
			continue
		}
		// Errors propagate as-is to downstream reads within the same pass;
		// no special-casing needed since SetValue below just stores whatever
		// the formula produced, error or not, the same as the non-cycle path.
		e.storeResult(g, id, v, result)
		g.ClearDirty(id)
	}
}

// seedMember sets id's tolerant-mode seed value and reports whether a
// configured seed was applied. Without a configured seed, the seed is the
// existing cached value, defaulting to Number(0) for a formula vertex that
// has never been evaluated; an array cell instead defaults to Empty and
// seeds only from a scalar, never from its own prior matrix extent.
func (e *Evaluator) seedMember(g *depgraph.Graph, id cellval.VertexID) bool {
	v, ok := g.Vertex(id)
	if !ok {
		return false
	}
	if seed, ok := e.takeConfigSeed(v.Cell); ok {
		g.SetValue(id, seed)
		return true
	}
	if v.IsArray {
		if v.Value.IsEmpty() {
			g.SetValue(id, cellval.Empty)
		}
		return false
	}
	if v.Value.IsEmpty() && v.Formula != "" {
		g.SetValue(id, cellval.Number(0))
	}
	return false
}

// takeConfigSeed looks up addr in the configured InitialComputedValues,
// keyed by sheet name, consuming the entry on a hit so the seed applies to
// exactly one evaluation pass.
func (e *Evaluator) takeConfigSeed(addr cellval.CellAddress) (cellval.CellValue, bool) {
	seeds := e.state.Config.InitialComputedValues
	if seeds == nil {
		return cellval.Empty, false
	}
	if e.spentSeeds[addr] {
		return cellval.Empty, false
	}
	name, ok := e.state.Sheets.Name(addr.Sheet)
	if !ok {
		return cellval.Empty, false
	}
	matrix, ok := seeds[name]
	if !ok {
		return cellval.Empty, false
	}
	if int(addr.Row) >= len(matrix) {
		return cellval.Empty, false
	}
	row := matrix[addr.Row]
	if int(addr.Col) >= len(row) {
		return cellval.Empty, false
	}
	if row[addr.Col] == nil {
		return cellval.Empty, false
	}
	e.spentSeeds[addr] = true
	return anyToCellValue(row[addr.Col]), true
}

// anyToCellValue converts a config-author-ergonomic seed value (plain
// float64/string/bool/nil, per EngineConfig.InitialComputedValues' doc
// comment) into a CellValue.
func anyToCellValue(raw any) cellval.CellValue {
	switch x := raw.(type) {
	case nil:
		return cellval.Empty
	case float64:
		return cellval.Number(x)
	case int:
		return cellval.Number(float64(x))
	case string:
		return cellval.Text(x)
	case bool:
		return cellval.Bool(x)
	default:
		return cellval.Empty
	}
}
