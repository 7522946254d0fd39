// Package engstate bundles the per-instance engine collaborators (the
// dependency graph, address/sheet/range/named registries, the lazy AST
// service, the interpreter and content parser, and telemetry) into one
// struct passed explicitly to the builder, evaluator, and operations. No
// collaborator here is a package-level singleton.
package engstate

import (
	"github.com/driftline/formulacore/internal/address"
	"github.com/driftline/formulacore/internal/asttransform"
	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/colsearch"
	"github.com/driftline/formulacore/internal/config"
	"github.com/driftline/formulacore/internal/contentparser"
	"github.com/driftline/formulacore/internal/depgraph"
	"github.com/driftline/formulacore/internal/interp"
	"github.com/driftline/formulacore/internal/namedexpr"
	"github.com/driftline/formulacore/internal/rangemap"
	"github.com/driftline/formulacore/internal/sheetreg"
	"github.com/driftline/formulacore/internal/telemetry"
)

// State is the full engine context. Exactly one lives per engine instance.
type State struct {
	Config config.EngineConfig

	Graph   *depgraph.Graph
	Sheets  *sheetreg.Registry
	Ranges  *rangemap.Table
	Names   *namedexpr.Store
	AST     *asttransform.Service
	Content *contentparser.Parser
	Interp  *interp.Registry

	Stats  telemetry.Statistics
	Logger *telemetry.Logger

	// Addrs holds one AddressMapping per defined sheet, keyed by SheetID.
	Addrs map[cellval.SheetID]*address.Mapping

	// PendingNames maps a named-expression name with no current binding to
	// the formula vertices referencing it, so defining (or re-defining) the
	// name later links and re-dirties exactly those formulas instead of
	// rescanning the whole graph.
	PendingNames map[string][]cellval.VertexID
}

// New builds an empty State from cfg, wiring the real or no-op Statistics
// recorder per cfg.UseStats.
func New(cfg config.EngineConfig) *State {
	var stats telemetry.Statistics
	if cfg.UseStats {
		stats = telemetry.NewRecorder()
	} else {
		stats = telemetry.NewNoop()
	}
	searchStrategy := colsearch.Linear
	if cfg.UseColumnIndex {
		searchStrategy = colsearch.Binary
	}
	return &State{
		Config:       cfg,
		Graph:        depgraph.New(),
		Sheets:       sheetreg.New(),
		Ranges:       rangemap.New(),
		Names:        namedexpr.New(),
		AST:          asttransform.New(),
		Content:      contentparser.New(cfg.WhitespacePolicy),
		Interp:       interp.NewWithSearch(colsearch.New(searchStrategy)),
		Stats:        stats,
		Logger:       telemetry.Noop(),
		Addrs:        make(map[cellval.SheetID]*address.Mapping),
		PendingNames: make(map[string][]cellval.VertexID),
	}
}

// MappingFor returns the address mapping for sheet, creating a Sparse one
// (grown on demand) if this is the first cell ever materialized on it.
// Bulk-built sheets get their strategy chosen explicitly once observed
// occupancy is known.
func (s *State) MappingFor(sheet cellval.SheetID) *address.Mapping {
	m, ok := s.Addrs[sheet]
	if !ok {
		m = address.NewMapping(sheet, address.Sparse, 0, 0)
		s.Addrs[sheet] = m
	}
	return m
}
