// Package namedexpr implements the named-expression store: named
// expressions (constants, formulas, or range aliases) at global scope and
// at per-sheet scope, with sheet scope shadowing global for the same name.
// The bound value is an arbitrary vertex handle, so a name can point at a
// formula or a range alike.
package namedexpr

import (
	"fmt"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
)

// Scope is global or bound to one sheet.
type Scope struct {
	Sheet   cellval.SheetID // zero value means global
	IsSheet bool
}

// Global is the zero-value Scope, for package-level callers' clarity.
var Global = Scope{}

// PerSheet returns a Scope bound to sheet.
func PerSheet(sheet cellval.SheetID) Scope { return Scope{Sheet: sheet, IsSheet: true} }

type entry struct {
	vertex cellval.VertexID
	refs   int
}

// Store holds named expressions across all scopes.
type Store struct {
	byScope map[Scope]map[string]*entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{byScope: make(map[Scope]map[string]*entry)}
}

func (s *Store) tableFor(scope Scope) map[string]*entry {
	t, ok := s.byScope[scope]
	if !ok {
		t = make(map[string]*entry)
		s.byScope[scope] = t
	}
	return t
}

// Define binds name to vertex in scope, replacing any existing binding.
// Returns an *apperr.Error if name is not a valid identifier.
func (s *Store) Define(scope Scope, name string, vertex cellval.VertexID) error {
	if !isValidName(name) {
		return apperr.New(apperr.InvalidArgument, apperr.NamedExpressionNameInvalid,
			fmt.Sprintf("invalid named expression name %q", name))
	}
	table := s.tableFor(scope)
	if e, ok := table[name]; ok {
		e.vertex = vertex
		return nil
	}
	table[name] = &entry{vertex: vertex, refs: 1}
	return nil
}

// Remove deletes name from scope. Returns false if it wasn't bound.
func (s *Store) Remove(scope Scope, name string) bool {
	table := s.tableFor(scope)
	if _, ok := table[name]; !ok {
		return false
	}
	delete(table, name)
	return true
}

// Lookup returns the binding for name in exactly scope, with no cross-scope
// shadowing, the check Operations needs to enforce uniqueness *within* a
// scope while still allowing a sheet-scoped name to shadow a global one.
func (s *Store) Lookup(scope Scope, name string) (cellval.VertexID, bool) {
	if table, ok := s.byScope[scope]; ok {
		if e, ok := table[name]; ok {
			return e.vertex, true
		}
	}
	return cellval.NilVertex, false
}

// Resolve looks up name, preferring sheet scope over global: a per-sheet
// named expression shadows a global one of the same name.
func (s *Store) Resolve(sheet cellval.SheetID, name string) (cellval.VertexID, bool) {
	if table, ok := s.byScope[PerSheet(sheet)]; ok {
		if e, ok := table[name]; ok {
			return e.vertex, true
		}
	}
	if table, ok := s.byScope[Global]; ok {
		if e, ok := table[name]; ok {
			return e.vertex, true
		}
	}
	return cellval.NilVertex, false
}

// AddRef increments name's reference count in scope.
func (s *Store) AddRef(scope Scope, name string) {
	if e, ok := s.tableFor(scope)[name]; ok {
		e.refs++
	}
}

// RemoveRef decrements name's reference count in scope, evicting the
// binding (and returning true) if it reaches zero.
func (s *Store) RemoveRef(scope Scope, name string) bool {
	table := s.tableFor(scope)
	e, ok := table[name]
	if !ok {
		return false
	}
	e.refs--
	if e.refs <= 0 {
		delete(table, name)
		return true
	}
	return false
}

// ListNames returns every name bound in scope.
func (s *Store) ListNames(scope Scope) []string {
	table := s.byScope[scope]
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

// isValidName requires a leading letter or underscore, then
// letters/digits/underscores, and rejects anything that looks like a bare
// cell reference (e.g. "A1"), which would make a formula referencing it
// ambiguous with a cell address.
func isValidName(name string) bool {
	if name == "" {
		return false
	}
	first := name[0]
	if !(first == '_' || (first >= 'A' && first <= 'Z') || (first >= 'a' && first <= 'z')) {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		ok := c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return !looksLikeCellRef(name)
}

func looksLikeCellRef(name string) bool {
	i := 0
	for i < len(name) && ((name[i] >= 'A' && name[i] <= 'Z') || (name[i] >= 'a' && name[i] <= 'z')) {
		i++
	}
	if i == 0 || i > 3 { // max 3 letters covers columns up to column "ZZZ"-ish ranges
		return false
	}
	if i == len(name) {
		return false
	}
	for j := i; j < len(name); j++ {
		if name[j] < '0' || name[j] > '9' {
			return false
		}
	}
	return true
}
