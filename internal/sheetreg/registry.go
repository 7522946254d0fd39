// Package sheetreg implements the sheet registry: a bidirectional
// sheet-name <-> SheetID intern table, including undefined
// (referenced-but-not-yet-created) sheets, refcounted so a sheet referenced
// from a formula on another sheet survives until nothing points at it.
// Cell storage lives in internal/address; this table only owns the
// name/id/defined bookkeeping.
package sheetreg

import (
	"fmt"
	"sort"

	"github.com/driftline/formulacore/internal/apperr"
	"github.com/driftline/formulacore/internal/cellval"
)

// Registry is the sheet name/id intern table.
type Registry struct {
	nameToID map[string]cellval.SheetID
	idToName map[cellval.SheetID]string
	defined  map[cellval.SheetID]bool
	order    map[cellval.SheetID]int // insertion order, for ListSheets determinism
	refCount map[cellval.SheetID]int
	nextID   uint32
	nextPos  int
}

// New creates an empty Registry. ID 0 is reserved for "no sheet".
func New() *Registry {
	return &Registry{
		nameToID: make(map[string]cellval.SheetID),
		idToName: make(map[cellval.SheetID]string),
		defined:  make(map[cellval.SheetID]bool),
		order:    make(map[cellval.SheetID]int),
		refCount: make(map[cellval.SheetID]int),
		nextID:   1,
	}
}

// Intern returns the SheetID for name and bumps its refcount on every call,
// creating an undefined entry for it the first time name is seen.
func (r *Registry) Intern(name string) cellval.SheetID {
	if id, ok := r.nameToID[name]; ok {
		r.refCount[id]++
		return id
	}
	id := cellval.SheetID(r.nextID)
	r.nextID++
	r.nameToID[name] = id
	r.idToName[id] = name
	r.refCount[id] = 1
	r.order[id] = r.nextPos
	r.nextPos++
	return id
}

// Define marks name's sheet as defined (created), interning it first if
// needed. A sheet can be referenced (interned) before it's defined, e.g. a
// formula on Sheet1 referencing Sheet2 before Sheet2 exists.
func (r *Registry) Define(name string) cellval.SheetID {
	id := r.Intern(name)
	r.defined[id] = true
	return id
}

// Undefine marks a sheet as no longer defined without removing its name/id
// binding: formulas that still reference the name keep resolving to the
// same id, now producing reference errors at evaluation time instead of
// silently reusing a stale id for an unrelated sheet.
func (r *Registry) Undefine(id cellval.SheetID) {
	delete(r.defined, id)
}

// Rename moves name's binding to newName. Returns an *apperr.Error if name
// is unknown or newName is already taken by a different sheet.
func (r *Registry) Rename(name, newName string) (cellval.SheetID, error) {
	id, ok := r.nameToID[name]
	if !ok {
		return cellval.SheetID(0), apperr.New(apperr.NotFound, apperr.InvalidSheet,
			fmt.Sprintf("no such sheet %q", name))
	}
	if existing, ok := r.nameToID[newName]; ok && existing != id {
		return cellval.SheetID(0), apperr.New(apperr.AlreadyExists, apperr.InvalidSheet,
			fmt.Sprintf("sheet name %q already in use", newName))
	}
	delete(r.nameToID, name)
	r.nameToID[newName] = id
	r.idToName[id] = newName
	return id, nil
}

// Lookup returns the SheetID bound to name, without interning it.
func (r *Registry) Lookup(name string) (cellval.SheetID, bool) {
	id, ok := r.nameToID[name]
	return id, ok
}

// Name returns the name bound to id.
func (r *Registry) Name(id cellval.SheetID) (string, bool) {
	name, ok := r.idToName[id]
	return name, ok
}

// IsDefined reports whether id refers to an actually-created sheet, as
// opposed to one only referenced from elsewhere.
func (r *Registry) IsDefined(id cellval.SheetID) bool {
	return r.defined[id]
}

// AddRef increments id's reference count (another formula now names it).
func (r *Registry) AddRef(id cellval.SheetID) { r.refCount[id]++ }

// RemoveRef decrements id's reference count. Returns true if the count
// dropped to zero and the sheet is undefined, at which point the caller
// can then fully evict the binding via Evict.
func (r *Registry) RemoveRef(id cellval.SheetID) bool {
	r.refCount[id]--
	if r.refCount[id] < 0 {
		r.refCount[id] = 0
	}
	return r.refCount[id] == 0 && !r.defined[id]
}

// Evict removes id's binding entirely. Callers must ensure no live vertex
// or AddressMapping still names this id.
func (r *Registry) Evict(id cellval.SheetID) {
	if name, ok := r.idToName[id]; ok {
		delete(r.nameToID, name)
	}
	delete(r.idToName, id)
	delete(r.defined, id)
	delete(r.order, id)
	delete(r.refCount, id)
}

// ListSheets returns the names of all defined sheets, in creation order.
func (r *Registry) ListSheets() []string {
	ids := make([]cellval.SheetID, 0, len(r.defined))
	for id := range r.defined {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.order[ids[i]] < r.order[ids[j]] })
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = r.idToName[id]
	}
	return names
}

// ListReferenced returns the names of every sheet known to the registry,
// defined or not. Used for diagnostics on dangling cross-sheet references.
func (r *Registry) ListReferenced() []string {
	ids := make([]cellval.SheetID, 0, len(r.idToName))
	for id := range r.idToName {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.order[ids[i]] < r.order[ids[j]] })
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = r.idToName[id]
	}
	return names
}
