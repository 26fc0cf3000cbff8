// Package registry tracks the id remapping decisions a merge run makes,
// so that a foreign key pointing at a row merged earlier can be rewritten
// to wherever that row actually landed in the target database.
package registry

import "fmt"

// key identifies one source's copy of one row. originalID alone is not
// enough: two different sources routinely carry the same original id for
// completely unrelated rows (spec §8.3 S6 — three sources all containing
// LocationId=1076 for three distinct chapters), and each must be able to
// land at its own final id without clobbering the others' mapping.
type key struct {
	table       string
	sourceIndex int
	originalID  int64
}

// Registry is a run-scoped (table, sourceIndex, originalID) -> newID map.
// It is not safe for concurrent use; a merge run owns exactly one Registry.
type Registry struct {
	entries map[key]int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[key]int64)}
}

// Record remembers that originalID, as it appeared in sourceIndex's copy
// of table, now lives at newID. Recording the same (table, sourceIndex,
// originalID) twice with a different newID is a bug in the caller, since
// it would make Lookup's answer depend on call order.
func (r *Registry) Record(table string, sourceIndex int, originalID, newID int64) {
	k := key{table, sourceIndex, originalID}
	if existing, ok := r.entries[k]; ok && existing != newID {
		panic(fmt.Sprintf("registry: %s source %d id %d already mapped to %d, cannot remap to %d", table, sourceIndex, originalID, existing, newID))
	}
	r.entries[k] = newID
}

// Lookup returns the id originalID (as it appeared in sourceIndex's copy
// of table) was remapped to, if any.
func (r *Registry) Lookup(table string, sourceIndex int, originalID int64) (int64, bool) {
	id, ok := r.entries[key{table, sourceIndex, originalID}]
	return id, ok
}

// MustLookup is Lookup for callers that have already established the
// mapping must exist (e.g. a source row whose own insert already ran).
func (r *Registry) MustLookup(table string, sourceIndex int, originalID int64) int64 {
	id, ok := r.Lookup(table, sourceIndex, originalID)
	if !ok {
		panic(fmt.Sprintf("registry: no mapping recorded for %s source %d id %d", table, sourceIndex, originalID))
	}
	return id
}

// Clear discards every recorded mapping, leaving the Registry empty and
// ready for reuse by a fresh run.
func (r *Registry) Clear() {
	r.entries = make(map[key]int64)
}

// Len reports how many mappings are currently recorded, across all tables.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Count reports how many mappings are recorded for table, across every
// source, for callers that only need a size (e.g. validation reporting).
func (r *Registry) Count(table string) int {
	n := 0
	for k := range r.entries {
		if k.table == table {
			n++
		}
	}
	return n
}
