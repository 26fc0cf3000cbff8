package registry

import "testing"

func TestRecordAndLookup(t *testing.T) {
	r := New()
	r.Record("Location", 0, 5, 105)

	got, ok := r.Lookup("Location", 0, 5)
	if !ok || got != 105 {
		t.Fatalf("Lookup(Location, 0, 5) = %d, %v; want 105, true", got, ok)
	}

	if _, ok := r.Lookup("Location", 0, 6); ok {
		t.Fatalf("Lookup(Location, 0, 6) should be unmapped")
	}

	if _, ok := r.Lookup("Mark", 0, 5); ok {
		t.Fatalf("mapping must be scoped per table, not shared across tables")
	}
}

func TestRecordSameMappingTwiceIsIdempotent(t *testing.T) {
	r := New()
	r.Record("Tag", 0, 1, 201)
	r.Record("Tag", 0, 1, 201)

	got, ok := r.Lookup("Tag", 0, 1)
	if !ok || got != 201 {
		t.Fatalf("Lookup(Tag, 0, 1) = %d, %v; want 201, true", got, ok)
	}
}

func TestRecordConflictingMappingPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on conflicting remap")
		}
	}()
	r := New()
	r.Record("Tag", 0, 1, 201)
	r.Record("Tag", 0, 1, 202)
}

func TestRecordScopesCollidingOriginalIDsBySource(t *testing.T) {
	// Spec §8.3 S6: three sources all carry LocationId=1076 for three
	// distinct chapters. Each source's mapping must be recorded
	// independently, keyed by its own source index.
	r := New()
	r.Record("Location", 1, 1076, 1077)
	r.Record("Location", 2, 1076, 1078)

	got1, ok := r.Lookup("Location", 1, 1076)
	if !ok || got1 != 1077 {
		t.Fatalf("Lookup(Location, 1, 1076) = %d, %v; want 1077, true", got1, ok)
	}
	got2, ok := r.Lookup("Location", 2, 1076)
	if !ok || got2 != 1078 {
		t.Fatalf("Lookup(Location, 2, 1076) = %d, %v; want 1078, true", got2, ok)
	}
}

func TestMustLookupPanicsWhenMissing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on missing mapping")
		}
	}()
	New().MustLookup("Mark", 0, 99)
}

func TestClearResetsAllTables(t *testing.T) {
	r := New()
	r.Record("Location", 0, 1, 101)
	r.Record("Mark", 0, 2, 202)
	r.Clear()

	if r.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", r.Len())
	}
	if _, ok := r.Lookup("Location", 0, 1); ok {
		t.Fatalf("Lookup after Clear should miss")
	}
}

func TestCountReturnsOnlyMatchingEntries(t *testing.T) {
	r := New()
	r.Record("Location", 0, 1, 101)
	r.Record("Location", 1, 1, 102)
	r.Record("Mark", 0, 1, 901)

	if got := r.Count("Location"); got != 2 {
		t.Fatalf("Count(Location) = %d, want 2", got)
	}
	if got := r.Count("Mark"); got != 1 {
		t.Fatalf("Count(Mark) = %d, want 1", got)
	}
}
