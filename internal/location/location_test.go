package location

import (
	"testing"

	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/arlobrandt/shelfmerge/internal/registry"
	"github.com/arlobrandt/shelfmerge/internal/trace"
)

const locationDDL = `CREATE TABLE Location (
	LocationId INTEGER PRIMARY KEY,
	BookNumber INTEGER,
	ChapterNumber INTEGER,
	DocumentId INTEGER,
	Track INTEGER,
	KeySymbol TEXT,
	IssueTagNumber INTEGER,
	Type INTEGER,
	MepsLanguage INTEGER,
	Title TEXT
)`

func newSession(t *testing.T) *dbsession.Session {
	t.Helper()
	s, err := dbsession.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Exec(locationDDL); err != nil {
		t.Fatalf("create Location: %v", err)
	}
	return s
}

func insertLocation(t *testing.T, s *dbsession.Session, id, book, chapter int64, keySymbol string, meps int64) {
	t.Helper()
	_, err := s.Exec(
		`INSERT INTO Location (LocationId, BookNumber, ChapterNumber, DocumentId, Track, KeySymbol, IssueTagNumber, Type, MepsLanguage, Title)
		 VALUES (?, ?, ?, NULL, NULL, ?, NULL, 0, ?, NULL)`,
		id, book, chapter, keySymbol, meps,
	)
	if err != nil {
		t.Fatalf("insert Location: %v", err)
	}
}

func countLocations(t *testing.T, s *dbsession.Session) int {
	t.Helper()
	var n int
	if err := s.QueryRow(`SELECT COUNT(*) FROM Location`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

// S1 — duplicate chapter, no id conflict: B's second row keeps its own id.
func TestMerge_DuplicateChapterNoIDConflict(t *testing.T) {
	target := newSession(t)
	a := newSession(t)
	b := newSession(t)

	insertLocation(t, a, 1076, 0, 0, "pt14", 1102014863)
	insertLocation(t, b, 1076, 0, 0, "pt14", 1102014863)
	insertLocation(t, b, 1083, 0, 0, "pt14", 1102014864)

	reg := registry.New()
	sources := []Source{{Session: a, Index: 0}, {Session: b, Index: 1}}
	if err := Merge(target, sources, reg, trace.Discard); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := countLocations(t, target); got != 2 {
		t.Fatalf("expected 2 Location rows, got %d", got)
	}
	if _, ok := reg.Lookup("Location", 1, 1083); ok {
		t.Fatalf("expected no mapping for 1083, it should keep its own id")
	}
}

// S2 — same primary key, different identity: B's row must take a fresh id.
func TestMerge_SamePKDifferentIdentity(t *testing.T) {
	target := newSession(t)
	a := newSession(t)
	b := newSession(t)

	insertLocation(t, a, 500, 1, 1, "nwt", 0)
	insertLocation(t, b, 500, 2, 1, "nwt", 0)

	reg := registry.New()
	sources := []Source{{Session: a, Index: 0}, {Session: b, Index: 1}}
	if err := Merge(target, sources, reg, trace.Discard); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := countLocations(t, target); got != 2 {
		t.Fatalf("expected 2 distinct Location rows, got %d", got)
	}

	newID, ok := reg.Lookup("Location", 1, 500)
	if !ok {
		t.Fatalf("expected a mapping recorded for source b's colliding id 500")
	}
	if newID == 500 {
		t.Fatalf("expected b's row to be assigned a fresh id, got 500 again")
	}

	var book int64
	if err := target.QueryRow(`SELECT BookNumber FROM Location WHERE LocationId = ?`, newID).Scan(&book); err != nil {
		t.Fatal(err)
	}
	if book != 2 {
		t.Fatalf("expected remapped row to carry source b's BookNumber=2, got %d", book)
	}
}

// S6 — three sources collide on id 1076 for distinct chapters: no
// cascading collision, three distinct rows survive.
func TestMerge_ThreeSourceCascadingIDReuse(t *testing.T) {
	target := newSession(t)
	srcA := newSession(t)
	srcB := newSession(t)
	srcC := newSession(t)

	insertLocation(t, srcA, 1076, 1, 1, "pt14", 0)
	insertLocation(t, srcB, 1076, 1, 2, "pt14", 0)
	insertLocation(t, srcC, 1076, 1, 3, "pt14", 0)

	reg := registry.New()
	sources := []Source{
		{Session: srcA, Index: 0},
		{Session: srcB, Index: 1},
		{Session: srcC, Index: 2},
	}
	if err := Merge(target, sources, reg, trace.Discard); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := countLocations(t, target); got != 3 {
		t.Fatalf("expected 3 distinct Location rows, got %d", got)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 registry mappings (B and C remapped), got %d", reg.Len())
	}

	bFinal, ok := reg.Lookup("Location", 1, 1076)
	if !ok {
		t.Fatalf("expected source B's original id 1076 to have a recorded mapping")
	}
	cFinal, ok := reg.Lookup("Location", 2, 1076)
	if !ok {
		t.Fatalf("expected source C's original id 1076 to have a recorded mapping")
	}
	if bFinal == cFinal {
		t.Fatalf("expected B and C's colliding original id 1076 to map to distinct final ids, both got %d", bFinal)
	}
}

// MepsLanguage null and 0 are equivalent identities.
func TestMerge_MepsLanguageNullEqualsZero(t *testing.T) {
	target := newSession(t)
	a := newSession(t)
	b := newSession(t)

	if _, err := a.Exec(
		`INSERT INTO Location (LocationId, BookNumber, ChapterNumber, KeySymbol, Type, MepsLanguage) VALUES (1, 40, 1, 'nwt', 0, NULL)`,
	); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Exec(
		`INSERT INTO Location (LocationId, BookNumber, ChapterNumber, KeySymbol, Type, MepsLanguage) VALUES (2, 40, 1, 'nwt', 0, 0)`,
	); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	sources := []Source{{Session: a, Index: 0}, {Session: b, Index: 1}}
	if err := Merge(target, sources, reg, trace.Discard); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := countLocations(t, target); got != 1 {
		t.Fatalf("expected MepsLanguage null and 0 to collapse to 1 row, got %d", got)
	}
}

// A Bible-chapter row and a publication row with identical other columns
// are not duplicates, because they use different identity rules.
func TestMerge_ChapterAndPublicationNotDuplicates(t *testing.T) {
	target := newSession(t)
	a := newSession(t)

	if _, err := a.Exec(
		`INSERT INTO Location (LocationId, BookNumber, ChapterNumber, KeySymbol, Type, MepsLanguage) VALUES (1, 40, 1, 'nwt', 0, 0)`,
	); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Exec(
		`INSERT INTO Location (LocationId, BookNumber, ChapterNumber, KeySymbol, Type, MepsLanguage) VALUES (2, 40, 1, 'nwt', 1, 0)`,
	); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	sources := []Source{{Session: a, Index: 0}}
	if err := Merge(target, sources, reg, trace.Discard); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := countLocations(t, target); got != 2 {
		t.Fatalf("expected both rows to survive as distinct, got %d", got)
	}
}
