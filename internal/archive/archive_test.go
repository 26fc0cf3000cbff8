package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func buildRaw(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpen_RoundTrip(t *testing.T) {
	manifest := []byte(`{"name":"lib"}`)
	db := []byte("sqlite-bytes")
	raw := buildRaw(t, map[string][]byte{
		manifestEntry: manifest,
		databaseEntry: db,
		"cover.jpg":   []byte("jpeg-bytes"),
	})

	r, err := Open(raw)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(r.ManifestBytes(), manifest) {
		t.Errorf("manifest mismatch")
	}
	if !bytes.Equal(r.Database(), db) {
		t.Errorf("database mismatch")
	}
	entries := r.Entries()
	if len(entries) != 1 || entries[0].Name != "cover.jpg" {
		t.Fatalf("expected one media entry, got %v", entries)
	}
}

func TestOpen_MissingManifest(t *testing.T) {
	raw := buildRaw(t, map[string][]byte{databaseEntry: []byte("db")})
	_, err := Open(raw)
	if !errors.Is(err, ErrBadContainer) {
		t.Fatalf("expected ErrBadContainer, got %v", err)
	}
}

func TestOpen_MissingDatabase(t *testing.T) {
	raw := buildRaw(t, map[string][]byte{manifestEntry: []byte("{}")})
	_, err := Open(raw)
	if !errors.Is(err, ErrBadContainer) {
		t.Fatalf("expected ErrBadContainer, got %v", err)
	}
}

func TestOpen_NotAZip(t *testing.T) {
	_, err := Open([]byte("not a zip file"))
	if !errors.Is(err, ErrBadContainer) {
		t.Fatalf("expected ErrBadContainer, got %v", err)
	}
}

func TestManifest_Parse(t *testing.T) {
	manifest := []byte(`{
		"name": "Merged Library",
		"creationDate": "2024-06-03T12:34:56+0200",
		"version": 1,
		"type": 0,
		"userDataBackup": {
			"lastModifiedDate": "2024-06-03T12:34:56+0200",
			"databaseName": "userData.db",
			"deviceName": "Merged Library",
			"hash": "abc123",
			"schemaVersion": 14
		}
	}`)
	raw := buildRaw(t, map[string][]byte{
		manifestEntry: manifest,
		databaseEntry: []byte("db"),
	})
	r, err := Open(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, err := r.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.UserDataBackup.SchemaVersion != 14 {
		t.Errorf("expected schemaVersion 14, got %d", m.UserDataBackup.SchemaVersion)
	}
	if m.UserDataBackup.Hash != "abc123" {
		t.Errorf("expected hash abc123, got %s", m.UserDataBackup.Hash)
	}
}

func TestWriter_BuildAndReopen(t *testing.T) {
	manifest := []byte(`{"name":"lib"}`)
	db := []byte("sqlite-bytes")
	entries := []Entry{
		{Name: "a.jpg", Data: []byte("aaa")},
		{Name: "b.jpg", Data: []byte("bbb")},
	}

	out, err := NewWriter().Build(manifest, db, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := Open(out)
	if err != nil {
		t.Fatalf("reopen built archive: %v", err)
	}
	if !bytes.Equal(r.ManifestBytes(), manifest) {
		t.Errorf("manifest mismatch after round trip")
	}
	if !bytes.Equal(r.Database(), db) {
		t.Errorf("database mismatch after round trip")
	}
	got := r.Entries()
	if len(got) != 2 || got[0].Name != "a.jpg" || got[1].Name != "b.jpg" {
		t.Fatalf("expected sorted a.jpg, b.jpg entries, got %v", got)
	}
}
