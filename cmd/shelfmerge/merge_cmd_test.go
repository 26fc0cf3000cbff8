package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/arlobrandt/shelfmerge/internal/archive"
	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/spf13/cobra"
)

func resetMergeGlobals() {
	mergeInclude = ""
	mergeSizeLimit = 0
	mergeReport = ""
	mergeDryRun = false
}

func buildTestArchive(t *testing.T, fn func(s *dbsession.Session)) []byte {
	t.Helper()
	s, err := dbsession.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer s.Close()

	ddl := []string{
		`CREATE TABLE Location (LocationId INTEGER PRIMARY KEY, BookNumber INTEGER, ChapterNumber INTEGER, KeySymbol TEXT, IssueTagNumber INTEGER, DocumentId INTEGER, Track INTEGER, Type INTEGER, MepsLanguage INTEGER, Title TEXT)`,
		`CREATE TABLE Note (NoteId INTEGER PRIMARY KEY, Guid TEXT, MarkId INTEGER, LocationId INTEGER)`,
	}
	for _, stmt := range ddl {
		if _, err := s.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	fn(s)

	dbBytes, err := s.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	manifest := archive.Manifest{
		Name:         "Test Library",
		CreationDate: "2024-06-03T12:34:56+0200",
		Version:      1,
		UserDataBackup: archive.UserDataBackup{
			LastModifiedDate: "2024-06-03T12:34:56+0200",
			DatabaseName:     "userData.db",
			DeviceName:       "Test Device",
			SchemaVersion:    14,
		},
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	out, err := archive.NewWriter().Build(manifestBytes, dbBytes, nil)
	if err != nil {
		t.Fatalf("build archive: %v", err)
	}
	return out
}

func writeTempArchive(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestRunMerge_WritesOutputArchive(t *testing.T) {
	dir := t.TempDir()
	a := writeTempArchive(t, dir, "a.zip", buildTestArchive(t, func(s *dbsession.Session) {
		exec(t, s, `INSERT INTO Location (LocationId, Type) VALUES (1, 0)`)
	}))
	b := writeTempArchive(t, dir, "b.zip", buildTestArchive(t, func(s *dbsession.Session) {
		exec(t, s, `INSERT INTO Location (LocationId, Type) VALUES (1, 0)`)
	}))
	out := filepath.Join(dir, "merged.zip")

	resetMergeGlobals()
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if err := runMerge(cmd, []string{out, a, b}); err != nil {
		t.Fatalf("runMerge: %v", err)
	}

	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output archive to be written: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a summary to be printed")
	}
}

func TestRunMerge_DryRunSkipsWritingOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeTempArchive(t, dir, "a.zip", buildTestArchive(t, func(s *dbsession.Session) {}))
	b := writeTempArchive(t, dir, "b.zip", buildTestArchive(t, func(s *dbsession.Session) {}))
	out := filepath.Join(dir, "merged.zip")

	resetMergeGlobals()
	mergeDryRun = true
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if err := runMerge(cmd, []string{out, a, b}); err != nil {
		t.Fatalf("runMerge: %v", err)
	}

	if _, err := os.Stat(out); err == nil {
		t.Fatal("expected dry-run to skip writing the output archive")
	}
}

func TestRunMerge_WritesReportWhenRequested(t *testing.T) {
	dir := t.TempDir()
	a := writeTempArchive(t, dir, "a.zip", buildTestArchive(t, func(s *dbsession.Session) {}))
	b := writeTempArchive(t, dir, "b.zip", buildTestArchive(t, func(s *dbsession.Session) {}))
	out := filepath.Join(dir, "merged.zip")
	reportPath := filepath.Join(dir, "report.json")

	resetMergeGlobals()
	mergeReport = reportPath
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if err := runMerge(cmd, []string{out, a, b}); err != nil {
		t.Fatalf("runMerge: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	var report map[string]interface{}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
}

func TestParseInclude_RejectsUnknownDataType(t *testing.T) {
	if _, err := parseInclude("notes,nonsense"); err == nil {
		t.Fatal("expected an error for an unknown data type")
	}
}

func TestParseInclude_EmptyMeansDefault(t *testing.T) {
	inc, err := parseInclude("")
	if err != nil {
		t.Fatalf("parseInclude: %v", err)
	}
	if !inc.Notes || !inc.Bookmarks || !inc.Tags {
		t.Fatal("expected the default include mask to enable everything")
	}
}

func TestParseInclude_OnlyNamedTypesEnabled(t *testing.T) {
	inc, err := parseInclude("notes,tags")
	if err != nil {
		t.Fatalf("parseInclude: %v", err)
	}
	if !inc.Notes || !inc.Tags {
		t.Fatal("expected notes and tags to be enabled")
	}
	if inc.Bookmarks || inc.Highlights || inc.InputFields || inc.Playlists {
		t.Fatal("expected unnamed data types to stay disabled")
	}
}

func exec(t *testing.T, s *dbsession.Session, query string) {
	t.Helper()
	if _, err := s.Exec(query); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
