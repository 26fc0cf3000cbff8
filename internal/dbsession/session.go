// Package dbsession wraps a SQLite database materialized from an in-memory
// byte slice, so the rest of the engine can query and mutate it through
// database/sql without ever touching a file path itself.
package dbsession

import (
	"database/sql"
	"fmt"
	"os"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// Session wraps a *sql.DB backed by a private temp file. Foreign-key
// enforcement is deliberately left off: the merge engine, not SQLite, is
// the authority on referential integrity, and the validator reports what
// the engine finds rather than SQLite aborting an insert.
type Session struct {
	db   *sql.DB
	path string
}

// Open materializes data to a private temp file and opens it as a SQLite
// database.
func Open(data []byte) (*Session, error) {
	f, err := os.CreateTemp("", "shelfmerge-*.db")
	if err != nil {
		return nil, fmt.Errorf("dbsession: create temp file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("dbsession: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("dbsession: close temp file: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("dbsession: open sqlite3: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = OFF",
		"PRAGMA journal_mode = DELETE",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			os.Remove(path)
			return nil, fmt.Errorf("dbsession: apply pragma %q: %w", pragma, err)
		}
	}

	return &Session{db: db, path: path}, nil
}

// Create opens a fresh, empty SQLite database with no source bytes,
// for building the merge target from the first source's schema.
func Create() (*Session, error) {
	return Open(nil)
}

// Close closes the underlying connection and removes the temp file.
func (s *Session) Close() error {
	err := s.db.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Export reads the current on-disk contents of the database back into
// memory. The caller must have finished all writes (SQLite with
// journal_mode=DELETE leaves no separate WAL/journal file once idle).
func (s *Session) Export() ([]byte, error) {
	return os.ReadFile(s.path)
}

// Exec runs a statement with bound parameters and returns the result.
func (s *Session) Exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(query, args...)
}

// Query runs a query with bound parameters.
func (s *Session) Query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

// QueryRow runs a query expected to return at most one row.
func (s *Session) QueryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// Begin starts a transaction.
func (s *Session) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// Tables returns the user table names present in the database, in
// alphabetical order, excluding SQLite's own bookkeeping tables.
func (s *Session) Tables() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("dbsession: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("dbsession: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}

// Column describes one column of a table, from PRAGMA table_info.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

// Columns returns the ordered column list for table.
func (s *Session) Columns(table string) ([]Column, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("dbsession: table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid        int
			name, ctyp string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctyp, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("dbsession: scan table_info(%s): %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: ctyp, NotNull: notNull != 0, PrimaryKey: pk != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// TableSchema returns the CREATE TABLE statement SQLite recorded for
// table, so the orchestrator can copy a source's schema onto a fresh
// target session verbatim.
func (s *Session) TableSchema(table string) (string, error) {
	var ddl sql.NullString
	err := s.db.QueryRow(`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
	if err != nil {
		return "", fmt.Errorf("dbsession: schema for %s: %w", table, err)
	}
	return ddl.String, nil
}

// Indexes returns the CREATE INDEX statements SQLite recorded for table,
// skipping SQLite's own implicit indexes (autoindexes have no sql text).
func (s *Session) Indexes(table string) ([]string, error) {
	rows, err := s.db.Query(`SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL`, table)
	if err != nil {
		return nil, fmt.Errorf("dbsession: indexes for %s: %w", table, err)
	}
	defer rows.Close()

	var ddls []string
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return nil, err
		}
		ddls = append(ddls, ddl)
	}
	return ddls, rows.Err()
}

// Path returns the session's backing temp file path, for callers that
// need to hand it to a lower-level tool (tests only; the engine itself
// should never depend on the path).
func (s *Session) Path() string {
	return s.path
}
