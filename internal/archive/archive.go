// Package archive opens and assembles the ZIP-compatible containers the
// merge engine reads from and writes to: a manifest, a database blob, and
// any number of ancillary media entries.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

const (
	manifestEntry = "manifest.json"
	databaseEntry = "userData.db"
)

// ErrBadContainer is returned when a container is missing its manifest
// or database entry, or its compressed stream cannot be read.
var ErrBadContainer = fmt.Errorf("archive: bad container")

// Manifest is the JSON shape of manifest.json, per spec §6.2.
type Manifest struct {
	Name           string         `json:"name"`
	CreationDate   string         `json:"creationDate"`
	Version        int            `json:"version"`
	Type           int            `json:"type"`
	UserDataBackup UserDataBackup `json:"userDataBackup"`
}

// UserDataBackup is the nested object describing the database payload.
type UserDataBackup struct {
	LastModifiedDate string `json:"lastModifiedDate"`
	DatabaseName     string `json:"databaseName"`
	DeviceName       string `json:"deviceName"`
	Hash             string `json:"hash"`
	SchemaVersion    int    `json:"schemaVersion"`
}

// Reader exposes the contract spec §4.1 requires of a source archive:
// the manifest bytes, the database bytes, and every other entry.
type Reader struct {
	manifest []byte
	database []byte
	entries  map[string][]byte
}

// Open parses data as a ZIP container and extracts its manifest, database,
// and media entries. It returns ErrBadContainer if either required entry
// is absent or the stream cannot be read as a ZIP archive.
func Open(data []byte) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
	}

	r := &Reader{entries: make(map[string][]byte)}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		contents, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrBadContainer, f.Name, err)
		}
		switch f.Name {
		case manifestEntry:
			r.manifest = contents
		case databaseEntry:
			r.database = contents
		default:
			r.entries[f.Name] = contents
		}
	}

	if r.manifest == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadContainer, manifestEntry)
	}
	if r.database == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadContainer, databaseEntry)
	}
	return r, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ManifestBytes returns the raw manifest.json contents.
func (r *Reader) ManifestBytes() []byte {
	return r.manifest
}

// Manifest parses the manifest.json contents into a Manifest struct.
func (r *Reader) Manifest() (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(r.manifest, &m); err != nil {
		return Manifest{}, fmt.Errorf("archive: bad manifest: %w", err)
	}
	return m, nil
}

// Database returns the raw userData.db contents.
func (r *Reader) Database() []byte {
	return r.database
}

// Entry is one non-manifest, non-database archive member.
type Entry struct {
	Name string
	Data []byte
}

// Entries returns every archive member other than the manifest and
// database, in deterministic (sorted-by-name) order.
func (r *Reader) Entries() []Entry {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Entry, len(names))
	for i, name := range names {
		out[i] = Entry{Name: name, Data: r.entries[name]}
	}
	return out
}

// Writer assembles a new container from a manifest, a database blob, and
// a set of media entries, per spec §4.1's write contract.
type Writer struct{}

// NewWriter returns a Writer. It carries no state; it exists so the write
// path mirrors the Reader's method-call shape.
func NewWriter() *Writer {
	return &Writer{}
}

// Build writes manifest, database, and entries into a new DEFLATE-compressed
// ZIP container and returns its bytes.
func (w *Writer) Build(manifest []byte, database []byte, entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeZipEntry(zw, manifestEntry, manifest); err != nil {
		return nil, fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := writeZipEntry(zw, databaseEntry, database); err != nil {
		return nil, fmt.Errorf("archive: write database: %w", err)
	}
	for _, e := range entries {
		if err := writeZipEntry(zw, e.Name, e.Data); err != nil {
			return nil, fmt.Errorf("archive: write entry %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
