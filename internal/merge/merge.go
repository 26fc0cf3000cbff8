// Package merge is the orchestrator: it drives the whole pipeline spec §4.8
// describes — opening sources, copying schema, merging Location, merging
// every other table in dependency order, merging media, assembling the
// output archive, and validating the result.
package merge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arlobrandt/shelfmerge/internal/archive"
	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/arlobrandt/shelfmerge/internal/location"
	"github.com/arlobrandt/shelfmerge/internal/media"
	"github.com/arlobrandt/shelfmerge/internal/registry"
	"github.com/arlobrandt/shelfmerge/internal/rowmerge"
	"github.com/arlobrandt/shelfmerge/internal/runid"
	"github.com/arlobrandt/shelfmerge/internal/schema"
	"github.com/arlobrandt/shelfmerge/internal/trace"
	"github.com/arlobrandt/shelfmerge/internal/validate"
)

const minSources = 2

// Progress is a fire-and-forget sink the engine calls from the merge
// goroutine; it must not block. message is a short human-readable label,
// progress is 0..100.
type Progress func(message string, progress int)

// Include mirrors spec §6.4's data-type configuration mask. Run treats a
// zero Include (every field false) as DefaultInclude, so a caller that
// leaves it unset merges every data type.
type Include struct {
	Notes       bool
	Bookmarks   bool
	Highlights  bool
	Tags        bool
	InputFields bool
	Playlists   bool
}

// DefaultInclude returns a mask with every data type enabled.
func DefaultInclude() Include {
	return Include{Notes: true, Bookmarks: true, Highlights: true, Tags: true, InputFields: true, Playlists: true}
}

// Options configures one merge run, mirroring spec §6.3's config object.
type Options struct {
	Include        Include
	Progress       Progress
	Cancel         <-chan struct{}
	SizeLimitBytes int64

	// Trace receives every merge-decision event (spec §9's structured
	// trace). Callers that don't need it may leave it nil.
	Trace trace.Emitter
}

// Result is the engine's successful outcome, mirroring spec §6.3.
type Result struct {
	Archive    []byte
	Filename   string
	Validation validate.Report
	RunID      string
}

// playlistTables names every table spec §6.4 gates behind "playlists".
var playlistTables = map[string]bool{
	"Item": true, "ItemMarker": true, "ItemLocationMap": true, "ItemMediaMap": true,
	"MarkerBibleVerseMap": true, "MarkerParagraphMap": true, "Media": true, "Accuracy": true,
}

// tableEnabled reports whether table should be merged under inc, per
// spec §6.4's table. Tables not named by any config flag (the always-
// merged infrastructural tables, and any unrecognized table) are always
// enabled.
func tableEnabled(table string, inc Include) bool {
	switch table {
	case "Note":
		return inc.Notes
	case "Bookmark":
		return inc.Bookmarks
	case "Mark", "BlockRange":
		return inc.Highlights
	case "Tag", "TagMap":
		return inc.Tags
	case "InputField":
		return inc.InputFields
	}
	if playlistTables[table] {
		return inc.Playlists
	}
	return true
}

// Run merges sources (in order) into one archive, per spec §6.3.
func Run(ctx context.Context, sources [][]byte, opts Options) (Result, error) {
	emit := opts.Trace
	if emit == nil {
		emit = trace.Discard
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string, int) {}
	}
	if opts.Include == (Include{}) {
		opts.Include = DefaultInclude()
	}

	if len(sources) < minSources {
		return Result{}, &Error{Kind: KindInputInvalid, Err: fmt.Errorf("at least %d sources required, got %d", minSources, len(sources))}
	}

	if opts.SizeLimitBytes > 0 {
		var total int64
		for _, s := range sources {
			total += int64(len(s))
		}
		if total > opts.SizeLimitBytes {
			return Result{}, &Error{Kind: KindInputTooLarge, Err: fmt.Errorf("combined input %d bytes exceeds limit %d bytes", total, opts.SizeLimitBytes)}
		}
	}

	runID := runid.New()

	progress("opening sources", 5)
	readers := make([]*archive.Reader, len(sources))
	for i, raw := range sources {
		r, err := archive.Open(raw)
		if err != nil {
			return Result{}, &Error{Kind: KindBadContainer, Err: fmt.Errorf("source %d: %w", i, err)}
		}
		readers[i] = r
	}

	manifest0, err := readers[0].Manifest()
	if err != nil {
		return Result{}, &Error{Kind: KindBadManifest, Err: fmt.Errorf("source 0: %w", err)}
	}

	if err := checkCancelled(ctx, opts.Cancel); err != nil {
		return Result{}, err
	}

	progress("opening databases", 15)
	sessions := make([]*dbsession.Session, len(readers))
	for i, r := range readers {
		s, err := dbsession.Open(r.Database())
		if err != nil {
			closeAll(sessions)
			return Result{}, &Error{Kind: KindBadDatabase, Err: fmt.Errorf("source %d: %w", i, err)}
		}
		sessions[i] = s
	}
	defer closeAll(sessions)

	for i, s := range sessions {
		tables, err := s.Tables()
		if err != nil {
			return Result{}, &Error{Kind: KindBadDatabase, Err: fmt.Errorf("source %d: list tables: %w", i, err)}
		}
		if !contains(tables, "Location") {
			return Result{}, &Error{Kind: KindBadDatabase, Err: fmt.Errorf("source %d: missing required table Location", i)}
		}
	}

	target, err := dbsession.Create()
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("create target: %w", err)}
	}
	defer target.Close()

	if err := copySchema(sessions[0], target); err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("copy schema from source 0: %w", err)}
	}

	reg := registry.New()

	if err := checkCancelled(ctx, opts.Cancel); err != nil {
		return Result{}, err
	}

	progress("merging locations", 25)
	locationSources := make([]location.Source, len(sessions))
	for i, s := range sessions {
		locationSources[i] = location.Source{Session: s, Index: i}
	}
	if err := location.Merge(target, locationSources, reg, emit); err != nil {
		return Result{}, &Error{Kind: KindMergeConflict, Err: err}
	}

	tables, err := target.Tables()
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("list target tables: %w", err)}
	}

	rowSources := make([]rowmerge.Source, len(sessions))
	for i, s := range sessions {
		rowSources[i] = rowmerge.Source{Session: s, Index: i}
	}

	order := mergeOrder(tables)
	total := len(order)
	for idx, table := range order {
		if err := checkCancelled(ctx, opts.Cancel); err != nil {
			return Result{}, err
		}
		if !tableEnabled(table, opts.Include) {
			continue
		}
		progress(fmt.Sprintf("merging %s", table), 25+int(50*float64(idx+1)/float64(total)))

		spec := schema.Lookup(table)
		if err := rowmerge.Merge(target, rowSources, spec, reg, emit); err != nil {
			return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("merge %s: %w", table, err)}
		}
	}

	if err := checkCancelled(ctx, opts.Cancel); err != nil {
		return Result{}, err
	}

	progress("merging media", 80)
	mediaMerger := media.New()
	for i, r := range readers {
		mediaMerger.Add(i, r.Entries(), emit)
	}

	progress("exporting database", 90)
	dbBytes, err := target.Export()
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("export target database: %w", err)}
	}

	now := time.Now()
	manifestOut := buildManifest(now, dbBytes, manifest0)
	manifestBytes, err := json.Marshal(manifestOut)
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("marshal manifest: %w", err)}
	}

	archiveOut, err := archive.NewWriter().Build(manifestBytes, dbBytes, mediaMerger.Entries())
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("assemble output archive: %w", err)}
	}

	progress("validating", 95)
	report, err := validate.Run(target, reg)
	if err != nil {
		return Result{}, &Error{Kind: KindInternal, Err: fmt.Errorf("validate: %w", err)}
	}

	progress("done", 100)
	return Result{
		Archive:    archiveOut,
		Filename:   fmt.Sprintf("merged-library-%s.zip", now.Format("2006-01-02")),
		Validation: report,
		RunID:      runID,
	}, nil
}

// mergeOrder returns schema.DependencyOrder filtered to tables actually
// present in target minus Location (already merged), followed by any
// extra tables present but unknown to the catalogue, per spec §3.3's
// "tables present but absent from this list are merged after the known
// ones using generic rules".
func mergeOrder(tables []string) []string {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	var order []string
	seen := map[string]bool{"Location": true}
	for _, t := range schema.DependencyOrder {
		if t == "Location" {
			continue
		}
		if present[t] {
			order = append(order, t)
			seen[t] = true
		}
	}
	for _, t := range tables {
		if !seen[t] {
			order = append(order, t)
			seen[t] = true
		}
	}
	return order
}

func copySchema(source, target *dbsession.Session) error {
	tables, err := source.Tables()
	if err != nil {
		return err
	}
	for _, table := range tables {
		ddl, err := source.TableSchema(table)
		if err != nil {
			return fmt.Errorf("schema for %s: %w", table, err)
		}
		if ddl == "" {
			continue
		}
		if _, err := target.Exec(ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		indexes, err := source.Indexes(table)
		if err != nil {
			return fmt.Errorf("indexes for %s: %w", table, err)
		}
		for _, idxDDL := range indexes {
			if _, err := target.Exec(idxDDL); err != nil {
				return fmt.Errorf("create index on %s: %w", table, err)
			}
		}
	}
	return nil
}

func buildManifest(now time.Time, dbBytes []byte, source0 archive.Manifest) archive.Manifest {
	sum := sha256.Sum256(dbBytes)
	hash := hex.EncodeToString(sum[:])
	ts := now.Format("2006-01-02T15:04:05-0700")

	schemaVersion := source0.UserDataBackup.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 14
	}

	return archive.Manifest{
		Name:         "Merged Library",
		CreationDate: ts,
		Version:      1,
		Type:         0,
		UserDataBackup: archive.UserDataBackup{
			LastModifiedDate: ts,
			DatabaseName:     "userData.db",
			DeviceName:       "Merged Library",
			Hash:             hash,
			SchemaVersion:    schemaVersion,
		},
	}
}

func checkCancelled(ctx context.Context, cancel <-chan struct{}) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return &Error{Kind: KindCancelled, Err: ctx.Err()}
		default:
		}
	}
	if cancel != nil {
		select {
		case <-cancel:
			return &Error{Kind: KindCancelled, Err: fmt.Errorf("merge cancelled")}
		default:
		}
	}
	return nil
}

func closeAll(sessions []*dbsession.Session) {
	for _, s := range sessions {
		if s != nil {
			s.Close()
		}
	}
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}
