// Package location implements the two-phase merge of the Location table,
// whose identity rule depends on the row's own content rather than on a
// single fixed set of columns.
package location

import (
	"fmt"

	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/arlobrandt/shelfmerge/internal/registry"
	"github.com/arlobrandt/shelfmerge/internal/schema"
	"github.com/arlobrandt/shelfmerge/internal/trace"
)

const table = "Location"

const maxProbeAttempts = 1000

// Source is one source database's Location rows, already ordered by
// primary key (spec's "rows within a source are processed in primary-key
// order" guarantee).
type Source struct {
	Session *dbsession.Session
	Index   int // position in the caller's source order
}

// row is one Location row carried through both phases.
type row struct {
	sourceIndex int
	originalID  int64
	values      map[string]any // column name -> value, including the pk
	signature   string
	columns     []string // column order as read from the source, for insert
}

// occurrence tracks the first row seen for a signature, and the final id
// it ends up with once phase 2 inserts it.
type occurrence struct {
	row     *row
	finalID int64
	final   bool
}

// Merge runs the two-phase Location merge against target, consuming rows
// from every source in order. It records every remap in reg and emits a
// trace.Event for each decision.
func Merge(target *dbsession.Session, sources []Source, reg *registry.Registry, emit trace.Emitter) error {
	spec := schema.Lookup(table)

	cols, err := columnsOf(sources, target)
	if err != nil {
		return err
	}

	rows, err := scan(sources, cols)
	if err != nil {
		return fmt.Errorf("location: phase 1 scan: %w", err)
	}

	firstOccurrence := make(map[string]*occurrence)
	for i := range rows {
		sig := signatureOf(rows[i])
		rows[i].signature = sig
		if _, ok := firstOccurrence[sig]; !ok {
			firstOccurrence[sig] = &occurrence{row: &rows[i]}
		}
	}

	used := make(map[int64]bool)

	for i := range rows {
		r := &rows[i]
		occ := firstOccurrence[r.signature]

		if occ.row != r {
			if !occ.final {
				return fmt.Errorf("location: phase 2 visited a duplicate before its first occurrence was inserted")
			}
			if occ.finalID != r.originalID {
				reg.Record(table, r.sourceIndex, r.originalID, occ.finalID)
			}
			emit(trace.Event{Kind: trace.Duplicate, Table: table, SourceIndex: r.sourceIndex, OriginalID: r.originalID, FinalID: occ.finalID})
			continue
		}

		finalID := r.originalID
		if used[finalID] {
			finalID, err = probeNextFree(finalID, used)
			if err != nil {
				return fmt.Errorf("location: %w", err)
			}
		}

		if err := insertAndVerify(target, spec.PKColumn, cols, r.values, finalID); err != nil {
			return fmt.Errorf("location: verified insert failed for original id %d: %w", r.originalID, err)
		}

		used[finalID] = true
		occ.finalID = finalID
		occ.final = true

		if finalID != r.originalID {
			reg.Record(table, r.sourceIndex, r.originalID, finalID)
			emit(trace.Event{Kind: trace.Remapped, Table: table, SourceIndex: r.sourceIndex, OriginalID: r.originalID, FinalID: finalID})
		} else {
			emit(trace.Event{Kind: trace.Inserted, Table: table, SourceIndex: r.sourceIndex, OriginalID: r.originalID, FinalID: finalID})
		}
	}

	return nil
}

func columnsOf(sources []Source, target *dbsession.Session) ([]string, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("location: no sources supplied")
	}
	cols, err := sources[0].Session.Columns(table)
	if err != nil {
		return nil, fmt.Errorf("location: introspect columns: %w", err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

func scan(sources []Source, cols []string) ([]row, error) {
	spec := schema.Lookup(table)
	selectCols := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", joinCols(cols), table, spec.PKColumn)

	var rows []row
	for _, src := range sources {
		r, err := src.Session.Query(selectCols)
		if err != nil {
			return nil, fmt.Errorf("scan source %d: %w", src.Index, err)
		}
		for r.Next() {
			dest := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range dest {
				ptrs[i] = &dest[i]
			}
			if err := r.Scan(ptrs...); err != nil {
				r.Close()
				return nil, fmt.Errorf("scan source %d row: %w", src.Index, err)
			}
			values := make(map[string]any, len(cols))
			for i, c := range cols {
				values[c] = dest[i]
			}
			originalID, err := asInt64(values[spec.PKColumn])
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("scan source %d row: %s: %w", src.Index, spec.PKColumn, err)
			}
			rows = append(rows, row{
				sourceIndex: src.Index,
				originalID:  originalID,
				values:      values,
				columns:     cols,
			})
		}
		if err := r.Err(); err != nil {
			r.Close()
			return nil, err
		}
		r.Close()
	}
	return rows, nil
}

// signatureOf picks the Bible-chapter rule or the publication rule per
// spec §4.5 and returns its canonical signature, prefixed by which rule
// fired so the two rule spaces never collide.
func signatureOf(r row) string {
	bookNumber, _ := asInt64(r.values["BookNumber"])
	chapterNumber, _ := asInt64(r.values["ChapterNumber"])
	typ, _ := asInt64(r.values["Type"])

	if typ == 0 && r.values["BookNumber"] != nil && bookNumber != 0 && r.values["ChapterNumber"] != nil && chapterNumber != 0 {
		cols := []string{"BookNumber", "ChapterNumber", "KeySymbol", schema.MepsLanguageColumn, "Type"}
		return "chapter:" + schema.Signature(cols, valuesOf(r, cols))
	}
	cols := []string{"KeySymbol", "IssueTagNumber", schema.MepsLanguageColumn, "DocumentId", "Track", "Type"}
	return "publication:" + schema.Signature(cols, valuesOf(r, cols))
}

func valuesOf(r row, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = r.values[c]
	}
	return out
}

func probeNextFree(from int64, used map[int64]bool) (int64, error) {
	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		candidate := from + int64(attempt) + 1
		if !used[candidate] {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("exhausted %d probe attempts starting from %d", maxProbeAttempts, from)
}

func insertAndVerify(target *dbsession.Session, pkColumn string, cols []string, values map[string]any, finalID int64) error {
	args := make([]any, len(cols))
	for i, c := range cols {
		if c == pkColumn {
			args[i] = finalID
			continue
		}
		args[i] = values[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), insertColsPlaceholders(cols))
	if _, err := target.Exec(query, args...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	var present int
	err := target.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, pkColumn), finalID).Scan(&present)
	if err != nil {
		return fmt.Errorf("verify insert: %w", err)
	}
	if present == 0 {
		return fmt.Errorf("insert reported success but row is not present at id %d", finalID)
	}
	return nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func insertColsPlaceholders(cols []string) string {
	out := ""
	for i := range cols {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		var out int64
		_, err := fmt.Sscanf(string(n), "%d", &out)
		return out, err
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
