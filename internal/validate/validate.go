// Package validate runs read-only post-merge integrity checks against the
// target database and produces a report. It never mutates the target.
package validate

import (
	"fmt"

	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/arlobrandt/shelfmerge/internal/registry"
)

// maxSamples bounds how many orphan examples the report carries per check,
// per spec §4.9's "up to ten sample pairs".
const maxSamples = 10

// OrphanSample is one example of an unresolved foreign key.
type OrphanSample struct {
	PK        int64
	MissingFK int64
}

// Report carries the Integrity Validator's findings, per spec §4.9.
type Report struct {
	OrphanedMarks        int
	OrphanedMarksSample   []OrphanSample
	OrphanedNotes        int
	OrphanedNotesSample   []OrphanSample
	DuplicateLocations   int
	RowCounts            map[string]int
	RegistrySize         map[string]int
}

// knownTables is the set of tables row counts are reported for, mirroring
// spec §3.3's known catalogue.
var knownTables = []string{
	"LastModified", "MigrationHistory", "Accuracy",
	"Location", "Tag", "Media",
	"Mark", "Item", "Bookmark",
	"Note", "BlockRange", "ItemMarker", "ItemLocationMap", "ItemMediaMap",
	"TagMap", "MarkerBibleVerseMap", "MarkerParagraphMap",
	"InputField",
}

// Run executes every read-only check against target and returns the
// accumulated report. It never aborts on a single check's failure to
// find a table that isn't present; it simply omits that table's count.
func Run(target *dbsession.Session, reg *registry.Registry) (Report, error) {
	report := Report{
		RowCounts:    make(map[string]int),
		RegistrySize: make(map[string]int),
	}

	tables, err := target.Tables()
	if err != nil {
		return report, fmt.Errorf("validate: list tables: %w", err)
	}
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	for _, table := range knownTables {
		if !present[table] {
			continue
		}
		count, err := rowCount(target, table)
		if err != nil {
			return report, fmt.Errorf("validate: count %s: %w", table, err)
		}
		report.RowCounts[table] = count
	}

	if present["Mark"] && present["Location"] {
		n, samples, err := orphans(target, "Mark", "MarkId", "LocationId", "Location", "LocationId", false)
		if err != nil {
			return report, fmt.Errorf("validate: orphaned Mark rows: %w", err)
		}
		report.OrphanedMarks = n
		report.OrphanedMarksSample = samples
	}

	if present["Note"] && present["Location"] {
		n, samples, err := orphans(target, "Note", "NoteId", "LocationId", "Location", "LocationId", true)
		if err != nil {
			return report, fmt.Errorf("validate: orphaned Note rows: %w", err)
		}
		report.OrphanedNotes = n
		report.OrphanedNotesSample = samples
	}

	if present["Location"] {
		n, err := duplicateLocationSignatures(target)
		if err != nil {
			return report, fmt.Errorf("validate: duplicate Location signatures: %w", err)
		}
		report.DuplicateLocations = n
	}

	for _, table := range knownTables {
		if n := reg.Count(table); n > 0 {
			report.RegistrySize[table] = n
		}
	}

	return report, nil
}

func rowCount(target *dbsession.Session, table string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	err := target.QueryRow(query).Scan(&n)
	return n, err
}

// orphans counts rows of childTable whose fkColumn does not resolve to a
// row of parentTable, along with up to maxSamples example (pk, missing)
// pairs. When fkNullable is true, null values are not counted as orphans.
func orphans(target *dbsession.Session, childTable, pkColumn, fkColumn, parentTable, parentPK string, fkNullable bool) (int, []OrphanSample, error) {
	nullGuard := ""
	if fkNullable {
		nullGuard = fmt.Sprintf(" AND c.%s IS NOT NULL", fkColumn)
	}

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s c
		WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)%s
	`, childTable, parentTable, parentPK, fkColumn, nullGuard)

	var n int
	if err := target.QueryRow(countQuery).Scan(&n); err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}

	sampleQuery := fmt.Sprintf(`
		SELECT c.%s, c.%s FROM %s c
		WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)%s
		LIMIT %d
	`, pkColumn, fkColumn, childTable, parentTable, parentPK, fkColumn, nullGuard, maxSamples)

	rows, err := target.Query(sampleQuery)
	if err != nil {
		return n, nil, err
	}
	defer rows.Close()

	var samples []OrphanSample
	for rows.Next() {
		var s OrphanSample
		if err := rows.Scan(&s.PK, &s.MissingFK); err != nil {
			return n, samples, err
		}
		samples = append(samples, s)
	}
	return n, samples, rows.Err()
}

// duplicateLocationSignatures counts how many Bible-chapter or
// publication signatures appear on more than one row, which should
// always be zero after a correct Location merge (spec §4.9, §8.4).
func duplicateLocationSignatures(target *dbsession.Session) (int, error) {
	query := `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM Location
			GROUP BY
				CASE WHEN Type = 0 AND BookNumber IS NOT NULL AND BookNumber != 0
					  AND ChapterNumber IS NOT NULL AND ChapterNumber != 0
					THEN 'chapter|' || BookNumber || '|' || ChapterNumber || '|' || COALESCE(KeySymbol, 'NULL') || '|' ||
						 CASE WHEN MepsLanguage IS NULL OR MepsLanguage = 0 THEN '0' ELSE CAST(MepsLanguage AS TEXT) END
					ELSE 'publication|' || COALESCE(KeySymbol, 'NULL') || '|' || COALESCE(CAST(IssueTagNumber AS TEXT), 'NULL') || '|' ||
						 CASE WHEN MepsLanguage IS NULL OR MepsLanguage = 0 THEN '0' ELSE CAST(MepsLanguage AS TEXT) END || '|' ||
						 COALESCE(CAST(DocumentId AS TEXT), 'NULL') || '|' || COALESCE(CAST(Track AS TEXT), 'NULL') || '|' || Type
				END
			HAVING COUNT(*) > 1
		)
	`
	var n int
	err := target.QueryRow(query).Scan(&n)
	return n, err
}
