// Package rowmerge implements the table-by-table merge driver: for every
// table but Location, it applies the table's identity rule, resolves
// primary-key collisions, rewrites foreign keys through the registry,
// and skips rows that already have a semantic duplicate in the target.
package rowmerge

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/arlobrandt/shelfmerge/internal/dbsession"
	"github.com/arlobrandt/shelfmerge/internal/registry"
	"github.com/arlobrandt/shelfmerge/internal/schema"
	"github.com/arlobrandt/shelfmerge/internal/trace"
)

const maxProbeAttempts = 1000

// Source is one source database, identified by its position in the
// caller's source order.
type Source struct {
	Session *dbsession.Session
	Index   int
}

// Merge runs the generic row merger for one table against every source,
// in source order, rows within a source in primary-key order.
func Merge(target *dbsession.Session, sources []Source, spec schema.TableSpec, reg *registry.Registry, emit trace.Emitter) error {
	cols, err := columnNames(target, spec.Name)
	if err != nil {
		return fmt.Errorf("rowmerge: %s: %w", spec.Name, err)
	}

	pkCol, err := resolvePKColumn(target, spec, cols)
	if err != nil {
		return fmt.Errorf("rowmerge: %s: %w", spec.Name, err)
	}

	rules := spec.IdentityRules
	if len(rules) == 0 {
		rules = [][]string{genericIdentityRule(cols, pkCol)}
	}

	if pkCol == "" {
		return mergeBookkeeping(target, sources, spec, cols, rules, emit)
	}

	counter, err := nextCounterSeed(target, spec.Name, pkCol)
	if err != nil {
		return fmt.Errorf("rowmerge: %s: %w", spec.Name, err)
	}
	var offset int64

	for _, src := range sources {
		rows, err := fetchRows(src, spec.Name, cols, pkCol)
		if err != nil {
			return fmt.Errorf("rowmerge: %s: source %d: %w", spec.Name, src.Index, err)
		}

		var maxFinalThisSource int64
		for _, values := range rows {
			originalID, err := asInt64(values[pkCol])
			if err != nil {
				return fmt.Errorf("rowmerge: %s: source %d: bad pk value: %w", spec.Name, src.Index, err)
			}

			if spec.RewriteFKBeforeIdentity {
				rewriteForeignKeys(target, spec, values, reg, emit, src.Index)
			}

			if existingID, ok, err := findDuplicate(target, spec.Name, pkCol, rules, values); err != nil {
				return fmt.Errorf("rowmerge: %s: duplicate check: %w", spec.Name, err)
			} else if ok {
				if existingID != originalID {
					reg.Record(spec.Name, src.Index, originalID, existingID)
				}
				emit(trace.Event{Kind: trace.Duplicate, Table: spec.Name, SourceIndex: src.Index, OriginalID: originalID, FinalID: existingID})
				continue
			}

			if !spec.RewriteFKBeforeIdentity {
				rewriteForeignKeys(target, spec, values, reg, emit, src.Index)
			}

			var finalID int64
			switch spec.Strategy {
			case schema.StrategyOffset:
				finalID = originalID + offset
			case schema.StrategyProbe:
				finalID, counter, err = resolveProbeID(target, spec.Name, pkCol, originalID, counter)
				if err != nil {
					return fmt.Errorf("rowmerge: %s: %w", spec.Name, err)
				}
			default:
				finalID = originalID
			}

			inserted, err := insertAndVerify(target, spec.Name, pkCol, cols, values, finalID)
			if err != nil {
				return fmt.Errorf("rowmerge: %s: insert: %w", spec.Name, err)
			}
			if !inserted {
				log.Printf("rowmerge: %s: insert of original id %d from source %d not observed after write, skipping mapping", spec.Name, originalID, src.Index)
				continue
			}

			if finalID > maxFinalThisSource {
				maxFinalThisSource = finalID
			}
			if finalID != originalID {
				reg.Record(spec.Name, src.Index, originalID, finalID)
				emit(trace.Event{Kind: trace.Remapped, Table: spec.Name, SourceIndex: src.Index, OriginalID: originalID, FinalID: finalID})
			} else {
				emit(trace.Event{Kind: trace.Inserted, Table: spec.Name, SourceIndex: src.Index, OriginalID: originalID, FinalID: finalID})
			}
		}

		if spec.Strategy == schema.StrategyOffset && maxFinalThisSource > offset {
			offset = maxFinalThisSource
		}
	}

	return nil
}

// mergeBookkeeping handles tables with no engine-managed surrogate key
// (LastModified, MigrationHistory): identity is the table's declared rule
// (or the full row content when none is declared), and there is no id to
// remap or any foreign key referring to these tables.
func mergeBookkeeping(target *dbsession.Session, sources []Source, spec schema.TableSpec, cols []string, rules [][]string, emit trace.Emitter) error {
	for _, src := range sources {
		rows, err := fetchRowsNoOrder(src, spec.Name, cols)
		if err != nil {
			return fmt.Errorf("rowmerge: %s: source %d: %w", spec.Name, src.Index, err)
		}
		for _, values := range rows {
			if _, ok, err := findDuplicate(target, spec.Name, "", rules, values); err != nil {
				return fmt.Errorf("rowmerge: %s: duplicate check: %w", spec.Name, err)
			} else if ok {
				emit(trace.Event{Kind: trace.Duplicate, Table: spec.Name, SourceIndex: src.Index})
				continue
			}
			if err := insertRow(target, spec.Name, cols, values); err != nil {
				return fmt.Errorf("rowmerge: %s: insert: %w", spec.Name, err)
			}
			emit(trace.Event{Kind: trace.Inserted, Table: spec.Name, SourceIndex: src.Index})
		}
	}
	return nil
}

// genericIdentityRule builds the fallback identity rule for a table the
// schema catalogue does not know: every non-pk column, NULL-safe.
func genericIdentityRule(cols []string, pkCol string) []string {
	rule := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == pkCol {
			continue
		}
		rule = append(rule, c)
	}
	return rule
}

func resolvePKColumn(target *dbsession.Session, spec schema.TableSpec, cols []string) (string, error) {
	if spec.PKColumn != "" {
		return spec.PKColumn, nil
	}
	if spec.Strategy == schema.StrategyNone {
		return "", nil
	}
	info, err := target.Columns(spec.Name)
	if err != nil {
		return "", err
	}
	for _, c := range info {
		if c.PrimaryKey {
			return c.Name, nil
		}
	}
	return "", fmt.Errorf("no primary key column found for table %s", spec.Name)
}

func columnNames(target *dbsession.Session, table string) ([]string, error) {
	cols, err := target.Columns(table)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

func fetchRows(src Source, table string, cols []string, pkCol string) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", joinCols(cols), table, pkCol)
	return queryRows(src.Session, query, cols)
}

func fetchRowsNoOrder(src Source, table string, cols []string) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", joinCols(cols), table)
	return queryRows(src.Session, query, cols)
}

func queryRows(session *dbsession.Session, query string, cols []string) ([]map[string]any, error) {
	rows, err := session.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		values := make(map[string]any, len(cols))
		for i, c := range cols {
			values[c] = dest[i]
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

// findDuplicate evaluates each identity rule in declared order and
// returns the first existing target row's primary key that matches. When
// pkCol is "" (bookkeeping tables), it only reports existence.
func findDuplicate(target *dbsession.Session, table, pkCol string, rules [][]string, values map[string]any) (int64, bool, error) {
	for _, rule := range rules {
		if len(rule) == 0 {
			continue
		}
		args := make([]any, len(rule))
		for i, col := range rule {
			args[i] = values[col]
		}
		predicate := schema.MatchPredicate(rule)

		if pkCol == "" {
			query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, predicate)
			var count int
			if err := target.QueryRow(query, args...).Scan(&count); err != nil {
				return 0, false, err
			}
			if count > 0 {
				return 0, true, nil
			}
			continue
		}

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", pkCol, table, predicate)
		var existingID int64
		err := target.QueryRow(query, args...).Scan(&existingID)
		if err == nil {
			return existingID, true, nil
		}
		if !isNoRows(err) {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// rewriteForeignKeys rewrites each foreign-key column of values through
// reg, or leaves it as-is if the referenced row already exists in the
// target under its original id. A foreign key that resolves to neither
// is kept and reported as an orphan.
func rewriteForeignKeys(target *dbsession.Session, spec schema.TableSpec, values map[string]any, reg *registry.Registry, emit trace.Emitter, sourceIndex int) {
	for _, fk := range spec.ForeignKeys {
		raw, ok := values[fk.Column]
		if !ok || raw == nil {
			continue
		}
		orig, err := asInt64(raw)
		if err != nil {
			continue
		}

		if newID, ok := reg.Lookup(fk.RefTable, sourceIndex, orig); ok {
			values[fk.Column] = newID
			continue
		}

		refSpec := schema.Lookup(fk.RefTable)
		refPK := fk.RefColumn
		if refPK == "" {
			refPK = refSpec.PKColumn
		}
		if refPK == "" {
			continue
		}
		exists, err := rowExists(target, fk.RefTable, refPK, orig)
		if err == nil && exists {
			continue
		}

		emit(trace.Event{Kind: trace.Orphan, Table: spec.Name, SourceIndex: sourceIndex, FKColumn: fk.Column, FKValue: orig})
	}
}

func rowExists(target *dbsession.Session, table, pkCol string, id int64) (bool, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, pkCol)
	if err := target.QueryRow(query, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// nextCounterSeed returns max(pk)+1 over the target's current rows, the
// seed spec §4.6 step 2 specifies for StrategyProbe's running counter.
func nextCounterSeed(target *dbsession.Session, table, pkCol string) (int64, error) {
	var maxID int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", pkCol, table)
	if err := target.QueryRow(query).Scan(&maxID); err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

// resolveProbeID returns originalID if free, otherwise the next free id
// starting from counter, bounded at maxProbeAttempts (spec §4.6 step 2).
// It returns the advanced counter for the caller to carry forward.
func resolveProbeID(target *dbsession.Session, table, pkCol string, originalID, counter int64) (int64, int64, error) {
	taken, err := rowExists(target, table, pkCol, originalID)
	if err != nil {
		return 0, counter, err
	}
	if !taken {
		return originalID, counter, nil
	}

	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		candidate := counter
		counter++
		exists, err := rowExists(target, table, pkCol, candidate)
		if err != nil {
			return 0, counter, err
		}
		if !exists {
			return candidate, counter, nil
		}
	}
	return 0, counter, fmt.Errorf("exhausted %d id allocation attempts for table %s", maxProbeAttempts, table)
}

func insertAndVerify(target *dbsession.Session, table, pkCol string, cols []string, values map[string]any, finalID int64) (bool, error) {
	args := make([]any, len(cols))
	for i, c := range cols {
		if c == pkCol {
			args[i] = finalID
			continue
		}
		args[i] = values[c]
	}

	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, joinCols(cols), placeholders(len(cols)))
	if _, err := target.Exec(query, args...); err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}

	exists, err := rowExists(target, table, pkCol, finalID)
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	return exists, nil
}

func insertRow(target *dbsession.Session, table string, cols []string, values map[string]any) error {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), placeholders(len(cols)))
	_, err := target.Exec(query, args...)
	return err
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

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("nil value")
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
