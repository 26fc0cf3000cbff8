package schema

import (
	"fmt"
	"strings"
)

// Signature produces the canonical stringification of one identity rule's
// column values, per spec §4.3: NULL for a null value, the textual form
// otherwise, joined with "|". MepsLanguage normalizes null-or-zero to "0".
func Signature(columns []string, values []any) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = canonicalValue(col, values[i])
	}
	return strings.Join(parts, "|")
}

func canonicalValue(column string, value any) string {
	if column == MepsLanguageColumn {
		return canonicalMepsLanguage(value)
	}
	if value == nil {
		return "NULL"
	}
	switch v := value.(type) {
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// canonicalMepsLanguage maps null or zero to "0", per spec §3.2/§4.5.
func canonicalMepsLanguage(value any) string {
	if value == nil {
		return "0"
	}
	switch v := value.(type) {
	case int64:
		if v == 0 {
			return "0"
		}
		return fmt.Sprint(v)
	case int:
		if v == 0 {
			return "0"
		}
		return fmt.Sprint(v)
	case float64:
		if v == 0 {
			return "0"
		}
		return fmt.Sprint(v)
	case []byte:
		s := string(v)
		if s == "" || s == "0" {
			return "0"
		}
		return s
	case string:
		if v == "" || v == "0" {
			return "0"
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

// MatchPredicate builds a NULL-safe SQL WHERE fragment ("col1 IS ? AND
// col2 IS ? ...") for the given columns. SQLite's "IS" operator treats
// NULL as equal to NULL and otherwise behaves like "=", which is exactly
// spec §4.6 step 1's NULL-safe identity-rule matching.
func MatchPredicate(columns []string) string {
	clauses := make([]string, len(columns))
	for i, col := range columns {
		clauses[i] = fmt.Sprintf("%s IS ?", col)
	}
	return strings.Join(clauses, " AND ")
}
