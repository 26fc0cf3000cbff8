// Package schema declares the static shape of the backup database: tables,
// primary keys, semantic-identity rules, foreign keys, and merge order.
// Nothing here touches SQL directly — it is read by the mergers to decide
// what to compare and what to rewrite.
package schema

// ForeignKey is a (column, referenced table) pair.
type ForeignKey struct {
	Column     string
	RefTable   string
	RefColumn  string // defaults to the referenced table's PKColumn when empty
}

// IDStrategy controls how a table's primary-key collisions are resolved
// once a row is known not to be a duplicate.
type IDStrategy int

const (
	// StrategyProbe keeps the original id when it is free in the target;
	// otherwise it takes the first free id from a running counter seeded
	// at max(pk)+1 when the table's merge begins. Used for GUID/composite
	// identity tables per spec §4.6 step 2.
	StrategyProbe IDStrategy = iota
	// StrategyOffset applies a per-source running offset to monotonic
	// surrogate ids. Used for "simple id" tables per spec §4.6 step 2.
	StrategyOffset
	// StrategyNone means the table carries no independent surrogate key
	// the engine manages (bookkeeping tables merged by content alone).
	StrategyNone
)

// TableSpec is the complete merge policy for one table.
type TableSpec struct {
	Name string

	// PKColumn is the integer primary-key column, or "" for tables with
	// no engine-managed surrogate key (LastModified, MigrationHistory).
	PKColumn string

	// IdentityRules lists alternative unique constraints, evaluated in
	// order; the first rule whose columns match an existing row wins.
	// Column values are compared NULL-safe (NULL equals NULL).
	IdentityRules [][]string

	ForeignKeys []ForeignKey

	Strategy IDStrategy

	// RewriteFKBeforeIdentity means foreign keys must be remapped through
	// the registry before identity rules are evaluated, because the
	// identity columns themselves are foreign keys (Bookmark).
	RewriteFKBeforeIdentity bool
}

// MepsLanguageColumn is the column name that requires null-or-zero
// normalization wherever it appears in an identity rule.
const MepsLanguageColumn = "MepsLanguage"

// DependencyOrder is the canonical topological order from spec §3.3.
// Tables not listed here are merged afterward using Generic().
var DependencyOrder = []string{
	"LastModified", "MigrationHistory", "Accuracy",
	"Location", "Tag", "Media",
	"Mark", "Item", "Bookmark",
	"Note", "BlockRange", "ItemMarker", "ItemLocationMap", "ItemMediaMap",
	"TagMap", "MarkerBibleVerseMap", "MarkerParagraphMap",
	"InputField",
}

// AlwaysMerged names the infrastructural tables merged regardless of the
// data-type configuration mask (spec §6.4).
var AlwaysMerged = map[string]bool{
	"Location":         true,
	"LastModified":      true,
	"MigrationHistory":  true,
}

var catalogue = map[string]TableSpec{
	"LastModified": {
		Name:          "LastModified",
		IdentityRules: [][]string{{"LastModified"}},
		Strategy:      StrategyNone,
	},
	"MigrationHistory": {
		Name:          "MigrationHistory",
		IdentityRules: [][]string{{"DatabaseVersion"}},
		Strategy:      StrategyNone,
	},
	"Accuracy": {
		Name:          "Accuracy",
		PKColumn:      "AccuracyId",
		IdentityRules: [][]string{{"Description"}},
		Strategy:      StrategyProbe,
	},
	"Location": {
		Name:     "Location",
		PKColumn: "LocationId",
		// Location's identity is content-dependent (spec §4.5) and is
		// resolved by the dedicated location merger, not by this rule
		// list. Both alternative column sets are recorded for reference.
		IdentityRules: [][]string{
			{"BookNumber", "ChapterNumber", "KeySymbol", MepsLanguageColumn, "Type"},
			{"KeySymbol", "IssueTagNumber", MepsLanguageColumn, "DocumentId", "Track", "Type"},
		},
		Strategy: StrategyProbe,
	},
	"Tag": {
		Name:          "Tag",
		PKColumn:      "TagId",
		IdentityRules: [][]string{{"Type", "Name"}},
		Strategy:      StrategyProbe,
	},
	"Media": {
		Name:          "Media",
		PKColumn:      "MediaId",
		IdentityRules: [][]string{{"FilePath"}},
		Strategy:      StrategyProbe,
	},
	"Mark": {
		Name:          "Mark",
		PKColumn:      "MarkId",
		IdentityRules: [][]string{{"MarkGuid"}},
		ForeignKeys:   []ForeignKey{{Column: "LocationId", RefTable: "Location"}},
		Strategy:      StrategyProbe,
	},
	"Item": {
		Name:          "Item",
		PKColumn:      "ItemId",
		IdentityRules: [][]string{{"Label", "ThumbnailFilePath"}},
		ForeignKeys: []ForeignKey{
			{Column: "AccuracyId", RefTable: "Accuracy"},
			{Column: "MediaId", RefTable: "Media"},
		},
		Strategy: StrategyProbe,
	},
	"Bookmark": {
		Name:          "Bookmark",
		PKColumn:      "BookmarkId",
		IdentityRules: [][]string{{"LocationId", "PublicationLocationId"}},
		ForeignKeys: []ForeignKey{
			{Column: "LocationId", RefTable: "Location"},
			{Column: "PublicationLocationId", RefTable: "Location"},
		},
		Strategy:                StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"Note": {
		Name:          "Note",
		PKColumn:      "NoteId",
		IdentityRules: [][]string{{"Guid"}},
		ForeignKeys: []ForeignKey{
			{Column: "MarkId", RefTable: "Mark"},
			{Column: "LocationId", RefTable: "Location"},
		},
		Strategy: StrategyProbe,
	},
	"BlockRange": {
		Name:          "BlockRange",
		PKColumn:      "BlockRangeId",
		IdentityRules: [][]string{{"MarkId", "Identifier", "StartToken", "EndToken"}},
		ForeignKeys:   []ForeignKey{{Column: "MarkId", RefTable: "Mark"}},
		Strategy:      StrategyOffset,
		// MarkId is part of the identity rule itself, so it must be
		// rewritten to the target's Mark id before duplicates are checked,
		// the same reason Bookmark sets this.
		RewriteFKBeforeIdentity: true,
	},
	"ItemMarker": {
		Name:          "ItemMarker",
		PKColumn:      "MarkerId",
		IdentityRules: [][]string{{"ItemId", "StartTimeTicks"}},
		ForeignKeys:   []ForeignKey{{Column: "ItemId", RefTable: "Item"}},
		Strategy:      StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"ItemLocationMap": {
		Name:          "ItemLocationMap",
		PKColumn:      "ItemLocationMapId",
		IdentityRules: [][]string{{"ItemId", "LocationId"}},
		ForeignKeys: []ForeignKey{
			{Column: "ItemId", RefTable: "Item"},
			{Column: "LocationId", RefTable: "Location"},
		},
		Strategy:                StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"ItemMediaMap": {
		Name:          "ItemMediaMap",
		PKColumn:      "ItemMediaMapId",
		IdentityRules: [][]string{{"ItemId", "MediaId"}},
		ForeignKeys: []ForeignKey{
			{Column: "ItemId", RefTable: "Item"},
			{Column: "MediaId", RefTable: "Media"},
		},
		Strategy:                StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"TagMap": {
		Name:     "TagMap",
		PKColumn: "TagMapId",
		IdentityRules: [][]string{
			{"TagId", "Position"},
			{"TagId", "LocationId"},
			{"TagId", "NoteId"},
		},
		ForeignKeys: []ForeignKey{
			{Column: "TagId", RefTable: "Tag"},
			{Column: "ItemId", RefTable: "Item"},
			{Column: "LocationId", RefTable: "Location"},
			{Column: "NoteId", RefTable: "Note"},
		},
		Strategy:                StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"MarkerBibleVerseMap": {
		Name:          "MarkerBibleVerseMap",
		PKColumn:      "MarkerBibleVerseMapId",
		IdentityRules: [][]string{{"MarkerId", "VerseId"}},
		ForeignKeys:   []ForeignKey{{Column: "MarkerId", RefTable: "ItemMarker"}},
		Strategy:      StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"MarkerParagraphMap": {
		Name:          "MarkerParagraphMap",
		PKColumn:      "MarkerParagraphMapId",
		IdentityRules: [][]string{{"MarkerId", "ParagraphIndex"}},
		ForeignKeys:   []ForeignKey{{Column: "MarkerId", RefTable: "ItemMarker"}},
		Strategy:      StrategyProbe,
		RewriteFKBeforeIdentity: true,
	},
	"InputField": {
		Name:          "InputField",
		PKColumn:      "InputFieldId",
		IdentityRules: [][]string{{"LocationId", "TextTag", "Value"}},
		ForeignKeys:   []ForeignKey{{Column: "LocationId", RefTable: "Location"}},
		Strategy:      StrategyOffset,
		RewriteFKBeforeIdentity: true,
	},
}

// Lookup returns the declared spec for table, or a generic content-identity
// fallback when the table is unknown (spec §3.3's last sentence).
func Lookup(table string) TableSpec {
	if spec, ok := catalogue[table]; ok {
		return spec
	}
	return Generic(table, "")
}

// Generic builds a fallback policy for a table absent from the catalogue:
// content identity over all non-pk columns, no foreign keys, offset-based
// id allocation. pkColumn may be "" if the caller does not know it yet;
// rowmerge resolves it via introspection before use.
func Generic(table, pkColumn string) TableSpec {
	return TableSpec{
		Name:     table,
		PKColumn: pkColumn,
		Strategy: StrategyOffset,
		// IdentityRules is intentionally empty: the generic fallback's
		// single rule is "all non-pk columns", built by rowmerge from
		// live column introspection rather than a fixed list here.
	}
}

// IsKnown reports whether table has a declared (non-generic) spec.
func IsKnown(table string) bool {
	_, ok := catalogue[table]
	return ok
}

// TablesInOrder returns DependencyOrder followed by any extra known
// catalogue tables not already listed, for callers that want every
// declared table even if DependencyOrder was trimmed.
func TablesInOrder() []string {
	seen := make(map[string]bool, len(DependencyOrder))
	order := make([]string, 0, len(catalogue))
	for _, name := range DependencyOrder {
		order = append(order, name)
		seen[name] = true
	}
	for name := range catalogue {
		if !seen[name] {
			order = append(order, name)
		}
	}
	return order
}
