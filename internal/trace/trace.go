// Package trace defines the structured event sequence a merge run emits
// in place of ad hoc per-row logging: one Event per Inserted, Duplicate,
// Remapped, or Orphan decision, consumed or discarded by the caller.
package trace

// Kind classifies what happened to a row during a merge pass.
type Kind int

const (
	// Inserted means the row was written to the target at its original id.
	Inserted Kind = iota
	// Duplicate means an existing target row already represents the same
	// entity; the row was skipped and mapped to that row's id.
	Duplicate
	// Remapped means the row was inserted under a different id than it
	// carried in its source, to avoid a primary-key collision.
	Remapped
	// Orphan means a foreign-key value on an inserted row does not (and,
	// after the run, still does not) resolve to a row in the target.
	Orphan
)

func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Remapped:
		return "remapped"
	case Orphan:
		return "orphan"
	default:
		return "unknown"
	}
}

// Event records one row-level merge decision.
type Event struct {
	Kind        Kind
	Table       string
	SourceIndex int
	OriginalID  int64
	FinalID     int64

	// FKColumn and FKValue are set only for Orphan events: the foreign
	// key column that did not resolve, and the value it held.
	FKColumn string
	FKValue  int64
}

// Emitter receives Events as a merge run produces them. Implementations
// must not block — the merge thread calls Emitter synchronously between
// (never inside) row-level work.
type Emitter func(Event)

// Discard is an Emitter that drops every event, for callers that only
// want the final Report.
func Discard(Event) {}

// Collector accumulates every Event it receives, for callers that want
// the full sequence after a run completes (e.g. tests).
type Collector struct {
	Events []Event
}

// Emit is a method value usable directly as an Emitter:
// c := &trace.Collector{}; location.Merge(..., c.Emit)
func (c *Collector) Emit(e Event) {
	c.Events = append(c.Events, e)
}

// CountByKind tallies how many collected events are of each Kind.
func (c *Collector) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, e := range c.Events {
		counts[e.Kind]++
	}
	return counts
}
