// Package media deduplicates the non-database archive entries (cover
// images, audio, video references) across source archives by content
// hash rather than by name.
package media

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/arlobrandt/shelfmerge/internal/archive"
	"github.com/arlobrandt/shelfmerge/internal/trace"
)

// Result is the outcome of merging one source's media entries into the
// running set: which entries were kept and which were dropped because
// their content (or their name, with differing content) was already seen.
type Result struct {
	Kept    []archive.Entry
	Dropped int
}

// Merger accumulates media entries across multiple sources, deduping by
// content hash, first writer wins on name collision.
type Merger struct {
	byHash map[string]bool
	byName map[string]string // name -> hash of the entry that claimed it
	kept   []archive.Entry
}

// New returns an empty Merger.
func New() *Merger {
	return &Merger{
		byHash: make(map[string]bool),
		byName: make(map[string]string),
	}
}

// Add processes one source's entries in archive order, keeping each entry
// whose content hash has not been seen before. If a different entry
// already claimed the same name, the new entry is dropped even though its
// content differs (spec §4.7's documented limitation), and an Orphan-shaped
// trace event records the loss.
func (m *Merger) Add(sourceIndex int, entries []archive.Entry, emit trace.Emitter) {
	for _, e := range entries {
		hash := ContentHash(e.Data)

		if m.byHash[hash] {
			continue
		}

		if claimedHash, ok := m.byName[e.Name]; ok && claimedHash != hash {
			emit(trace.Event{
				Kind:        trace.Orphan,
				Table:       "media:" + e.Name,
				SourceIndex: sourceIndex,
			})
			continue
		}

		m.byHash[hash] = true
		m.byName[e.Name] = hash
		m.kept = append(m.kept, e)
		emit(trace.Event{Kind: trace.Inserted, Table: "media:" + e.Name, SourceIndex: sourceIndex})
	}
}

// Entries returns every kept entry, in the order they were first kept.
func (m *Merger) Entries() []archive.Entry {
	return m.kept
}

// ContentHash returns the lowercase hex SHA-256 digest of data, the
// content-hash primitive spec §4.7 treats as an external collaborator.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
