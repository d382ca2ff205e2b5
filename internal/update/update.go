// Package update formats view results for emission. A view computes raw
// membership and delta information; this package turns it into the wire
// shape selected at registration: a flat snapshot with a deterministic
// hash, a tree variant (currently mirroring flat), or a streaming list
// of per-record events.
package update

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// Format selects the emission strategy for a view.
type Format uint8

const (
	// FormatFlat emits the sorted full member list plus a hash of it.
	FormatFlat Format = iota
	// FormatTree reserves a Merkle-structured output; it currently
	// mirrors FormatFlat byte for byte, hash included.
	FormatTree
	// FormatStreaming emits only per-record change events.
	FormatStreaming
)

// ParseFormat parses a case-insensitive format name.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "flat":
		return FormatFlat, true
	case "tree":
		return FormatTree, true
	case "streaming":
		return FormatStreaming, true
	default:
		return 0, false
	}
}

// String returns the lowercase format name.
func (f Format) String() string {
	switch f {
	case FormatFlat:
		return "flat"
	case FormatTree:
		return "tree"
	case FormatStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the format as its lowercase name.
func (f Format) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON decodes a format name.
func (f *Format) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, ok := ParseFormat(s)
	if !ok {
		return fmt.Errorf("unknown view format %q", s)
	}
	*f = parsed
	return nil
}

// Event classifies one streaming record change.
type Event uint8

const (
	EventCreated Event = iota
	EventUpdated
	EventDeleted
)

// String returns the lowercase event name.
func (e Event) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the event as its lowercase name.
func (e Event) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

// UnmarshalJSON decodes an event name.
func (e *Event) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "created":
		*e = EventCreated
	case "updated":
		*e = EventUpdated
	case "deleted":
		*e = EventDeleted
	default:
		return fmt.Errorf("unknown delta event %s", data)
	}
	return nil
}

// DeltaRecord is one streaming change.
type DeltaRecord struct {
	ID    string `json:"id"`
	Event Event  `json:"event"`
}

// ViewDelta captures membership and content changes from one view
// evaluation, pre-categorized.
type ViewDelta struct {
	Additions []string
	Removals  []string
	Updates   []string
}

// IsEmpty reports whether the delta carries no changes.
func (d *ViewDelta) IsEmpty() bool {
	return d == nil || len(d.Additions)+len(d.Removals)+len(d.Updates) == 0
}

// RawResult is the format-agnostic output of a view evaluation.
// Records is the full member list for Flat/Tree and the changed-key list
// for Streaming. A nil Delta means "first snapshot": streaming marks
// every record as created.
type RawResult struct {
	QueryID string
	Records []string
	Delta   *ViewDelta
}

// ViewUpdate is the unified emission type for all formats. Flat/Tree
// populate ResultHash and ResultData; Streaming populates Records.
type ViewUpdate struct {
	Format     Format        `json:"format"`
	QueryID    string        `json:"query_id"`
	ResultHash string        `json:"result_hash,omitempty"`
	ResultData []string      `json:"result_data,omitempty"`
	Records    []DeltaRecord `json:"records,omitempty"`
}

// Hash returns the result hash for Flat/Tree updates; Streaming updates
// have none (check HasStreamingChanges instead).
func (u *ViewUpdate) Hash() (string, bool) {
	if u.Format == FormatStreaming {
		return "", false
	}
	return u.ResultHash, true
}

// HasStreamingChanges reports whether a streaming update carries at
// least one event. Non-streaming updates always count as changed.
func (u *ViewUpdate) HasStreamingChanges() bool {
	if u.Format != FormatStreaming {
		return true
	}
	return len(u.Records) > 0
}

// RecordCount returns the member count for Flat/Tree and the event
// count for Streaming.
func (u *ViewUpdate) RecordCount() int {
	if u.Format == FormatStreaming {
		return len(u.Records)
	}
	return len(u.ResultData)
}

// EmptyHash is the well-known hash of the empty member set.
const EmptyHash = "e3b0c44298fc1c14"

// FlatHash hashes a member list deterministically: ids are sorted, then
// BLAKE3-hashed with a NUL delimiter after each id so that
// concatenation ambiguity cannot alias distinct lists. The input slice
// is not modified.
func FlatHash(ids []string) string {
	if len(ids) == 0 {
		return EmptyHash
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	h := blake3.New(32, nil)
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build turns a raw result into the wire update for the given format.
func Build(raw RawResult, format Format) ViewUpdate {
	switch format {
	case FormatStreaming:
		var records []DeltaRecord
		if raw.Delta != nil {
			records = make([]DeltaRecord, 0, len(raw.Delta.Additions)+len(raw.Delta.Removals)+len(raw.Delta.Updates))
			for _, id := range raw.Delta.Additions {
				records = append(records, DeltaRecord{ID: id, Event: EventCreated})
			}
			for _, id := range raw.Delta.Removals {
				records = append(records, DeltaRecord{ID: id, Event: EventDeleted})
			}
			for _, id := range raw.Delta.Updates {
				records = append(records, DeltaRecord{ID: id, Event: EventUpdated})
			}
		} else {
			// First snapshot: everything is a creation.
			records = make([]DeltaRecord, 0, len(raw.Records))
			for _, id := range raw.Records {
				records = append(records, DeltaRecord{ID: id, Event: EventCreated})
			}
		}
		return ViewUpdate{Format: FormatStreaming, QueryID: raw.QueryID, Records: records}

	default: // Flat and Tree share shape and hash.
		return ViewUpdate{
			Format:     format,
			QueryID:    raw.QueryID,
			ResultHash: FlatHash(raw.Records),
			ResultData: raw.Records,
		}
	}
}

// EmptyFlat returns the canonical update for a view with no members,
// used as the default result for brand-new registrations over empty
// tables.
func EmptyFlat(queryID string) ViewUpdate {
	return ViewUpdate{
		Format:     FormatFlat,
		QueryID:    queryID,
		ResultHash: EmptyHash,
		ResultData: []string{},
	}
}
