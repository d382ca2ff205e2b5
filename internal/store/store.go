// Package store holds the engine's in-memory base state: tables of rows
// plus their base Z-sets, and the mutation/delta types flowing through
// ingestion.
package store

import (
	"strings"

	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/zset"
)

// Operation is one of the three base mutations.
type Operation uint8

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

// ParseOperation parses a case-insensitive operation name.
func ParseOperation(s string) (Operation, bool) {
	switch strings.ToLower(s) {
	case "create":
		return OpCreate, true
	case "update":
		return OpUpdate, true
	case "delete":
		return OpDelete, true
	default:
		return 0, false
	}
}

// String returns the lowercase operation name.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Weight returns the membership weight delta carried by the operation:
// +1 for Create, 0 for Update (content-only), -1 for Delete.
func (o Operation) Weight() int64 {
	switch o {
	case OpCreate:
		return 1
	case OpDelete:
		return -1
	default:
		return 0
	}
}

// ChangesContent reports whether the operation rewrites row content.
func (o Operation) ChangesContent() bool { return o == OpCreate || o == OpUpdate }

// ChangesMembership reports whether the operation changes set membership.
func (o Operation) ChangesMembership() bool { return o == OpCreate || o == OpDelete }

// IsAdditive reports whether the operation carries a row payload.
func (o Operation) IsAdditive() bool { return o == OpCreate || o == OpUpdate }

// Table is one base table: the row contents plus the base Z-set.
// Invariants: every key in Rows appears in ZSet with positive weight;
// deletes remove from both; zero weights are purged on delta
// application.
type Table struct {
	Name string                 `json:"name"`
	Rows map[string]value.Value `json:"rows"`
	ZSet zset.ZSet              `json:"zset"`
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{
		Name: name,
		Rows: map[string]value.Value{},
		ZSet: zset.New(),
	}
}

// UpsertRow stores (or replaces) row content under key. Membership in
// the Z-set is maintained separately via ApplyDelta.
func (t *Table) UpsertRow(key string, data value.Value) {
	t.Rows[key] = data
}

// DeleteRow removes row content under key.
func (t *Table) DeleteRow(key string) {
	delete(t.Rows, key)
}

// ApplyDelta folds a signed delta into the base Z-set, purging zeros.
func (t *Table) ApplyDelta(delta zset.ZSet) {
	t.ZSet.Apply(delta)
}

// ApplyMutation applies one mutation and returns the Z-set key plus the
// weight delta it contributes. Operations are total: they cannot fail.
func (t *Table) ApplyMutation(op Operation, key string, data value.Value) (string, int64) {
	if op.IsAdditive() {
		t.UpsertRow(key, data)
	} else {
		t.DeleteRow(key)
	}
	return key, op.Weight()
}

// Database is the name-keyed collection of tables. Tables come into
// existence on first reference.
type Database struct {
	Tables map[string]*Table `json:"tables"`
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{Tables: map[string]*Table{}}
}

// EnsureTable returns the named table, creating it if needed.
func (db *Database) EnsureTable(name string) *Table {
	t, ok := db.Tables[name]
	if !ok {
		t = NewTable(name)
		db.Tables[name] = t
	}
	return t
}

// Table returns the named table if it exists.
func (db *Database) Table(name string) (*Table, bool) {
	t, ok := db.Tables[name]
	return t, ok
}

// RowValue resolves a Z-set key to its row content. Keys are stored
// fully qualified ("table:id"), but rows written by older snapshots may
// be keyed by the bare id, so the lookup tries both.
func (db *Database) RowValue(key string) (value.Value, bool) {
	table, id, ok := zset.SplitKey(key)
	if !ok {
		return value.Null, false
	}
	t, ok := db.Tables[table]
	if !ok {
		return value.Null, false
	}
	if row, ok := t.Rows[key]; ok {
		return row, true
	}
	if row, ok := t.Rows[id]; ok {
		return row, true
	}
	return value.Null, false
}

// BatchEntry is one pre-parsed ingestion mutation.
type BatchEntry struct {
	Table  string
	Op     Operation
	ID     string
	Record value.Value
}

// Key returns the fully qualified row key for the entry.
func (e BatchEntry) Key() string { return zset.Key(e.Table, e.ID) }

// Delta describes a single-record change flowing to a view: a signed
// membership weight plus a content-changed flag. Updates carry weight 0
// with ContentChanged set.
type Delta struct {
	Table          string
	Key            string
	Weight         int64
	ContentChanged bool
}

// DeltaFromOperation builds the Delta for one mutation.
func DeltaFromOperation(table, key string, op Operation) Delta {
	return Delta{
		Table:          table,
		Key:            key,
		Weight:         op.Weight(),
		ContentChanged: op.ChangesContent(),
	}
}

// BatchDeltas aggregates the effects of one ingestion batch:
// per-table membership deltas plus the set of keys whose content was
// rewritten.
type BatchDeltas struct {
	Membership     map[string]zset.ZSet
	ContentUpdates map[string]map[string]struct{}
}

// NewBatchDeltas returns an empty aggregate.
func NewBatchDeltas() *BatchDeltas {
	return &BatchDeltas{
		Membership:     map[string]zset.ZSet{},
		ContentUpdates: map[string]map[string]struct{}{},
	}
}

// AddMembership accumulates a membership weight for key in table.
func (b *BatchDeltas) AddMembership(table, key string, weight int64) {
	z, ok := b.Membership[table]
	if !ok {
		z = zset.New()
		b.Membership[table] = z
	}
	z[key] += weight
}

// MarkContentUpdate records that key's content was rewritten.
func (b *BatchDeltas) MarkContentUpdate(table, key string) {
	keys, ok := b.ContentUpdates[table]
	if !ok {
		keys = map[string]struct{}{}
		b.ContentUpdates[table] = keys
	}
	keys[key] = struct{}{}
}
