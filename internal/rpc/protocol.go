// Package rpc exposes the engine over a thin HTTP JSON surface. The
// server owns the single-writer discipline: ingest, registration,
// unregistration, reset and snapshot restore take the write lock;
// snapshot saves and health checks share the read lock.
package rpc

import (
	"encoding/json"

	"github.com/steveyegge/spectre/internal/engine"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
)

// IngestRequest is one mutation: {table, op, id, record}. When the
// record carries an id field, the passed id remains authoritative; a
// mismatched record.id is stored as-is but never re-keys the row.
type IngestRequest struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Entry validates and converts the request into an engine batch entry.
// The record is normalized on the way in.
func (r IngestRequest) Entry() (store.BatchEntry, error) {
	op, ok := store.ParseOperation(r.Op)
	if !ok {
		return store.BatchEntry{}, &OpError{Op: r.Op}
	}
	record := value.Null
	if len(r.Record) > 0 {
		var v value.Value
		if err := json.Unmarshal(r.Record, &v); err != nil {
			return store.BatchEntry{}, err
		}
		record = engine.NormalizeRecord(v)
	}
	return store.BatchEntry{Table: r.Table, Op: op, ID: r.ID, Record: record}, nil
}

// OpError reports an unrecognized operation string.
type OpError struct {
	Op string
}

func (e *OpError) Error() string { return "invalid operation " + e.Op }

// IngestResponse returns the updates a mutation produced, plus how many
// batch entries were dropped for invalid operations.
type IngestResponse struct {
	Updates []update.ViewUpdate `json:"updates"`
	Dropped int                 `json:"dropped,omitempty"`
}

// RegisterResponse returns the optional first-run update.
type RegisterResponse struct {
	Initial *update.ViewUpdate `json:"initial,omitempty"`
}

// ErrorResponse is the uniform failure envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports liveness plus coarse engine shape.
type HealthResponse struct {
	Status string `json:"status"`
	Tables int    `json:"tables"`
	Views  int    `json:"views"`
}
