// Package spectre provides a minimal public API for embedding the
// incremental materialized view engine in another Go program.
//
// Most integrations should run the daemon from cmd/spectre and speak
// its HTTP surface. This package exports only the essential types and
// constructors for programs that want the engine in-process: they own
// the single-writer discipline themselves.
package spectre

import (
	"github.com/steveyegge/spectre/internal/engine"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
)

// Version is the spectre release version.
const Version = "0.3.1"

// Core engine types.
type (
	Engine       = engine.Circuit
	Registration = engine.Registration
	Entry        = store.BatchEntry
	Operation    = store.Operation
	Value        = value.Value
	ViewUpdate   = update.ViewUpdate
	Format       = update.Format
)

// Operation constants.
const (
	OpCreate = store.OpCreate
	OpUpdate = store.OpUpdate
	OpDelete = store.OpDelete
)

// Output format constants.
const (
	FormatFlat      = update.FormatFlat
	FormatTree      = update.FormatTree
	FormatStreaming = update.FormatStreaming
)

// New returns an empty engine.
func New() *Engine {
	return engine.New()
}

// LoadState restores an engine from a snapshot produced by
// Engine.SaveState. On failure the returned engine is empty and the
// error says why; the caller decides whether that is fatal.
func LoadState(data []byte) (*Engine, error) {
	return engine.LoadState(data)
}

// ParseRegistration validates a raw view-registration payload.
func ParseRegistration(raw []byte) (Registration, error) {
	return engine.ParseRegistration(raw)
}

// FromJSON converts a decoded-JSON Go value into an engine Value.
func FromJSON(raw any) Value {
	return value.FromAny(raw)
}
