package engine

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/view"
	"github.com/steveyegge/spectre/internal/zset"
)

// snapshotState is the persisted circuit shape. Derived state (the
// dependency graph and per-view plan flags) is intentionally absent:
// the loader rebuilds it before the first ingest.
type snapshotState struct {
	DB    *store.Database `json:"db"`
	Views []*view.View    `json:"views"`
}

// SaveState encodes the full engine state: all table rows and Z-sets
// plus every view's plan, cache, last hash, run flag, params and
// format.
func (c *Circuit) SaveState() ([]byte, error) {
	state := snapshotState{DB: c.DB, Views: c.Views}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return data, nil
}

// LoadState decodes a snapshot produced by SaveState into a fresh
// circuit, rebuilding all derived state. On decode failure it returns
// an empty circuit alongside the error; the caller decides whether that
// is fatal.
func LoadState(data []byte) (*Circuit, error) {
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return New(), fmt.Errorf("load state: %w", err)
	}

	c := New()
	if state.DB != nil {
		if state.DB.Tables == nil {
			state.DB.Tables = map[string]*store.Table{}
		}
		for name, tb := range state.DB.Tables {
			if tb.Rows == nil {
				tb.Rows = map[string]value.Value{}
			}
			if tb.ZSet == nil {
				tb.ZSet = zset.New()
			}
			if tb.Name == "" {
				tb.Name = name
			}
		}
		c.DB = state.DB
	}
	c.Views = state.Views
	for _, v := range c.Views {
		v.InitDerived()
	}
	c.RebuildDependencyGraph()
	return c, nil
}
