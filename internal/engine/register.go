package engine

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/view"
)

// Registration is a validated view-registration request.
type Registration struct {
	Plan   operator.QueryPlan
	Params *value.Value
	Format update.Format

	// Caller-side metadata, carried through for the surrounding
	// system's bookkeeping; the engine does not interpret it.
	ClientID     string
	TTL          string
	LastActiveAt string
}

// registrationRequest is the wire shape of a registration payload.
// The plan arrives pre-parsed as an operator tree; translating a query
// string into a tree is the front end's job.
type registrationRequest struct {
	ID           string          `json:"id"`
	Plan         json.RawMessage `json:"plan"`
	SurrealQL    string          `json:"surrealQL"`
	Params       *value.Value    `json:"params,omitempty"`
	Format       string          `json:"format,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	TTL          string          `json:"ttl,omitempty"`
	LastActiveAt string          `json:"lastActiveAt,omitempty"`
}

// ParseRegistration validates a raw registration payload. Required
// keys: id and plan. Format defaults to flat; params default to empty.
func ParseRegistration(raw []byte) (Registration, error) {
	var req registrationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Registration{}, fmt.Errorf("parse registration: %w", err)
	}
	if req.ID == "" {
		return Registration{}, fmt.Errorf("registration: missing or invalid 'id'")
	}
	planJSON := req.Plan
	if len(planJSON) == 0 && req.SurrealQL != "" {
		// The query-language front end is external; when a query string
		// arrives here it must already be the serialized operator tree.
		planJSON = json.RawMessage(req.SurrealQL)
	}
	if len(planJSON) == 0 {
		return Registration{}, fmt.Errorf("registration %q: missing 'plan'", req.ID)
	}

	root, err := operator.DecodeOperator(planJSON)
	if err != nil {
		return Registration{}, fmt.Errorf("registration %q: invalid plan: %w", req.ID, err)
	}

	format := update.FormatFlat
	if req.Format != "" {
		f, ok := update.ParseFormat(req.Format)
		if !ok {
			return Registration{}, fmt.Errorf("registration %q: unknown format %q", req.ID, req.Format)
		}
		format = f
	}

	return Registration{
		Plan:         operator.QueryPlan{ID: req.ID, Root: root},
		Params:       req.Params,
		Format:       format,
		ClientID:     req.ClientID,
		TTL:          req.TTL,
		LastActiveAt: req.LastActiveAt,
	}, nil
}

// RegisterView installs (or replaces) a view and seeds its membership
// with a first-run evaluation. Returns the initial update, if the seed
// state produced one. A malformed plan never reaches this point: parse
// failures surface from ParseRegistration without mutating the engine.
func (c *Circuit) RegisterView(reg Registration) *update.ViewUpdate {
	if _, exists := c.ViewByID(reg.Plan.ID); exists {
		c.removeView(reg.Plan.ID)
	}

	v := view.New(reg.Plan, reg.Params, reg.Format)
	initial := v.ProcessBatch(store.NewBatchDeltas(), c.DB)

	idx := len(c.Views)
	c.Views = append(c.Views, v)
	for _, table := range v.ReferencedTables() {
		c.depGraph[table] = append(c.depGraph[table], idx)
	}

	log.Printf("engine: registered view %q (format=%s, tables=%v)",
		reg.Plan.ID, reg.Format, v.ReferencedTables())
	return initial
}

// UnregisterView removes a view by plan id. Returns false if no such
// view exists.
func (c *Circuit) UnregisterView(id string) bool {
	if _, exists := c.ViewByID(id); !exists {
		return false
	}
	c.removeView(id)
	log.Printf("engine: unregistered view %q", id)
	return true
}

func (c *Circuit) removeView(id string) {
	kept := c.Views[:0]
	for _, v := range c.Views {
		if v.ID() != id {
			kept = append(kept, v)
		}
	}
	c.Views = kept
	// Indices shifted: rebuild rather than patch.
	c.RebuildDependencyGraph()
}

// DefaultResult returns the canonical empty Flat update for a view id,
// used when a brand-new registration over empty tables produced no
// emission but the caller still needs a well-formed result.
func DefaultResult(id string) update.ViewUpdate {
	return update.EmptyFlat(id)
}
