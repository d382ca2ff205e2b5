// Package engine assembles the incremental view maintenance core: the
// database of base tables, the registered views, and the table-to-view
// dependency index that routes ingested changes to exactly the views
// that can observe them.
//
// The engine itself is single-logical-writer and performs no I/O; the
// surrounding server serializes writers and may admit concurrent
// readers for snapshotting.
package engine

import (
	"log"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/view"
	"github.com/steveyegge/spectre/internal/zset"
)

// Circuit owns the database and all views. Tables and views are never
// shared across circuits. The dependency graph is derived state:
// reconstructable from the plans alone, rebuilt lazily when found empty
// while views exist.
type Circuit struct {
	DB    *store.Database
	Views []*view.View

	depGraph map[string][]int
}

// New returns an empty circuit.
func New() *Circuit {
	return &Circuit{
		DB:       store.NewDatabase(),
		depGraph: map[string][]int{},
	}
}

// IngestSingle applies one mutation and propagates it to the impacted
// views. This is the low-latency path: simple plans take the
// single-record fast path inside the view.
func (c *Circuit) IngestSingle(entry store.BatchEntry) []update.ViewUpdate {
	start := time.Now()
	key := entry.Key()

	tb := c.DB.EnsureTable(entry.Table)
	_, weight := tb.ApplyMutation(entry.Op, key, entry.Record)
	if weight != 0 {
		tb.ApplyDelta(zset.ZSet{key: weight})
	}

	c.ensureDependencyGraph()

	delta := store.DeltaFromOperation(entry.Table, key, entry.Op)
	var updates []update.ViewUpdate
	for _, idx := range c.depGraph[entry.Table] {
		if u := c.Views[idx].ProcessDelta(delta, c.DB); u != nil {
			updates = append(updates, *u)
		}
	}

	recordIngest(1, len(updates), time.Since(start))
	return updates
}

// IngestBatch applies an ordered list of mutations and evaluates each
// impacted view exactly once against the composed per-table deltas.
// Entries against the same key apply in list order; the views observe
// the net effect. Disjoint tables are mutated in parallel, as is the
// view evaluation pass: views share read-only access to the database
// and own their mutable state.
func (c *Circuit) IngestBatch(entries []store.BatchEntry) []update.ViewUpdate {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()

	// Group by table, preserving per-table entry order.
	byTable := map[string][]store.BatchEntry{}
	var tables []string
	for _, e := range entries {
		if _, ok := byTable[e.Table]; !ok {
			tables = append(tables, e.Table)
		}
		byTable[e.Table] = append(byTable[e.Table], e)
	}

	// Materialize tables serially, then let each table's owner apply
	// its entries; owners touch disjoint tables only.
	for _, name := range tables {
		c.DB.EnsureTable(name)
	}

	batch := store.NewBatchDeltas()
	type tableResult struct {
		name    string
		delta   zset.ZSet
		content map[string]struct{}
	}
	results := make([]tableResult, len(tables))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range tables {
		g.Go(func() error {
			tb := c.DB.Tables[name]
			delta := zset.New()
			content := map[string]struct{}{}
			for _, e := range byTable[name] {
				key := e.Key()
				_, weight := tb.ApplyMutation(e.Op, key, e.Record)
				delta[key] += weight
				if e.Op.ChangesContent() {
					content[key] = struct{}{}
				}
			}
			for key, w := range delta {
				if w == 0 {
					delete(delta, key)
				}
			}
			results[i] = tableResult{name: name, delta: delta, content: content}
			return nil
		})
	}
	_ = g.Wait() // owners never fail; operations are total

	var changedTables []string
	for _, r := range results {
		if len(r.delta) > 0 {
			c.DB.Tables[r.name].ApplyDelta(r.delta)
			batch.Membership[r.name] = r.delta
			changedTables = append(changedTables, r.name)
		}
		if len(r.content) > 0 {
			batch.ContentUpdates[r.name] = r.content
			if len(r.delta) == 0 {
				changedTables = append(changedTables, r.name)
			}
		}
	}
	if len(changedTables) == 0 {
		recordIngest(len(entries), 0, time.Since(start))
		return nil
	}

	c.ensureDependencyGraph()

	// Union of impacted views over all changed tables, deduplicated so
	// each view runs exactly once.
	var impacted []int
	for _, table := range changedTables {
		impacted = append(impacted, c.depGraph[table]...)
	}
	sort.Ints(impacted)
	impacted = dedupInts(impacted)

	// Evaluate impacted views in parallel. The database is frozen for
	// the emission phase; each view mutates only its own state.
	slots := make([]*update.ViewUpdate, len(impacted))
	var vg errgroup.Group
	vg.SetLimit(runtime.GOMAXPROCS(0))
	for i, idx := range impacted {
		vg.Go(func() error {
			slots[i] = c.Views[idx].ProcessBatch(batch, c.DB)
			return nil
		})
	}
	_ = vg.Wait()

	var updates []update.ViewUpdate
	for _, u := range slots {
		if u != nil {
			updates = append(updates, *u)
		}
	}

	recordIngest(len(entries), len(updates), time.Since(start))
	return updates
}

func dedupInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Reset drops all tables and views.
func (c *Circuit) Reset() {
	c.DB = store.NewDatabase()
	c.Views = nil
	c.depGraph = map[string][]int{}
}

// ViewByID returns the registered view with the given plan id.
func (c *Circuit) ViewByID(id string) (*view.View, bool) {
	for _, v := range c.Views {
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}

// RebuildDependencyGraph recomputes the table-to-view index from
// scratch: every table referenced by a view's plan (subquery plans
// included) maps to that view's index.
func (c *Circuit) RebuildDependencyGraph() {
	c.depGraph = map[string][]int{}
	for i, v := range c.Views {
		for _, table := range v.ReferencedTables() {
			c.depGraph[table] = append(c.depGraph[table], i)
		}
	}
}

// ensureDependencyGraph lazily rebuilds the derived index when it is empty
// while views exist. LoadState already rebuilds it eagerly, so this covers
// a circuit whose Views were populated by other means.
func (c *Circuit) ensureDependencyGraph() {
	if len(c.depGraph) == 0 && len(c.Views) > 0 {
		c.RebuildDependencyGraph()
		log.Printf("engine: dependency graph rebuilt for %d views", len(c.Views))
	}
}
