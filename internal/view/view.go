// Package view implements the per-view state machine: the membership
// cache, change categorization, first-run semantics, and emission
// through the configured output format.
//
// Internally deltas use signed Z-set weights, but the view boundary
// collapses to set membership: after every cache mutation each surviving
// entry holds weight exactly 1. This keeps downstream edge maintenance
// one-edge-per-record even when joins produce multiplicities.
package view

import (
	"sort"

	"github.com/steveyegge/spectre/internal/eval"
	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/zset"
)

// View couples a registered query plan with its materialized
// membership. Exported fields participate in engine snapshots; the
// derived plan characteristics are recomputed on construction and after
// snapshot load via InitDerived.
type View struct {
	Plan     operator.QueryPlan `json:"plan"`
	Cache    zset.ZSet          `json:"cache"`
	LastHash string             `json:"last_hash"`
	HasRun   bool               `json:"has_run"`
	Params   *value.Value       `json:"params,omitempty"`
	Format   update.Format      `json:"format"`

	hasSubqueries    bool
	referencedTables []string
	isSimpleScan     bool
	isSimpleFilter   bool
}

// New constructs a view with an empty cache. The first evaluation (the
// "first run") seeds it.
func New(plan operator.QueryPlan, params *value.Value, format update.Format) *View {
	v := &View{
		Plan:   plan,
		Cache:  zset.New(),
		Params: params,
		Format: format,
	}
	v.InitDerived()
	return v
}

// InitDerived recomputes the cached plan characteristics. Must be
// called after deserializing a view from a snapshot: the flags are pure
// functions of the plan and are not encoded.
func (v *View) InitDerived() {
	v.hasSubqueries = operator.HasSubqueryProjections(v.Plan.Root)
	v.referencedTables = operator.ReferencedTables(v.Plan.Root)
	_, v.isSimpleScan = v.Plan.Root.(*operator.Scan)
	v.isSimpleFilter = false
	if f, ok := v.Plan.Root.(*operator.Filter); ok {
		_, v.isSimpleFilter = f.Input.(*operator.Scan)
	}
	if v.Cache == nil {
		v.Cache = zset.New()
	}
}

// ReferencedTables returns the tables this view's plan reads,
// subqueries included.
func (v *View) ReferencedTables() []string { return v.referencedTables }

// ID returns the view's plan id.
func (v *View) ID() string { return v.Plan.ID }

func (v *View) paramsContext() *eval.Context {
	if v.Params == nil {
		return nil
	}
	return &eval.Context{Value: *v.Params}
}

// subqueryContext binds the parent row for correlated subqueries,
// merged over the registered params.
func (v *View) subqueryContext(parent value.Value) *eval.Context {
	fields := map[string]value.Value{}
	if v.Params != nil {
		if obj, ok := v.Params.AsObject(); ok {
			for k, fv := range obj {
				fields[k] = fv
			}
		}
	}
	if obj, ok := parent.AsObject(); ok {
		for k, fv := range obj {
			fields[k] = fv
		}
	}
	return &eval.Context{Value: value.Object(fields)}
}

// ProcessDelta handles a single-record mutation. It returns nil when
// nothing observable changed.
func (v *View) ProcessDelta(delta store.Delta, db *store.Database) *update.ViewUpdate {
	if !v.references(delta.Table) {
		return nil
	}

	// Membership change (create or delete).
	if delta.Weight != 0 {
		if u, handled := v.tryFastSingle(delta, db); handled {
			return u
		}
		bd := store.NewBatchDeltas()
		bd.AddMembership(delta.Table, delta.Key, delta.Weight)
		if delta.ContentChanged {
			bd.MarkContentUpdate(delta.Table, delta.Key)
		}
		return v.ProcessBatch(bd, db)
	}

	// Content-only update.
	if delta.ContentChanged {
		return v.processContentUpdate(delta, db)
	}
	return nil
}

func (v *View) references(table string) bool {
	for _, t := range v.referencedTables {
		if t == table {
			return true
		}
	}
	return false
}

// processContentUpdate handles a weight-0 content rewrite via the
// was-in/matches-now matrix.
func (v *View) processContentUpdate(delta store.Delta, db *store.Database) *update.ViewUpdate {
	wasInView := v.Cache.IsMember(delta.Key)
	matchesNow := v.recordMatchesView(delta.Key, db)

	switch {
	case wasInView && matchesNow:
		return v.buildContentUpdate(delta.Key)

	case wasInView && !matchesNow:
		v.Cache.RemoveMember(delta.Key)
		raw := update.RawResult{
			QueryID: v.Plan.ID,
			Records: v.changedOrAll([]string{delta.Key}),
			Delta:   &update.ViewDelta{Removals: []string{delta.Key}},
		}
		return v.emit(update.Build(raw, v.Format), false)

	case !wasInView && matchesNow:
		// Entered the view through a content change: treat as addition.
		addition := delta
		addition.Weight = 1
		addition.ContentChanged = false
		return v.ProcessDelta(addition, db)

	default:
		return nil
	}
}

// recordMatchesView approximates "would key appear in the plan result"
// for the shapes the content-update path needs. Complex plans
// conservatively answer true and rely on the batch path.
func (v *View) recordMatchesView(key string, db *store.Database) bool {
	switch n := v.Plan.Root.(type) {
	case *operator.Scan:
		table, _, ok := zset.SplitKey(key)
		return ok && table == n.Table
	case *operator.Filter:
		scan, ok := n.Input.(*operator.Scan)
		if !ok {
			return true
		}
		table, _, keyOK := zset.SplitKey(key)
		if !keyOK || table != scan.Table {
			return false
		}
		return eval.CheckPredicate(n.Predicate, key, db, v.paramsContext())
	default:
		return true
	}
}

func (v *View) buildContentUpdate(key string) *update.ViewUpdate {
	raw := update.RawResult{
		QueryID: v.Plan.ID,
		Records: v.changedOrAll([]string{key}),
		Delta:   &update.ViewDelta{Updates: []string{key}},
	}
	// Streaming emits the updated event; Flat/Tree hash the unchanged
	// member set and are suppressed by last_hash equality.
	return v.emit(update.Build(raw, v.Format), false)
}

// tryFastSingle handles single-record membership changes for simple
// Scan and Filter(Scan) plans. The second return is false when the plan
// is too complex and the batch path must run.
func (v *View) tryFastSingle(delta store.Delta, db *store.Database) (*update.ViewUpdate, bool) {
	if !v.isSimpleScan && !v.isSimpleFilter {
		return nil, false
	}

	switch n := v.Plan.Root.(type) {
	case *operator.Scan:
		if n.Table != delta.Table {
			return nil, true
		}
		if delta.Weight > 0 {
			return v.applySingleUpsert(delta.Key), true
		}
		return v.applySingleDelete(delta.Key), true

	case *operator.Filter:
		scan, ok := n.Input.(*operator.Scan)
		if !ok {
			return nil, false
		}
		if scan.Table != delta.Table {
			return nil, true
		}
		if delta.Weight < 0 {
			// The row is already gone from the table, so the predicate
			// cannot be consulted; cache membership implies it passed
			// when it was added.
			return v.applySingleDelete(delta.Key), true
		}
		if !eval.CheckPredicate(n.Predicate, delta.Key, db, v.paramsContext()) {
			return nil, true
		}
		return v.applySingleUpsert(delta.Key), true

	default:
		return nil, false
	}
}

// applySingleUpsert adds key to the membership (normalized to weight 1).
// Re-adding an existing member emits a content update, not an addition.
func (v *View) applySingleUpsert(key string) *update.ViewUpdate {
	wasMember := v.Cache.IsMember(key)
	v.Cache.AddMember(key)

	delta := &update.ViewDelta{}
	if wasMember {
		delta.Updates = []string{key}
	} else {
		delta.Additions = []string{key}
	}
	return v.buildSingleUpdate(delta)
}

func (v *View) applySingleDelete(key string) *update.ViewUpdate {
	if !v.Cache.IsMember(key) {
		return nil
	}
	v.Cache.RemoveMember(key)
	return v.buildSingleUpdate(&update.ViewDelta{Removals: []string{key}})
}

func (v *View) buildSingleUpdate(delta *update.ViewDelta) *update.ViewUpdate {
	isFirstRun := !v.HasRun

	changed := make([]string, 0, len(delta.Additions)+len(delta.Removals)+len(delta.Updates))
	changed = append(changed, delta.Additions...)
	changed = append(changed, delta.Removals...)
	changed = append(changed, delta.Updates...)

	raw := update.RawResult{
		QueryID: v.Plan.ID,
		Records: v.changedOrAll(changed),
	}
	if !isFirstRun {
		raw.Delta = delta
	}
	return v.emit(update.Build(raw, v.Format), false)
}

// ProcessBatch drives the batch path: incremental delta evaluation with
// snapshot-diff fallback, categorization against the pre-mutation
// cache, cache application, and format-specific emission.
func (v *View) ProcessBatch(batch *store.BatchDeltas, db *store.Database) *update.ViewUpdate {
	isFirstRun := !v.HasRun

	viewDelta, incremental := v.computeViewDelta(batch, db, isFirstRun)
	if incremental {
		viewDelta = v.reconcileContentTransitions(batch, viewDelta, db)
	}
	updatedKeys := v.contentUpdatesInView(batch)

	if len(viewDelta) == 0 && !isFirstRun && len(updatedKeys) == 0 {
		return nil
	}

	// Categorize against the old cache state, then mutate it.
	additions, removals, updates := v.categorizeChanges(viewDelta, updatedKeys)
	v.Cache.ApplyMembership(viewDelta)

	changed := make([]string, 0, len(additions)+len(removals)+len(updates))
	changed = append(changed, additions...)
	changed = append(changed, removals...)
	changed = append(changed, updates...)

	raw := update.RawResult{
		QueryID: v.Plan.ID,
		Records: v.changedOrAll(changed),
	}
	if isFirstRun {
		// Even the first run carries an explicit delta so the caller can
		// create edges for the seed contents.
		raw.Delta = &update.ViewDelta{Additions: additions}
	} else {
		raw.Delta = &update.ViewDelta{Additions: additions, Removals: removals, Updates: updates}
	}

	return v.emit(update.Build(raw, v.Format), isFirstRun)
}

// emit applies format-specific suppression, records the hash, and marks
// the view as run. isFirstRun bypasses hash suppression so the seed
// emission survives even when it hashes equal to a stored value.
func (v *View) emit(u update.ViewUpdate, isFirstRun bool) *update.ViewUpdate {
	if v.Format == update.FormatStreaming {
		if !u.HasStreamingChanges() {
			return nil
		}
		v.HasRun = true
		recordEmission()
		return &u
	}

	hash, _ := u.Hash()
	if hash == v.LastHash && !isFirstRun {
		return nil
	}
	v.HasRun = true
	v.LastHash = hash
	recordEmission()
	return &u
}

// changedOrAll returns the changed keys for Streaming (payload stays
// O(changes)) and the full sorted member list for Flat/Tree (required
// for hash computation).
func (v *View) changedOrAll(changed []string) []string {
	if v.Format == update.FormatStreaming {
		return changed
	}
	members := v.Cache.Keys()
	sort.Strings(members)
	return members
}

// computeViewDelta produces the membership delta for this evaluation:
// the full snapshot diff on first runs, incremental evaluation when the
// plan shape allows, snapshot diff otherwise. The second return reports
// whether the incremental path was taken.
func (v *View) computeViewDelta(batch *store.BatchDeltas, db *store.Database, isFirstRun bool) (zset.ZSet, bool) {
	if !isFirstRun {
		if delta, ok := eval.DeltaBatch(v.Plan.Root, batch.Membership, db, v.paramsContext()); ok {
			return delta, true
		}
		recordSnapshotFallback()
	}
	return v.computeFullDiff(db), false
}

// reconcileContentTransitions extends an incrementally computed delta
// with membership transitions caused by content rewrites: an update can
// flip a row in or out of a filtered view without any membership weight
// in the table delta. Only the simple Scan / Filter(Scan) shapes can be
// answered precisely here; everything else either took the snapshot
// path already or cannot change membership on content alone.
func (v *View) reconcileContentTransitions(batch *store.BatchDeltas, viewDelta zset.ZSet, db *store.Database) zset.ZSet {
	if !v.isSimpleScan && !v.isSimpleFilter {
		return viewDelta
	}

	var extended zset.ZSet
	for table, keys := range batch.ContentUpdates {
		if !v.references(table) {
			continue
		}
		for key := range keys {
			if _, covered := viewDelta[key]; covered {
				continue
			}
			wasIn := v.Cache.IsMember(key)
			matches := v.recordMatchesView(key, db)
			if wasIn == matches {
				continue
			}
			if extended == nil {
				// The incremental delta may alias batch state; copy
				// before extending.
				extended = viewDelta.Clone()
			}
			if matches {
				extended[key] = 1
			} else {
				extended[key] = -1
			}
		}
	}
	if extended != nil {
		return extended
	}
	return viewDelta
}

// computeFullDiff evaluates the plan from scratch, expands subqueries,
// and diffs the target membership against the cache.
func (v *View) computeFullDiff(db *store.Database) zset.ZSet {
	target := zset.New()
	for key, weight := range eval.Snapshot(v.Plan.Root, db, v.paramsContext()) {
		target[key] = weight
	}
	v.expandWithSubqueries(target, db)
	return v.Cache.MembershipDiff(target)
}

// expandWithSubqueries inserts every key produced by the plan's
// subquery projections into the target set, normalized to membership.
// Subquery results become view members: they are the edges the caller
// maintains in external storage.
func (v *View) expandWithSubqueries(target zset.ZSet, db *store.Database) {
	if !v.hasSubqueries {
		return
	}

	additions := zset.New()
	for key, weight := range target {
		if weight <= 0 {
			continue
		}
		parent, ok := db.RowValue(key)
		if !ok {
			continue
		}
		v.evaluateSubqueriesForParent(v.Plan.Root, parent, db, additions)
	}

	additions.Normalize()
	for key := range additions {
		target.AddMember(key)
	}
}

// evaluateSubqueriesForParent walks the plan for Subquery projections
// and evaluates each with the parent row as context, recursing into
// nested subqueries via the shared accumulator.
func (v *View) evaluateSubqueriesForParent(op operator.Operator, parent value.Value, db *store.Database, results zset.ZSet) {
	switch n := op.(type) {
	case *operator.Project:
		v.evaluateSubqueriesForParent(n.Input, parent, db, results)
		for _, proj := range n.Projections {
			sq, ok := proj.(*operator.Subquery)
			if !ok {
				continue
			}
			sub := eval.Snapshot(sq.Plan, db, v.subqueryContext(parent))
			for key, weight := range sub {
				results[key] += weight
				if child, ok := db.RowValue(key); ok {
					v.evaluateSubqueriesForParent(sq.Plan, child, db, results)
				}
			}
		}
	case *operator.Filter:
		v.evaluateSubqueriesForParent(n.Input, parent, db, results)
	case *operator.Limit:
		v.evaluateSubqueriesForParent(n.Input, parent, db, results)
	case *operator.Join:
		v.evaluateSubqueriesForParent(n.Left, parent, db, results)
		v.evaluateSubqueriesForParent(n.Right, parent, db, results)
	case *operator.Scan:
	}
}

// categorizeChanges splits a view delta into additions, removals and
// content updates based on membership transitions against the
// pre-mutation cache. Keys whose weight moves within membership (1→1)
// are ignored membership-wise.
func (v *View) categorizeChanges(viewDelta zset.ZSet, updatedKeys []string) (additions, removals, updates []string) {
	for key, dw := range viewDelta {
		isMember := v.Cache.IsMember(key)
		willBeMember := v.Cache[key]+dw > 0
		switch {
		case !isMember && willBeMember:
			additions = append(additions, key)
		case isMember && !willBeMember:
			removals = append(removals, key)
		}
	}
	sort.Strings(additions)
	sort.Strings(removals)

	leaving := make(map[string]struct{}, len(removals))
	for _, key := range removals {
		leaving[key] = struct{}{}
	}
	for _, key := range updatedKeys {
		if _, gone := leaving[key]; gone {
			continue
		}
		if v.Cache.IsMember(key) {
			updates = append(updates, key)
		}
	}
	sort.Strings(updates)
	return additions, removals, updates
}

// contentUpdatesInView filters the batch's content-update keys down to
// current members of this view.
func (v *View) contentUpdatesInView(batch *store.BatchDeltas) []string {
	var updates []string
	for _, keys := range batch.ContentUpdates {
		for key := range keys {
			if _, ok := v.Cache[key]; ok {
				updates = append(updates, key)
			}
		}
	}
	return updates
}
