package eval

import (
	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/zset"
)

// DeltaBatch attempts pure incremental evaluation of op against a batch
// of per-table membership deltas. The second return is false when the
// operator shape has no sound per-delta update (Join, Limit, or any
// Project carrying subqueries), signalling the caller to fall back to a
// full snapshot diff. The returned set may alias an entry of deltas;
// callers must treat it as read-only.
func DeltaBatch(op operator.Operator, deltas map[string]zset.ZSet, db *store.Database, ctx *Context) (zset.ZSet, bool) {
	switch n := op.(type) {
	case *operator.Scan:
		if d, ok := deltas[n.Table]; ok {
			return d, true
		}
		return zset.New(), true

	case *operator.Filter:
		upstream, ok := DeltaBatch(n.Input, deltas, db, ctx)
		if !ok {
			return nil, false
		}
		if f, ok := numericFilterFromPredicate(n.Predicate); ok {
			return applyNumericFilter(upstream, f, db), true
		}
		out := zset.New()
		for key, weight := range upstream {
			if CheckPredicate(n.Predicate, key, db, ctx) {
				out[key] = weight
			}
		}
		return out, true

	case *operator.Project:
		// Subquery projections depend on rows the delta does not cover.
		for _, proj := range n.Projections {
			if _, ok := proj.(*operator.Subquery); ok {
				return nil, false
			}
		}
		return DeltaBatch(n.Input, deltas, db, ctx)

	case *operator.Limit, *operator.Join:
		return nil, false

	default:
		return nil, false
	}
}
