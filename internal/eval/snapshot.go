package eval

import (
	"sort"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/zset"
)

// Snapshot fully evaluates an operator tree against the current
// database state. The returned set may alias table state (Scan returns
// the table's base Z-set directly); callers must treat it as read-only
// and copy before mutating.
func Snapshot(op operator.Operator, db *store.Database, ctx *Context) zset.ZSet {
	switch n := op.(type) {
	case *operator.Scan:
		if t, ok := db.Table(n.Table); ok {
			return t.ZSet
		}
		return zset.New()

	case *operator.Filter:
		upstream := Snapshot(n.Input, db, ctx)
		if f, ok := numericFilterFromPredicate(n.Predicate); ok {
			return applyNumericFilter(upstream, f, db)
		}
		out := zset.New()
		for key, weight := range upstream {
			if CheckPredicate(n.Predicate, key, db, ctx) {
				out[key] = weight
			}
		}
		return out

	case *operator.Project:
		// Identity on the key set; subquery projections are expanded by
		// the view, not here.
		return Snapshot(n.Input, db, ctx)

	case *operator.Limit:
		return snapshotLimit(n, db, ctx)

	case *operator.Join:
		return snapshotJoin(n, db, ctx)

	default:
		return zset.New()
	}
}

func snapshotLimit(n *operator.Limit, db *store.Database, ctx *Context) zset.ZSet {
	upstream := Snapshot(n.Input, db, ctx)

	type entry struct {
		key    string
		weight int64
	}
	items := make([]entry, 0, len(upstream))
	for key, weight := range upstream {
		items = append(items, entry{key, weight})
	}

	if len(n.OrderBy) > 0 {
		// Row lookups are cached across comparisons; sort.Slice calls
		// the comparator O(n log n) times.
		type resolved struct {
			val     value.Value
			present bool
		}
		rows := make(map[string][]resolved, len(items))
		for _, it := range items {
			cols := make([]resolved, len(n.OrderBy))
			row, ok := db.RowValue(it.key)
			for i, ord := range n.OrderBy {
				if !ok {
					continue
				}
				v, present := value.Resolve(row, ord.Field)
				cols[i] = resolved{val: v, present: present}
			}
			rows[it.key] = cols
		}

		sort.Slice(items, func(a, b int) bool {
			colsA, colsB := rows[items[a].key], rows[items[b].key]
			for i, ord := range n.OrderBy {
				cmp := value.CompareMissing(colsA[i].val, colsA[i].present, colsB[i].val, colsB[i].present)
				if cmp != 0 {
					if ord.Descending() {
						return cmp > 0
					}
					return cmp < 0
				}
			}
			return items[a].key < items[b].key
		})
	} else {
		sort.Slice(items, func(a, b int) bool { return items[a].key < items[b].key })
	}

	out := zset.New()
	for i, it := range items {
		if i >= n.Limit {
			break
		}
		out[it.key] = it.weight
	}
	return out
}

func snapshotJoin(n *operator.Join, db *store.Database, ctx *Context) zset.ZSet {
	left := Snapshot(n.Left, db, ctx)
	right := Snapshot(n.Right, db, ctx)
	out := zset.New()

	type rightEntry struct {
		weight int64
		val    value.Value
	}

	// Build phase: index the right side by the hash of its join value.
	index := make(map[uint64][]rightEntry, len(right))
	for rKey, rWeight := range right {
		row, ok := db.RowValue(rKey)
		if !ok {
			continue
		}
		fv, ok := value.Resolve(row, n.On.RightField)
		if !ok {
			continue
		}
		h := value.Hash64(fv)
		index[h] = append(index[h], rightEntry{weight: rWeight, val: fv})
	}

	// Probe phase: look up each left row, verifying real equality after
	// every hash hit so collisions cannot fabricate matches.
	for lKey, lWeight := range left {
		row, ok := db.RowValue(lKey)
		if !ok {
			continue
		}
		fv, ok := value.Resolve(row, n.On.LeftField)
		if !ok {
			continue
		}
		for _, re := range index[value.Hash64(fv)] {
			if value.Compare(fv, re.val) == 0 {
				out[lKey] += lWeight * re.weight
			}
		}
	}
	return out
}
