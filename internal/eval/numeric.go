package eval

import (
	"math"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/zset"
)

// lazyFilterThreshold is the upstream size below which the column
// extraction is skipped in favor of a per-row pass, avoiding the column
// allocations for small sets.
const lazyFilterThreshold = 64

// numericFilter is a single numeric comparison against a number
// literal, the shape eligible for the columnar fast path.
type numericFilter struct {
	path   value.Path
	target float64
	op     operator.CmpOp
}

// numericFilterFromPredicate extracts the fast-path configuration.
// Parameter references and non-numeric literals disqualify.
func numericFilterFromPredicate(pred operator.Predicate) (numericFilter, bool) {
	cmp, ok := pred.(*operator.Compare)
	if !ok {
		return numericFilter{}, false
	}
	target, ok := cmp.Value.AsNumber()
	if !ok {
		return numericFilter{}, false
	}
	return numericFilter{path: cmp.Field, target: target, op: cmp.Op}, true
}

func numericPass(v, target float64, op operator.CmpOp) bool {
	switch op {
	case operator.CmpGt:
		return v > target
	case operator.CmpGte:
		return v >= target
	case operator.CmpLt:
		return v < target
	case operator.CmpLte:
		return v <= target
	case operator.CmpEq:
		return math.Abs(v-target) < epsilon
	case operator.CmpNeq:
		return math.Abs(v-target) > epsilon
	default:
		return false
	}
}

const epsilon = 2.220446049250313e-16 // 2^-52, one ulp at 1.0

// extractNumberColumn pulls a parallel (key, weight, f64) column out of
// a Z-set. Rows that are missing or non-numeric at the path yield NaN,
// which fails every comparison.
func extractNumberColumn(z zset.ZSet, path value.Path, db *store.Database) ([]string, []int64, []float64) {
	keys := make([]string, 0, len(z))
	weights := make([]int64, 0, len(z))
	numbers := make([]float64, 0, len(z))

	for key, weight := range z {
		num := math.NaN()
		if row, ok := db.RowValue(key); ok {
			if fv, ok := value.Resolve(row, path); ok {
				if n, ok := fv.AsNumber(); ok {
					num = n
				}
			}
		}
		keys = append(keys, key)
		weights = append(weights, weight)
		numbers = append(numbers, num)
	}
	return keys, weights, numbers
}

// filterFloat64Batch compares a column against target in fixed-width
// chunks of eight, a loop shape the compiler can vectorize, and returns
// the passing indices.
func filterFloat64Batch(values []float64, target float64, op operator.CmpOp) []int {
	indices := make([]int, 0, len(values))

	i := 0
	for ; i+8 <= len(values); i += 8 {
		chunk := values[i : i+8 : i+8]
		for j, v := range chunk {
			if numericPass(v, target, op) {
				indices = append(indices, i+j)
			}
		}
	}
	for ; i < len(values); i++ {
		if numericPass(values[i], target, op) {
			indices = append(indices, i)
		}
	}
	return indices
}

// filterNumericLazy is the allocation-light per-row path for small
// upstream sets.
func filterNumericLazy(upstream zset.ZSet, f numericFilter, db *store.Database) zset.ZSet {
	out := zset.New()
	for key, weight := range upstream {
		row, ok := db.RowValue(key)
		if !ok {
			continue
		}
		fv, ok := value.Resolve(row, f.path)
		if !ok {
			continue
		}
		n, ok := fv.AsNumber()
		if !ok {
			continue
		}
		if numericPass(n, f.target, f.op) {
			out[key] = weight
		}
	}
	return out
}

// applyNumericFilter filters a Z-set through a numeric comparison,
// choosing between the columnar and lazy strategies by upstream size.
func applyNumericFilter(upstream zset.ZSet, f numericFilter, db *store.Database) zset.ZSet {
	if len(upstream) < lazyFilterThreshold {
		return filterNumericLazy(upstream, f, db)
	}

	keys, weights, numbers := extractNumberColumn(upstream, f.path, db)
	passing := filterFloat64Batch(numbers, f.target, f.op)

	out := make(zset.ZSet, len(passing))
	for _, idx := range passing {
		out[keys[idx]] = weights[idx]
	}
	return out
}
