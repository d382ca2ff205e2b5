// Package eval evaluates operator trees against database state: full
// snapshot evaluation, incremental delta evaluation where the operator
// shape permits it, and predicate checking with a vectorizable fast path
// for numeric comparisons.
package eval

import (
	"strings"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/value"
)

// Context carries optional per-evaluation bindings: registered view
// params merged with, for subqueries, the parent row under evaluation.
// A nil *Context (or nil binding) means no context.
type Context struct {
	Value value.Value
}

// resolvePredicateValue resolves the right-hand side of a comparison.
// Parameter references ({"$param": "a.b.c"}) resolve against ctx, with a
// leading "parent." stripped first; the resolved value is normalized so
// record-id objects compare as their "table:id" string. Literals pass
// through. Returns false when a parameter reference cannot resolve.
func resolvePredicateValue(v value.Value, ctx *Context) (value.Value, bool) {
	path, isParam := operator.ParamPath(v)
	if !isParam {
		return v, true
	}
	if ctx == nil {
		return value.Null, false
	}
	path = strings.TrimPrefix(path, "parent.")
	resolved, ok := value.Resolve(ctx.Value, value.ParsePath(path))
	if !ok {
		return value.Null, false
	}
	return value.NormalizeRecordID(resolved), true
}

// CheckPredicate reports whether the row behind key satisfies the
// predicate. Missing rows, missing fields and unresolvable parameters
// all evaluate to false; predicate checking never errors.
func CheckPredicate(pred operator.Predicate, key string, db *store.Database, ctx *Context) bool {
	switch p := pred.(type) {
	case *operator.And:
		for _, child := range p.Predicates {
			if !CheckPredicate(child, key, db, ctx) {
				return false
			}
		}
		return true
	case *operator.Or:
		for _, child := range p.Predicates {
			if CheckPredicate(child, key, db, ctx) {
				return true
			}
		}
		return false
	case *operator.Prefix:
		if p.Field.IsID() {
			return strings.HasPrefix(key, p.Prefix)
		}
		row, ok := db.RowValue(key)
		if !ok {
			return false
		}
		fv, ok := value.Resolve(row, p.Field)
		if !ok {
			return false
		}
		s, ok := fv.AsString()
		return ok && strings.HasPrefix(s, p.Prefix)
	case *operator.Compare:
		target, ok := resolvePredicateValue(p.Value, ctx)
		if !ok {
			return false
		}
		// The id field still reads through the row value: the canonical
		// id stored on the record may be fully qualified where the
		// stripped key id is not, so key equality alone is not sound.
		row, ok := db.RowValue(key)
		if !ok {
			return false
		}
		actual, ok := value.Resolve(row, p.Field)
		if !ok {
			return false
		}
		ord := value.Compare(actual, target)
		switch p.Op {
		case operator.CmpEq:
			return ord == 0
		case operator.CmpNeq:
			return ord != 0
		case operator.CmpGt:
			return ord > 0
		case operator.CmpGte:
			return ord >= 0
		case operator.CmpLt:
			return ord < 0
		case operator.CmpLte:
			return ord <= 0
		default:
			return false
		}
	default:
		return false
	}
}
