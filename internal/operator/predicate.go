package operator

import "github.com/steveyegge/spectre/internal/value"

// CmpOp is the comparator carried by a Compare predicate.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNeq
	CmpGt
	CmpGte
	CmpLt
	CmpLte
)

var cmpNames = map[CmpOp]string{
	CmpEq:  "eq",
	CmpNeq: "neq",
	CmpGt:  "gt",
	CmpGte: "gte",
	CmpLt:  "lt",
	CmpLte: "lte",
}

// String returns the wire name of the comparator.
func (o CmpOp) String() string { return cmpNames[o] }

// Predicate is the filter language: Prefix, the six comparison forms,
// and the And/Or combinators.
type Predicate interface {
	isPredicate()
}

// Prefix matches rows whose field value is a string starting with
// Prefix. On the "id" field it tests the row key directly.
type Prefix struct {
	Field  value.Path
	Prefix string
}

// Compare resolves Field on the row and compares it against Value using
// the engine's total order. Value may be a literal or a parameter
// reference of the form {"$param": "dotted.path"}; a leading "parent."
// on the parameter path is stripped before resolution against the
// evaluation context.
type Compare struct {
	Op    CmpOp
	Field value.Path
	Value value.Value
}

// And matches when every child predicate matches. Short-circuits.
type And struct {
	Predicates []Predicate
}

// Or matches when any child predicate matches. Short-circuits.
type Or struct {
	Predicates []Predicate
}

func (*Prefix) isPredicate()  {}
func (*Compare) isPredicate() {}
func (*And) isPredicate()     {}
func (*Or) isPredicate()      {}

// ParamPath extracts the parameter reference from a predicate value, if
// it is one. Returns the referenced dotted path and true for values of
// the shape {"$param": "a.b.c"}.
func ParamPath(v value.Value) (string, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return "", false
	}
	ref, ok := obj["$param"]
	if !ok {
		return "", false
	}
	path, ok := ref.AsString()
	if !ok {
		return "", true // malformed reference: param-shaped but unresolvable
	}
	return path, true
}
