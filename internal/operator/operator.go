// Package operator defines the algebraic query plan evaluated by the
// engine: a small tree of relational operators plus the predicate
// language used by filters. Plans arrive pre-parsed as JSON operator
// trees; the query-language front end lives outside this module.
package operator

import "github.com/steveyegge/spectre/internal/value"

// Operator is one node of a query plan. Variants are Scan, Filter,
// Project, Limit and Join.
type Operator interface {
	isOperator()
}

// Scan reads the base Z-set of one table. Unknown tables evaluate as
// empty, never as an error.
type Scan struct {
	Table string
}

// Filter retains upstream keys whose rows satisfy the predicate.
type Filter struct {
	Input     Operator
	Predicate Predicate
}

// Project is identity on the key set of its input. Subquery projections
// drive dependency tracking and child-row expansion but do not change
// which keys flow through.
type Project struct {
	Input       Operator
	Projections []Projection
}

// Limit truncates its input to the first N keys, optionally after
// sorting by OrderBy with an ascending tie-break on the key itself.
type Limit struct {
	Input   Operator
	Limit   int
	OrderBy []OrderSpec
}

// Join is a hash equi-join. The result is keyed by the left key with
// multiplicity left_weight*right_weight summed over matching right rows.
type Join struct {
	Left  Operator
	Right Operator
	On    JoinCondition
}

func (*Scan) isOperator()    {}
func (*Filter) isOperator()  {}
func (*Project) isOperator() {}
func (*Limit) isOperator()   {}
func (*Join) isOperator()    {}

// JoinCondition names the fields compared for equality on each side.
type JoinCondition struct {
	LeftField  value.Path
	RightField value.Path
}

// OrderSpec is one sort key for Limit.
type OrderSpec struct {
	Field     value.Path
	Direction string // "ASC" or "DESC", case-insensitive
}

// Descending reports whether the spec sorts in descending order.
// Anything other than (case-insensitive) "DESC" sorts ascending.
func (o OrderSpec) Descending() bool {
	d := o.Direction
	return len(d) == 4 &&
		(d[0] == 'D' || d[0] == 'd') &&
		(d[1] == 'E' || d[1] == 'e') &&
		(d[2] == 'S' || d[2] == 's') &&
		(d[3] == 'C' || d[3] == 'c')
}

// Projection is one entry of a Project node: All, a named Field, or a
// correlated Subquery evaluated per parent row.
type Projection interface {
	isProjection()
}

// All projects every field of the row.
type All struct{}

// Field projects a single named field.
type Field struct {
	Name string
}

// Subquery evaluates a child plan once per parent row, with the parent
// row bound as evaluation context. Its results join the view's
// membership alongside the parent keys.
type Subquery struct {
	Alias string
	Plan  Operator
}

func (*All) isProjection()      {}
func (*Field) isProjection()    {}
func (*Subquery) isProjection() {}

// QueryPlan pairs a registered view id with its operator tree.
type QueryPlan struct {
	ID   string
	Root Operator
}

// ReferencedTables extracts every table name the tree reads, including
// tables reached through subquery plans. Duplicates are suppressed while
// preserving first-occurrence order.
func ReferencedTables(op Operator) []string {
	var tables []string
	collectTables(op, &tables)

	seen := make(map[string]bool, len(tables))
	out := tables[:0]
	for _, t := range tables {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func collectTables(op Operator, tables *[]string) {
	switch n := op.(type) {
	case *Scan:
		*tables = append(*tables, n.Table)
	case *Filter:
		collectTables(n.Input, tables)
	case *Limit:
		collectTables(n.Input, tables)
	case *Project:
		collectTables(n.Input, tables)
		for _, proj := range n.Projections {
			if sq, ok := proj.(*Subquery); ok {
				collectTables(sq.Plan, tables)
			}
		}
	case *Join:
		collectTables(n.Left, tables)
		collectTables(n.Right, tables)
	}
}

// HasSubqueryProjections reports whether any Project node in the tree
// carries a Subquery projection. Such plans cannot be evaluated
// incrementally and always take the snapshot path.
func HasSubqueryProjections(op Operator) bool {
	switch n := op.(type) {
	case *Scan:
		return false
	case *Filter:
		return HasSubqueryProjections(n.Input)
	case *Limit:
		return HasSubqueryProjections(n.Input)
	case *Project:
		for _, proj := range n.Projections {
			if _, ok := proj.(*Subquery); ok {
				return true
			}
		}
		return HasSubqueryProjections(n.Input)
	case *Join:
		return HasSubqueryProjections(n.Left) || HasSubqueryProjections(n.Right)
	default:
		return false
	}
}
