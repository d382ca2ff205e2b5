package operator

import (
	"encoding/json"
	"testing"

	"github.com/steveyegge/spectre/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferencedTablesDeduplicates(t *testing.T) {
	// Project over thread with two subqueries, one of which nests a
	// further subquery back into user.
	userScan := &Scan{Table: "user"}
	commentProject := &Project{
		Input: &Scan{Table: "comment"},
		Projections: []Projection{
			&Subquery{Alias: "author", Plan: &Scan{Table: "user"}},
		},
	}
	root := &Project{
		Input: &Scan{Table: "thread"},
		Projections: []Projection{
			&Subquery{Alias: "author", Plan: userScan},
			&Subquery{Alias: "comments", Plan: commentProject},
		},
	}

	assert.Equal(t, []string{"thread", "user", "comment"}, ReferencedTables(root))
}

func TestReferencedTablesSelfJoin(t *testing.T) {
	op := &Join{
		Left:  &Scan{Table: "user"},
		Right: &Scan{Table: "user"},
		On: JoinCondition{
			LeftField:  value.ParsePath("id"),
			RightField: value.ParsePath("user_id"),
		},
	}
	assert.Equal(t, []string{"user"}, ReferencedTables(op))
}

func TestHasSubqueryProjections(t *testing.T) {
	assert.False(t, HasSubqueryProjections(&Scan{Table: "user"}))
	assert.False(t, HasSubqueryProjections(&Project{
		Input:       &Scan{Table: "user"},
		Projections: []Projection{&All{}, &Field{Name: "name"}},
	}))
	assert.True(t, HasSubqueryProjections(&Project{
		Input:       &Scan{Table: "thread"},
		Projections: []Projection{&Subquery{Alias: "author", Plan: &Scan{Table: "user"}}},
	}))
	// Nested below a Filter.
	assert.True(t, HasSubqueryProjections(&Filter{
		Input: &Project{
			Input:       &Scan{Table: "thread"},
			Projections: []Projection{&Subquery{Alias: "a", Plan: &Scan{Table: "user"}}},
		},
		Predicate: &Prefix{Field: value.ParsePath("id"), Prefix: "thread:"},
	}))
}

func TestOrderSpecDescending(t *testing.T) {
	assert.True(t, OrderSpec{Direction: "DESC"}.Descending())
	assert.True(t, OrderSpec{Direction: "desc"}.Descending())
	assert.False(t, OrderSpec{Direction: "ASC"}.Descending())
	assert.False(t, OrderSpec{Direction: ""}.Descending())
}

func TestDecodePlanFromWire(t *testing.T) {
	raw := []byte(`{
		"id": "active-adults",
		"root": {
			"op": "filter",
			"input": {"op": "scan", "table": "users"},
			"predicate": {
				"type": "and",
				"predicates": [
					{"type": "eq", "field": "active", "value": true},
					{"type": "gte", "field": "profile.age", "value": 18}
				]
			}
		}
	}`)

	var plan QueryPlan
	require.NoError(t, json.Unmarshal(raw, &plan))
	assert.Equal(t, "active-adults", plan.ID)

	filter, ok := plan.Root.(*Filter)
	require.True(t, ok)
	scan, ok := filter.Input.(*Scan)
	require.True(t, ok)
	assert.Equal(t, "users", scan.Table)

	and, ok := filter.Predicate.(*And)
	require.True(t, ok)
	require.Len(t, and.Predicates, 2)

	eq, ok := and.Predicates[0].(*Compare)
	require.True(t, ok)
	assert.Equal(t, CmpEq, eq.Op)
	assert.Equal(t, value.ParsePath("active"), eq.Field)
	assert.Equal(t, value.Bool(true), eq.Value)

	gte, ok := and.Predicates[1].(*Compare)
	require.True(t, ok)
	assert.Equal(t, CmpGte, gte.Op)
	assert.Equal(t, value.Path{"profile", "age"}, gte.Field)
}

func TestPlanRoundTrip(t *testing.T) {
	plan := QueryPlan{
		ID: "top-posts",
		Root: &Limit{
			Input: &Join{
				Left:  &Scan{Table: "users"},
				Right: &Filter{
					Input:     &Scan{Table: "posts"},
					Predicate: &Prefix{Field: value.ParsePath("id"), Prefix: "posts:2024"},
				},
				On: JoinCondition{
					LeftField:  value.ParsePath("id"),
					RightField: value.ParsePath("author"),
				},
			},
			Limit: 3,
			OrderBy: []OrderSpec{
				{Field: value.ParsePath("stats.score"), Direction: "DESC"},
			},
		},
	}

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var back QueryPlan
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, plan, back)
}

func TestPlanRoundTripSubqueryProjection(t *testing.T) {
	plan := QueryPlan{
		ID: "threads-with-author",
		Root: &Project{
			Input: &Scan{Table: "thread"},
			Projections: []Projection{
				&All{},
				&Subquery{
					Alias: "author",
					Plan: &Limit{
						Input: &Filter{
							Input: &Scan{Table: "user"},
							Predicate: &Compare{
								Op:    CmpEq,
								Field: value.ParsePath("id"),
								Value: value.Object(map[string]value.Value{"$param": value.String("parent.author")}),
							},
						},
						Limit: 1,
					},
				},
			},
		},
	}

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var back QueryPlan
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, plan, back)
}

func TestDecodeOperatorErrors(t *testing.T) {
	cases := map[string]string{
		"unknown tag":      `{"op": "group_by", "table": "users"}`,
		"missing table":    `{"op": "scan"}`,
		"missing input":    `{"op": "filter", "predicate": {"type": "eq", "field": "a", "value": 1}}`,
		"bad predicate":    `{"op": "filter", "input": {"op": "scan", "table": "t"}, "predicate": {"type": "matches", "field": "a"}}`,
		"negative limit":   `{"op": "limit", "input": {"op": "scan", "table": "t"}, "limit": -1}`,
		"join missing on":  `{"op": "join", "left": {"op": "scan", "table": "a"}, "right": {"op": "scan", "table": "b"}}`,
		"bad projection":   `{"op": "project", "input": {"op": "scan", "table": "t"}, "projections": ["everything"]}`,
	}
	for name, raw := range cases {
		_, err := DecodeOperator([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestParamPath(t *testing.T) {
	ref := value.Object(map[string]value.Value{"$param": value.String("parent.author")})
	path, ok := ParamPath(ref)
	assert.True(t, ok)
	assert.Equal(t, "parent.author", path)

	_, ok = ParamPath(value.String("literal"))
	assert.False(t, ok)
	_, ok = ParamPath(value.Object(map[string]value.Value{"other": value.Number(1)}))
	assert.False(t, ok)
}
