package eval

import (
	"fmt"
	"testing"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/steveyegge/spectre/internal/zset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertRecord(db *store.Database, table, id string, data value.Value) string {
	key := zset.Key(table, id)
	tb := db.EnsureTable(table)
	tb.UpsertRow(key, data)
	tb.ZSet[key] = 1
	return key
}

func userRecord(id, name, status string, age float64) value.Value {
	return value.Object(map[string]value.Value{
		"id":     value.String("user:" + id),
		"name":   value.String(name),
		"status": value.String(status),
		"age":    value.Number(age),
		"active": value.Bool(status == "active"),
	})
}

func usersDB() (*store.Database, []string) {
	db := store.NewDatabase()
	keys := []string{
		insertRecord(db, "user", "1", userRecord("1", "Alice", "active", 30)),
		insertRecord(db, "user", "2", userRecord("2", "Bob", "inactive", 25)),
		insertRecord(db, "user", "3", userRecord("3", "Charlie", "active", 35)),
		insertRecord(db, "user", "4", userRecord("4", "Diana", "pending", 28)),
	}
	return db, keys
}

func eq(field string, v value.Value) operator.Predicate {
	return &operator.Compare{Op: operator.CmpEq, Field: value.ParsePath(field), Value: v}
}

func cmp(op operator.CmpOp, field string, v value.Value) operator.Predicate {
	return &operator.Compare{Op: op, Field: value.ParsePath(field), Value: v}
}

func TestCheckPredicateComparisons(t *testing.T) {
	db, keys := usersDB()

	pred := eq("status", value.String("active"))
	assert.True(t, CheckPredicate(pred, keys[0], db, nil))  // Alice
	assert.False(t, CheckPredicate(pred, keys[1], db, nil)) // Bob
	// Case sensitive.
	assert.False(t, CheckPredicate(eq("status", value.String("ACTIVE")), keys[0], db, nil))

	gt := cmp(operator.CmpGt, "age", value.Number(28))
	assert.True(t, CheckPredicate(gt, keys[0], db, nil))
	assert.False(t, CheckPredicate(gt, keys[1], db, nil))
	assert.False(t, CheckPredicate(gt, keys[3], db, nil))

	gte := cmp(operator.CmpGte, "age", value.Number(28))
	assert.True(t, CheckPredicate(gte, keys[3], db, nil))

	lt := cmp(operator.CmpLt, "age", value.Number(30))
	assert.False(t, CheckPredicate(lt, keys[0], db, nil))
	assert.True(t, CheckPredicate(lt, keys[1], db, nil))

	neq := cmp(operator.CmpNeq, "status", value.String("active"))
	assert.False(t, CheckPredicate(neq, keys[0], db, nil))
	assert.True(t, CheckPredicate(neq, keys[1], db, nil))
}

func TestCheckPredicatePrefix(t *testing.T) {
	db, keys := usersDB()

	name := &operator.Prefix{Field: value.ParsePath("name"), Prefix: "Ch"}
	assert.False(t, CheckPredicate(name, keys[0], db, nil))
	assert.True(t, CheckPredicate(name, keys[2], db, nil))

	// On the id field the key itself is tested.
	id := &operator.Prefix{Field: value.ParsePath("id"), Prefix: "user:"}
	assert.True(t, CheckPredicate(id, keys[0], db, nil))

	// Prefix on a non-string field is false.
	age := &operator.Prefix{Field: value.ParsePath("age"), Prefix: "3"}
	assert.False(t, CheckPredicate(age, keys[0], db, nil))
}

func TestCheckPredicateCombinators(t *testing.T) {
	db, keys := usersDB()

	// (status=active AND age>25) OR status=pending
	pred := &operator.Or{Predicates: []operator.Predicate{
		&operator.And{Predicates: []operator.Predicate{
			eq("status", value.String("active")),
			cmp(operator.CmpGt, "age", value.Number(25)),
		}},
		eq("status", value.String("pending")),
	}}

	assert.True(t, CheckPredicate(pred, keys[0], db, nil))  // Alice
	assert.False(t, CheckPredicate(pred, keys[1], db, nil)) // Bob
	assert.True(t, CheckPredicate(pred, keys[2], db, nil))  // Charlie
	assert.True(t, CheckPredicate(pred, keys[3], db, nil))  // Diana
}

func TestCheckPredicateParamContext(t *testing.T) {
	db, keys := usersDB()

	pred := eq("age", value.Object(map[string]value.Value{"$param": value.String("parent.target_age")}))
	ctx := &Context{Value: value.Object(map[string]value.Value{"target_age": value.Number(30)})}

	assert.True(t, CheckPredicate(pred, keys[0], db, ctx))
	assert.False(t, CheckPredicate(pred, keys[1], db, ctx))

	// No context: a param reference cannot resolve.
	assert.False(t, CheckPredicate(pred, keys[0], db, nil))

	// Record-id objects in context normalize to "table:id" strings.
	idPred := eq("id", value.Object(map[string]value.Value{"$param": value.String("parent.author")}))
	ridCtx := &Context{Value: value.Object(map[string]value.Value{
		"author": value.Object(map[string]value.Value{"tb": value.String("user"), "id": value.String("1")}),
	})}
	assert.True(t, CheckPredicate(idPred, keys[0], db, ridCtx))
}

func TestCheckPredicateMissing(t *testing.T) {
	db, keys := usersDB()

	assert.False(t, CheckPredicate(eq("nonexistent", value.String("x")), keys[0], db, nil))
	assert.False(t, CheckPredicate(eq("a.b.c.d", value.String("x")), keys[0], db, nil))
	assert.False(t, CheckPredicate(eq("status", value.String("active")), "user:ghost", db, nil))
}

func TestCheckPredicateNestedPath(t *testing.T) {
	db := store.NewDatabase()
	key := insertRecord(db, "record", "1", value.Object(map[string]value.Value{
		"profile": value.Object(map[string]value.Value{
			"stats": value.Object(map[string]value.Value{"score": value.Number(100)}),
		}),
	}))

	assert.True(t, CheckPredicate(cmp(operator.CmpGt, "profile.stats.score", value.Number(75)), key, db, nil))
	assert.False(t, CheckPredicate(cmp(operator.CmpGt, "profile.stats.score", value.Number(150)), key, db, nil))
}

func TestSnapshotScan(t *testing.T) {
	db, _ := usersDB()

	out := Snapshot(&operator.Scan{Table: "user"}, db, nil)
	assert.Len(t, out, 4)

	// Unknown table scans as empty, never as an error.
	out = Snapshot(&operator.Scan{Table: "ghosts"}, db, nil)
	assert.Empty(t, out)
}

func TestSnapshotFilter(t *testing.T) {
	db, _ := usersDB()

	op := &operator.Filter{
		Input:     &operator.Scan{Table: "user"},
		Predicate: eq("status", value.String("active")),
	}
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"user:1": 1, "user:3": 1}, out)
}

func TestSnapshotProjectIdentity(t *testing.T) {
	db, _ := usersDB()

	op := &operator.Project{
		Input:       &operator.Scan{Table: "user"},
		Projections: []operator.Projection{&operator.All{}},
	}
	assert.Len(t, Snapshot(op, db, nil), 4)
}

func TestSnapshotLimitOrderBy(t *testing.T) {
	db := store.NewDatabase()
	for i := 1; i <= 5; i++ {
		insertRecord(db, "items", fmt.Sprintf("%d", i), value.Object(map[string]value.Value{
			"value": value.Number(float64(i)),
		}))
	}

	op := &operator.Limit{
		Input: &operator.Scan{Table: "items"},
		Limit: 3,
		OrderBy: []operator.OrderSpec{
			{Field: value.ParsePath("value"), Direction: "DESC"},
		},
	}
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"items:5": 1, "items:4": 1, "items:3": 1}, out)
}

func TestSnapshotLimitTieBreakAndMissing(t *testing.T) {
	db := store.NewDatabase()
	insertRecord(db, "items", "b", value.Object(map[string]value.Value{"rank": value.Number(1)}))
	insertRecord(db, "items", "a", value.Object(map[string]value.Value{"rank": value.Number(1)}))
	insertRecord(db, "items", "c", value.Object(map[string]value.Value{})) // rank missing

	op := &operator.Limit{
		Input:   &operator.Scan{Table: "items"},
		Limit:   2,
		OrderBy: []operator.OrderSpec{{Field: value.ParsePath("rank"), Direction: "ASC"}},
	}
	// Missing sorts before any present value; equal ranks tie-break on
	// key ascending.
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"items:c": 1, "items:a": 1}, out)
}

func TestSnapshotLimitNoOrderBySortsByKey(t *testing.T) {
	db := store.NewDatabase()
	for _, id := range []string{"3", "1", "2"} {
		insertRecord(db, "items", id, value.Object(map[string]value.Value{}))
	}
	op := &operator.Limit{Input: &operator.Scan{Table: "items"}, Limit: 2}
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"items:1": 1, "items:2": 1}, out)
}

func joinUsersPosts() *store.Database {
	db := store.NewDatabase()
	insertRecord(db, "users", "1", value.Object(map[string]value.Value{"id": value.Number(1)}))
	insertRecord(db, "users", "2", value.Object(map[string]value.Value{"id": value.Number(2)}))
	insertRecord(db, "posts", "10", value.Object(map[string]value.Value{"author": value.Number(1)}))
	insertRecord(db, "posts", "11", value.Object(map[string]value.Value{"author": value.Number(1)}))
	insertRecord(db, "posts", "12", value.Object(map[string]value.Value{"author": value.Number(3)}))
	return db
}

func TestSnapshotJoin(t *testing.T) {
	db := joinUsersPosts()

	op := &operator.Join{
		Left:  &operator.Scan{Table: "users"},
		Right: &operator.Scan{Table: "posts"},
		On: operator.JoinCondition{
			LeftField:  value.ParsePath("id"),
			RightField: value.ParsePath("author"),
		},
	}
	// users:1 matches posts 10 and 11: left-keyed with summed weight 2.
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"users:1": 2}, out)
}

func TestSnapshotJoinMissingFields(t *testing.T) {
	db := joinUsersPosts()
	insertRecord(db, "posts", "13", value.Object(map[string]value.Value{"title": value.String("no author")}))

	op := &operator.Join{
		Left:  &operator.Scan{Table: "users"},
		Right: &operator.Scan{Table: "posts"},
		On: operator.JoinCondition{
			LeftField:  value.ParsePath("id"),
			RightField: value.ParsePath("author"),
		},
	}
	out := Snapshot(op, db, nil)
	assert.Equal(t, zset.ZSet{"users:1": 2}, out)
}

func TestNumericFastPathMatchesLazy(t *testing.T) {
	db := store.NewDatabase()
	upstream := zset.New()
	// Enough rows to cross the columnar threshold, plus one non-numeric
	// and one missing row.
	for i := 0; i < 100; i++ {
		key := insertRecord(db, "m", fmt.Sprintf("%03d", i), value.Object(map[string]value.Value{
			"v": value.Number(float64(i)),
		}))
		upstream[key] = 1
	}
	bad := insertRecord(db, "m", "bad", value.Object(map[string]value.Value{"v": value.String("nope")}))
	upstream[bad] = 1
	upstream["m:ghost"] = 1

	f := numericFilter{path: value.ParsePath("v"), target: 90, op: operator.CmpGte}

	columnar := applyNumericFilter(upstream, f, db)
	lazy := filterNumericLazy(upstream, f, db)

	assert.Equal(t, lazy, columnar)
	assert.Len(t, columnar, 10)
	assert.NotContains(t, columnar, bad)
	assert.NotContains(t, columnar, "m:ghost")
}

func TestNumericFilterFromPredicate(t *testing.T) {
	_, ok := numericFilterFromPredicate(eq("age", value.Number(30)))
	assert.True(t, ok)
	_, ok = numericFilterFromPredicate(eq("age", value.String("30")))
	assert.False(t, ok)
	_, ok = numericFilterFromPredicate(eq("age", value.Object(map[string]value.Value{"$param": value.String("x")})))
	assert.False(t, ok)
	_, ok = numericFilterFromPredicate(&operator.And{})
	assert.False(t, ok)
}

func TestDeltaBatchScanAndFilter(t *testing.T) {
	db, _ := usersDB()

	deltas := map[string]zset.ZSet{
		"user": {"user:1": 1, "user:2": 1},
	}

	out, ok := DeltaBatch(&operator.Scan{Table: "user"}, deltas, db, nil)
	require.True(t, ok)
	assert.Equal(t, deltas["user"], out)

	// Absent table yields an empty delta, still incremental.
	out, ok = DeltaBatch(&operator.Scan{Table: "posts"}, deltas, db, nil)
	require.True(t, ok)
	assert.Empty(t, out)

	filtered, ok := DeltaBatch(&operator.Filter{
		Input:     &operator.Scan{Table: "user"},
		Predicate: eq("status", value.String("active")),
	}, deltas, db, nil)
	require.True(t, ok)
	assert.Equal(t, zset.ZSet{"user:1": 1}, filtered)
}

func TestDeltaBatchFallbacks(t *testing.T) {
	db, _ := usersDB()
	deltas := map[string]zset.ZSet{"user": {"user:1": 1}}

	_, ok := DeltaBatch(&operator.Limit{Input: &operator.Scan{Table: "user"}, Limit: 1}, deltas, db, nil)
	assert.False(t, ok)

	_, ok = DeltaBatch(&operator.Join{
		Left:  &operator.Scan{Table: "user"},
		Right: &operator.Scan{Table: "user"},
		On:    operator.JoinCondition{LeftField: value.ParsePath("id"), RightField: value.ParsePath("id")},
	}, deltas, db, nil)
	assert.False(t, ok)

	// Project without subqueries passes through; with subqueries it
	// refuses.
	out, ok := DeltaBatch(&operator.Project{
		Input:       &operator.Scan{Table: "user"},
		Projections: []operator.Projection{&operator.All{}},
	}, deltas, db, nil)
	require.True(t, ok)
	assert.Len(t, out, 1)

	_, ok = DeltaBatch(&operator.Project{
		Input:       &operator.Scan{Table: "user"},
		Projections: []operator.Projection{&operator.Subquery{Alias: "a", Plan: &operator.Scan{Table: "user"}}},
	}, deltas, db, nil)
	assert.False(t, ok)
}
