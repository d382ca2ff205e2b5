package engine

import (
	"testing"

	"github.com/steveyegge/spectre/internal/operator"
	"github.com/steveyegge/spectre/internal/store"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRegister(t *testing.T, c *Circuit, raw string) *update.ViewUpdate {
	t.Helper()
	reg, err := ParseRegistration([]byte(raw))
	require.NoError(t, err)
	return c.RegisterView(reg)
}

func createEntry(table, id string, fields map[string]value.Value) store.BatchEntry {
	return store.BatchEntry{Table: table, Op: store.OpCreate, ID: id, Record: value.Object(fields)}
}

func TestIngestSingleCreatesTableOnDemand(t *testing.T) {
	c := New()
	updates := c.IngestSingle(createEntry("users", "1", map[string]value.Value{"name": value.String("A")}))
	assert.Empty(t, updates) // no views registered

	tb, ok := c.DB.Table("users")
	require.True(t, ok)
	assert.True(t, tb.ZSet.IsMember("users:1"))
}

func TestParseRegistration(t *testing.T) {
	reg, err := ParseRegistration([]byte(`{
		"id": "V",
		"plan": {"op": "scan", "table": "users"},
		"format": "streaming",
		"clientId": "c-1",
		"ttl": "5m",
		"lastActiveAt": "2024-01-01T00:00:00Z",
		"params": {"team": "core"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "V", reg.Plan.ID)
	assert.Equal(t, update.FormatStreaming, reg.Format)
	assert.Equal(t, "c-1", reg.ClientID)
	assert.Equal(t, "5m", reg.TTL)
	require.NotNil(t, reg.Params)
	team, _ := reg.Params.Get("team")
	assert.Equal(t, value.String("core"), team)

	// Format defaults to flat.
	reg, err = ParseRegistration([]byte(`{"id": "V", "plan": {"op": "scan", "table": "t"}}`))
	require.NoError(t, err)
	assert.Equal(t, update.FormatFlat, reg.Format)

	// A pre-serialized operator tree may arrive under surrealQL.
	reg, err = ParseRegistration([]byte(`{"id": "V", "surrealQL": "{\"op\": \"scan\", \"table\": \"users\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, operator.ReferencedTables(reg.Plan.Root))
}

func TestParseRegistrationErrors(t *testing.T) {
	cases := map[string]string{
		"missing id":     `{"plan": {"op": "scan", "table": "t"}}`,
		"missing plan":   `{"id": "V"}`,
		"malformed plan": `{"id": "V", "plan": {"op": "nonsense"}}`,
		"bad format":     `{"id": "V", "plan": {"op": "scan", "table": "t"}, "format": "xml"}`,
		"bad json":       `{`,
	}
	for name, raw := range cases {
		_, err := ParseRegistration([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestMalformedPlanDoesNotMutateEngine(t *testing.T) {
	c := New()
	_, err := ParseRegistration([]byte(`{"id": "V", "plan": {"op": "scan"}}`))
	require.Error(t, err)
	assert.Empty(t, c.Views)
	assert.Empty(t, c.DB.Tables)
}

func TestRegisterReplacesExistingID(t *testing.T) {
	c := New()
	c.IngestSingle(createEntry("users", "1", map[string]value.Value{"name": value.String("A")}))

	mustRegister(t, c, `{"id": "V", "plan": {"op": "scan", "table": "users"}}`)
	require.Len(t, c.Views, 1)

	mustRegister(t, c, `{"id": "V", "plan": {"op": "scan", "table": "posts"}}`)
	require.Len(t, c.Views, 1)
	assert.Equal(t, []string{"posts"}, c.Views[0].ReferencedTables())
	assert.Empty(t, c.depGraph["users"])
	assert.Equal(t, []int{0}, c.depGraph["posts"])
}

func TestUnregisterView(t *testing.T) {
	c := New()
	mustRegister(t, c, `{"id": "A", "plan": {"op": "scan", "table": "users"}}`)
	mustRegister(t, c, `{"id": "B", "plan": {"op": "scan", "table": "users"}}`)

	assert.True(t, c.UnregisterView("A"))
	assert.False(t, c.UnregisterView("A"))
	require.Len(t, c.Views, 1)
	// Indices rebuilt: the surviving view is reachable again.
	assert.Equal(t, []int{0}, c.depGraph["users"])

	u := c.IngestSingle(createEntry("users", "1", map[string]value.Value{}))
	require.Len(t, u, 1)
	assert.Equal(t, "B", u[0].QueryID)
}

func TestDependencySoundness(t *testing.T) {
	c := New()
	mustRegister(t, c, `{"id": "U", "plan": {"op": "scan", "table": "users"}}`)
	mustRegister(t, c, `{"id": "P", "plan": {"op": "scan", "table": "posts"}}`)

	updates := c.IngestSingle(createEntry("users", "1", map[string]value.Value{}))
	require.Len(t, updates, 1)
	assert.Equal(t, "U", updates[0].QueryID)
}

func TestIngestBatchDeduplicatesViews(t *testing.T) {
	c := New()
	// One view depends on both tables; it must evaluate exactly once.
	mustRegister(t, c, `{"id": "J", "format": "flat", "plan": {
		"op": "join",
		"left": {"op": "scan", "table": "users"},
		"right": {"op": "scan", "table": "posts"},
		"on": {"left_field": "id", "right_field": "author"}
	}}`)

	updates := c.IngestBatch([]store.BatchEntry{
		createEntry("users", "1", map[string]value.Value{"id": value.Number(1)}),
		createEntry("posts", "10", map[string]value.Value{"author": value.Number(1)}),
		createEntry("posts", "11", map[string]value.Value{"author": value.Number(1)}),
	})

	require.Len(t, updates, 1)
	assert.Equal(t, "J", updates[0].QueryID)
	assert.Equal(t, []string{"users:1"}, updates[0].ResultData)
}

func TestIngestBatchSameKeyAppliesInOrder(t *testing.T) {
	c := New()
	mustRegister(t, c, `{"id": "V", "format": "streaming", "plan": {"op": "scan", "table": "users"}}`)

	// Create then delete within one batch nets out to nothing.
	updates := c.IngestBatch([]store.BatchEntry{
		createEntry("users", "1", map[string]value.Value{}),
		{Table: "users", Op: store.OpDelete, ID: "1", Record: value.Null},
	})
	assert.Empty(t, updates)
	tb, _ := c.DB.Table("users")
	assert.False(t, tb.ZSet.IsMember("users:1"))
	_, hasRow := tb.Rows["users:1"]
	assert.False(t, hasRow)
}

func TestIngestBatchContentOnly(t *testing.T) {
	c := New()
	c.IngestSingle(createEntry("users", "1", map[string]value.Value{"name": value.String("A")}))
	mustRegister(t, c, `{"id": "V", "format": "streaming", "plan": {"op": "scan", "table": "users"}}`)

	updates := c.IngestBatch([]store.BatchEntry{
		{Table: "users", Op: store.OpUpdate, ID: "1", Record: value.Object(map[string]value.Value{"name": value.String("B")})},
	})
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Records, 1)
	assert.Equal(t, update.EventUpdated, updates[0].Records[0].Event)
}

func TestReset(t *testing.T) {
	c := New()
	c.IngestSingle(createEntry("users", "1", map[string]value.Value{}))
	mustRegister(t, c, `{"id": "V", "plan": {"op": "scan", "table": "users"}}`)

	c.Reset()
	assert.Empty(t, c.DB.Tables)
	assert.Empty(t, c.Views)
	assert.Empty(t, c.IngestSingle(createEntry("users", "1", map[string]value.Value{})))
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New()
	c.IngestSingle(createEntry("users", "1", map[string]value.Value{"active": value.Bool(true)}))
	c.IngestSingle(createEntry("users", "2", map[string]value.Value{"active": value.Bool(false)}))
	mustRegister(t, c, `{"id": "V", "format": "flat", "plan": {
		"op": "filter",
		"input": {"op": "scan", "table": "users"},
		"predicate": {"type": "eq", "field": "active", "value": true}
	}}`)

	v, ok := c.ViewByID("V")
	require.True(t, ok)
	wantHash := v.LastHash
	require.NotEmpty(t, wantHash)

	data, err := c.SaveState()
	require.NoError(t, err)

	loaded, err := LoadState(data)
	require.NoError(t, err)

	lv, ok := loaded.ViewByID("V")
	require.True(t, ok)
	assert.Equal(t, wantHash, lv.LastHash)
	assert.True(t, lv.HasRun)
	assert.True(t, lv.Cache.IsMember("users:1"))
	assert.Equal(t, []string{"users"}, lv.ReferencedTables())

	// Resumed engine behaves identically: a re-ingest of identical
	// state emits nothing, a real change does.
	assert.Empty(t, loaded.IngestSingle(store.BatchEntry{
		Table: "users", Op: store.OpUpdate, ID: "1",
		Record: value.Object(map[string]value.Value{"active": value.Bool(true)}),
	}))
	updates := loaded.IngestSingle(createEntry("users", "3", map[string]value.Value{"active": value.Bool(true)}))
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"users:1", "users:3"}, updates[0].ResultData)
}

func TestLoadStateCorruptYieldsEmptyCircuit(t *testing.T) {
	c, err := LoadState([]byte("not json"))
	require.Error(t, err)
	require.NotNil(t, c)
	assert.Empty(t, c.Views)
	assert.Empty(t, c.DB.Tables)
}

func TestNormalizeRecord(t *testing.T) {
	raw := value.Object(map[string]value.Value{
		"author": value.Object(map[string]value.Value{"tb": value.String("user"), "id": value.String("1")}),
		"tags": value.Array(
			value.Object(map[string]value.Value{"table": value.String("tag"), "id": value.String("go")}),
		),
		"title": value.String("hello"),
	})

	clean := NormalizeRecord(raw)
	author, _ := clean.Get("author")
	assert.Equal(t, value.String("user:1"), author)
	tags, _ := clean.Get("tags")
	items, _ := tags.AsArray()
	require.Len(t, items, 1)
	assert.Equal(t, value.String("tag:go"), items[0])

	// A root that happens to carry table+id fields stays an object.
	rooty := value.Object(map[string]value.Value{"table": value.String("x"), "id": value.String("y")})
	assert.Equal(t, value.KindObject, NormalizeRecord(rooty).Kind())
}

func TestPrepareRecordDeterministic(t *testing.T) {
	a := value.Object(map[string]value.Value{"x": value.Number(1), "y": value.String("z")})
	b := value.Object(map[string]value.Value{"y": value.String("z"), "x": value.Number(1)})

	_, ha := PrepareRecord(a)
	_, hb := PrepareRecord(b)
	assert.Equal(t, ha, hb)

	prepared := PrepareBatch([]value.Value{a, b})
	require.Len(t, prepared, 2)
	assert.Equal(t, value.ContentHash(prepared[0]), value.ContentHash(prepared[1]))
}

func TestDefaultResult(t *testing.T) {
	u := DefaultResult("V")
	assert.Equal(t, update.EmptyHash, u.ResultHash)
	assert.Equal(t, "V", u.QueryID)
}

func TestCacheSnapshotAgreement(t *testing.T) {
	c := New()
	mustRegister(t, c, `{"id": "V", "format": "flat", "plan": {
		"op": "filter",
		"input": {"op": "scan", "table": "users"},
		"predicate": {"type": "gte", "field": "age", "value": 21}
	}}`)

	c.IngestBatch([]store.BatchEntry{
		createEntry("users", "1", map[string]value.Value{"age": value.Number(30)}),
		createEntry("users", "2", map[string]value.Value{"age": value.Number(18)}),
		createEntry("users", "3", map[string]value.Value{"age": value.Number(25)}),
	})
	c.IngestSingle(store.BatchEntry{Table: "users", Op: store.OpDelete, ID: "3", Record: value.Null})
	c.IngestSingle(store.BatchEntry{
		Table: "users", Op: store.OpUpdate, ID: "2",
		Record: value.Object(map[string]value.Value{"age": value.Number(22)}),
	})

	v, _ := c.ViewByID("V")
	assert.Equal(t, int64(1), v.Cache["users:1"])
	assert.Equal(t, int64(1), v.Cache["users:2"])
	assert.Len(t, v.Cache, 2)
}
