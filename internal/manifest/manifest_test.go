package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/spectre/internal/engine"
	"github.com/steveyegge/spectre/internal/update"
	"github.com/steveyegge/spectre/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
views:
  - id: active-users
    format: streaming
    params:
      team: core
    plan:
      op: filter
      input: {op: scan, table: users}
      predicate: {type: eq, field: active, value: true}
  - id: all-posts
    plan:
      op: scan
      table: posts
`

func TestParse(t *testing.T) {
	regs, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, regs, 2)

	assert.Equal(t, "active-users", regs[0].Plan.ID)
	assert.Equal(t, update.FormatStreaming, regs[0].Format)
	require.NotNil(t, regs[0].Params)
	team, _ := regs[0].Params.Get("team")
	assert.Equal(t, value.String("core"), team)

	assert.Equal(t, "all-posts", regs[1].Plan.ID)
	assert.Equal(t, update.FormatFlat, regs[1].Format)
}

func TestParseRejectsInvalidEntry(t *testing.T) {
	_, err := Parse([]byte(`
views:
  - id: broken
    plan:
      op: scan
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`views: [`))
	assert.Error(t, err)
}

func TestLoadRegistersIntoEngine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "views.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	regs, err := Load(path)
	require.NoError(t, err)

	c := engine.New()
	for _, reg := range regs {
		c.RegisterView(reg)
	}
	assert.Len(t, c.Views, 2)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "views.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(regs []engine.Registration) {
			applied <- len(regs)
		})
	}()

	// Give the watcher a moment to attach before mutating the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
views:
  - id: only-one
    plan: {op: scan, table: users}
`), 0o644))

	select {
	case n := <-applied:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver a reload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
