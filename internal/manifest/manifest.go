// Package manifest loads the declarative view bootstrap file
// (views.yaml) and optionally watches it for changes, so a daemon can
// keep its registered views in sync with an operator-edited file.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/spectre/internal/engine"
)

// fileShape is the YAML document layout:
//
//	views:
//	  - id: active-users
//	    format: streaming
//	    params: {team: core}
//	    plan:
//	      op: filter
//	      input: {op: scan, table: users}
//	      predicate: {type: eq, field: active, value: true}
type fileShape struct {
	Views []entryShape `yaml:"views"`
}

type entryShape struct {
	ID           string         `yaml:"id"`
	Format       string         `yaml:"format"`
	Params       map[string]any `yaml:"params"`
	Plan         map[string]any `yaml:"plan"`
	ClientID     string         `yaml:"client_id"`
	TTL          string         `yaml:"ttl"`
	LastActiveAt string         `yaml:"last_active_at"`
}

// Load parses a manifest file into validated registrations. Entries are
// validated through the same path as RPC registrations; the first
// invalid entry fails the whole load so a typo cannot silently drop a
// view.
func Load(path string) ([]engine.Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses manifest bytes. See Load.
func Parse(data []byte) ([]engine.Registration, error) {
	var doc fileShape
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parse yaml: %w", err)
	}

	regs := make([]engine.Registration, 0, len(doc.Views))
	for i, entry := range doc.Views {
		// Funnel each entry through the registration parser by
		// re-encoding as the JSON wire shape.
		payload := map[string]any{
			"id":   entry.ID,
			"plan": entry.Plan,
		}
		if entry.Format != "" {
			payload["format"] = entry.Format
		}
		if entry.Params != nil {
			payload["params"] = entry.Params
		}
		if entry.ClientID != "" {
			payload["clientId"] = entry.ClientID
		}
		if entry.TTL != "" {
			payload["ttl"] = entry.TTL
		}
		if entry.LastActiveAt != "" {
			payload["lastActiveAt"] = entry.LastActiveAt
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("manifest: entry %d: %w", i, err)
		}
		reg, err := engine.ParseRegistration(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest: entry %d: %w", i, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Watch re-loads the manifest whenever the file changes and hands the
// parsed registrations to apply. Editors commonly replace files by
// rename, so the parent directory is watched rather than the file
// itself. Load errors are logged and the previous registrations stay in
// effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, apply func([]engine.Registration)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("manifest: watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	// Coalesce bursts of events (editors write + chmod + rename) into
	// one reload.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("manifest: watch error: %v", err)
		case <-pending:
			pending = nil
			regs, err := Load(path)
			if err != nil {
				log.Printf("manifest: reload failed, keeping previous views: %v", err)
				continue
			}
			log.Printf("manifest: reloaded %d view(s) from %s", len(regs), path)
			apply(regs)
		}
	}
}
