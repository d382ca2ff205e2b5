package engine

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/spectre/internal/value"
)

// NormalizeRecord collapses record-id objects ({tb|table, id}) nested
// anywhere inside a record into their canonical "table:id" string form,
// so references compare and hash uniformly. The record root itself is
// never collapsed, even if it happens to carry table and id fields.
func NormalizeRecord(v value.Value) value.Value {
	fields, ok := v.AsObject()
	if !ok {
		return normalizeValue(v)
	}
	out := make(map[string]value.Value, len(fields))
	for k, fv := range fields {
		out[k] = normalizeValue(fv)
	}
	return value.Object(out)
}

func normalizeValue(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindArray:
		items, _ := v.AsArray()
		out := make([]value.Value, len(items))
		for i, item := range items {
			out[i] = normalizeValue(item)
		}
		return value.Array(out...)
	case value.KindObject:
		normalized := value.NormalizeRecordID(v)
		if normalized.Kind() != value.KindObject {
			return normalized
		}
		fields, _ := v.AsObject()
		out := make(map[string]value.Value, len(fields))
		for k, fv := range fields {
			out[k] = normalizeValue(fv)
		}
		return value.Object(out)
	default:
		return v
	}
}

// PrepareRecord normalizes an incoming record and fingerprints it with
// a deterministic content hash.
func PrepareRecord(raw value.Value) (value.Value, string) {
	clean := NormalizeRecord(raw)
	return clean, value.ContentHash(clean)
}

// PrepareBatch prepares many records concurrently. Order is preserved.
func PrepareBatch(raws []value.Value) []value.Value {
	out := make([]value.Value, len(raws))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, raw := range raws {
		g.Go(func() error {
			out[i], _ = PrepareRecord(raw)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
