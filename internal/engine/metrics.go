package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics holds OTel instruments for ingestion. Registered
// against the global delegating provider at init time; no-ops until the
// SDK is installed.
var engineMetrics struct {
	ingestEntries metric.Int64Counter
	viewUpdates   metric.Int64Counter
	ingestMs      metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/steveyegge/spectre/engine")
	engineMetrics.ingestEntries, _ = m.Int64Counter("spectre.engine.ingest_entries",
		metric.WithDescription("Base mutations ingested"),
		metric.WithUnit("{entry}"),
	)
	engineMetrics.viewUpdates, _ = m.Int64Counter("spectre.engine.view_updates",
		metric.WithDescription("View updates emitted by ingestion"),
		metric.WithUnit("{update}"),
	)
	engineMetrics.ingestMs, _ = m.Float64Histogram("spectre.engine.ingest_ms",
		metric.WithDescription("Wall time per ingest call, mutation through emission"),
		metric.WithUnit("ms"),
	)
}

func recordIngest(entries, updates int, elapsed time.Duration) {
	ctx := context.Background()
	engineMetrics.ingestEntries.Add(ctx, int64(entries))
	engineMetrics.viewUpdates.Add(ctx, int64(updates))
	engineMetrics.ingestMs.Record(ctx, float64(elapsed)/float64(time.Millisecond))
}
