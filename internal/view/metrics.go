package view

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// viewMetrics holds OTel instruments for view evaluation. Registered
// against the global delegating provider at init time, so they forward
// to the real provider once telemetry is initialized and stay no-ops
// otherwise.
var viewMetrics struct {
	snapshotFallbacks metric.Int64Counter
	emissions         metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/steveyegge/spectre/view")
	viewMetrics.snapshotFallbacks, _ = m.Int64Counter("spectre.view.snapshot_fallbacks",
		metric.WithDescription("View evaluations that fell back from incremental to full snapshot diff"),
		metric.WithUnit("{evaluation}"),
	)
	viewMetrics.emissions, _ = m.Int64Counter("spectre.view.emissions",
		metric.WithDescription("View updates emitted"),
		metric.WithUnit("{update}"),
	)
}

func recordSnapshotFallback() {
	viewMetrics.snapshotFallbacks.Add(context.Background(), 1)
}

func recordEmission() {
	viewMetrics.emissions.Add(context.Background(), 1)
}
