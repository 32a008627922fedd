// Package metrics exposes the engine's counters through the global
// OpenTelemetry meter. With no meter provider installed the calls are
// no-ops, so tests and one-shot jobs need no wiring.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/vibast-solutions/ms-go-collections"

var (
	initOnce       sync.Once
	attemptCounter metric.Int64Counter
	failureCounter metric.Int64Counter
)

func instruments() (metric.Int64Counter, metric.Int64Counter) {
	initOnce.Do(func() {
		meter := otel.Meter(scope)
		attemptCounter, _ = meter.Int64Counter(
			"collection_attempts_total",
			metric.WithDescription("Collection attempts by outcome"),
		)
		failureCounter, _ = meter.Int64Counter(
			"collection_failures_total",
			metric.WithDescription("Collection failures by reason"),
		)
	})
	return attemptCounter, failureCounter
}

func CollectionSuccess(ctx context.Context, trigger string) {
	attempts, _ := instruments()
	attempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", "success"), attribute.String("trigger", trigger)))
}

// CollectionFailure records one failure with its branch-specific reason.
func CollectionFailure(ctx context.Context, trigger, reason string) {
	attempts, failures := instruments()
	attempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", "failure"), attribute.String("trigger", trigger)))
	failures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason), attribute.String("trigger", trigger)))
}
