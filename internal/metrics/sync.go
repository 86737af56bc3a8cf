package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics records sync cycle health.
type SyncMetrics interface {
	// RecordCycle records one finished cycle. Status is "success", "error" or "skipped".
	RecordCycle(ctx context.Context, domain, status string, duration time.Duration)
	// RecordOutcomes adds count push outcomes of one kind ("accepted", "conflict", ...).
	RecordOutcomes(ctx context.Context, domain, outcome string, count int)
	// RecordApplied adds count pulled records by apply result ("inserted", "kept_local", ...).
	RecordApplied(ctx context.Context, domain, result string, count int)
}

type syncMetrics struct {
	cycleCounter   metric.Int64Counter
	cycleDuration  metric.Float64Histogram
	outcomeCounter metric.Int64Counter
	appliedCounter metric.Int64Counter
}

// NewSyncMetrics creates SyncMetrics on the given meter provider.
func NewSyncMetrics(meterProvider metric.MeterProvider, namespace string) (SyncMetrics, error) {
	meter := meterProvider.Meter(namespace)

	cycleCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_sync_cycles_total", namespace),
		metric.WithDescription("Total number of sync cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle counter: %w", err)
	}

	cycleDuration, err := meter.Float64Histogram(
		fmt.Sprintf("%s_sync_cycle_duration_seconds", namespace),
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	outcomeCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_sync_push_outcomes_total", namespace),
		metric.WithDescription("Push outcomes by kind"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome counter: %w", err)
	}

	appliedCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_sync_pulled_records_total", namespace),
		metric.WithDescription("Pulled records by apply result"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create applied counter: %w", err)
	}

	return &syncMetrics{
		cycleCounter:   cycleCounter,
		cycleDuration:  cycleDuration,
		outcomeCounter: outcomeCounter,
		appliedCounter: appliedCounter,
	}, nil
}

func (s *syncMetrics) RecordCycle(ctx context.Context, domain, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("status", status),
	)
	s.cycleCounter.Add(ctx, 1, attrs)
	s.cycleDuration.Record(ctx, duration.Seconds(), attrs)
}

func (s *syncMetrics) RecordOutcomes(ctx context.Context, domain, outcome string, count int) {
	if count <= 0 {
		return
	}
	s.outcomeCounter.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("outcome", outcome),
	))
}

func (s *syncMetrics) RecordApplied(ctx context.Context, domain, result string, count int) {
	if count <= 0 {
		return
	}
	s.appliedCounter.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("result", result),
	))
}

// NoOpSyncMetrics discards everything.
type NoOpSyncMetrics struct{}

// NewNoOpSyncMetrics creates a no-op SyncMetrics implementation.
func NewNoOpSyncMetrics() SyncMetrics {
	return &NoOpSyncMetrics{}
}

// RecordCycle does nothing.
func (n *NoOpSyncMetrics) RecordCycle(ctx context.Context, domain, status string, duration time.Duration) {}

// RecordOutcomes does nothing.
func (n *NoOpSyncMetrics) RecordOutcomes(ctx context.Context, domain, outcome string, count int) {}

// RecordApplied does nothing.
func (n *NoOpSyncMetrics) RecordApplied(ctx context.Context, domain, result string, count int) {}
