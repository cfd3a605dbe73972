package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	trackerTracerName = "wesgateway.tracker"
	trackerMeterName  = "wesgateway.tracker"
)

// Telemetry instruments a run's tracking lifecycle: one span per run from
// dispatch to terminal state, plus counters/histograms for dashboards.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	activeRuns     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter

	mu       sync.RWMutex
	runSpans map[string]trace.Span
}

func NewTelemetry() (*Telemetry, error) {
	t := &Telemetry{
		tracer:   otel.Tracer(trackerTracerName),
		meter:    otel.Meter(trackerMeterName),
		runSpans: make(map[string]trace.Span),
	}

	var err error
	t.runCounter, err = t.meter.Int64Counter(
		"wesgateway_tracker_runs_total",
		metric.WithDescription("Total number of runs picked up by the tracker"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}

	t.runDuration, err = t.meter.Float64Histogram(
		"wesgateway_tracker_run_duration_seconds",
		metric.WithDescription("Duration a run spent being tracked, from dispatch to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run duration histogram: %w", err)
	}

	t.activeRuns, err = t.meter.Int64UpDownCounter(
		"wesgateway_tracker_runs_active",
		metric.WithDescription("Number of runs currently being polled by the tracker"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active runs counter: %w", err)
	}

	t.failureCounter, err = t.meter.Int64Counter(
		"wesgateway_tracker_failures_total",
		metric.WithDescription("Total number of tracker polling failures that exhausted their retry budget"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	return t, nil
}

// StartRunSpan opens a span for taskID and records the run as active.
func (t *Telemetry) StartRunSpan(ctx context.Context, taskID string) context.Context {
	ctx, span := t.tracer.Start(ctx, "tracker.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("wesgateway.task_id", taskID)),
	)

	t.mu.Lock()
	t.runSpans[taskID] = span
	t.mu.Unlock()

	t.runCounter.Add(ctx, 1)
	t.activeRuns.Add(ctx, 1)
	return ctx
}

// EndRunSpan closes taskID's span, recording final state and duration.
func (t *Telemetry) EndRunSpan(ctx context.Context, taskID string, finalState string, duration time.Duration, err error) {
	t.mu.Lock()
	span, exists := t.runSpans[taskID]
	if exists {
		delete(t.runSpans, taskID)
	}
	t.mu.Unlock()

	if !exists || span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("wesgateway.final_state", finalState),
		attribute.Float64("wesgateway.tracking_duration_seconds", duration.Seconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("wesgateway.final_state", finalState)))
	} else {
		span.SetStatus(codes.Ok, "tracking completed")
	}
	span.End()

	t.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("wesgateway.final_state", finalState)))
	t.activeRuns.Add(ctx, -1)
}
