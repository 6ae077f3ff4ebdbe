package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Instruments are the counters, histogram and tracer used by the reconciler.
type Instruments struct {
	Tracer trace.Tracer

	runs       metric.Int64Counter
	fallbacks  metric.Int64Counter
	discarded  metric.Int64Counter
	resolution metric.Float64Histogram
}

// NewInstruments builds instruments from the given providers. Nil providers fall back to no-op.
func NewInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	meter := mp.Meter(scopeName)
	in := &Instruments{Tracer: tp.Tracer(scopeName)}
	var err error
	if in.runs, err = meter.Int64Counter("reconcile.runs",
		metric.WithDescription("Reconciliation runs by outcome.")); err != nil {
		return nil, err
	}
	if in.fallbacks, err = meter.Int64Counter("reconcile.fallbacks",
		metric.WithDescription("Fallback users published.")); err != nil {
		return nil, err
	}
	if in.discarded, err = meter.Int64Counter("reconcile.discarded",
		metric.WithDescription("Results dropped for a stale generation.")); err != nil {
		return nil, err
	}
	if in.resolution, err = meter.Float64Histogram("reconcile.resolution.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent resolving a profile.")); err != nil {
		return nil, err
	}
	return in, nil
}

// NopInstruments returns instruments backed by no-op providers.
func NopInstruments() *Instruments {
	in, _ := NewInstruments(nil, nil)
	return in
}

// Run records a completed reconciliation run.
func (in *Instruments) Run(ctx context.Context, outcome string) {
	in.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Fallback records a published fallback user.
func (in *Instruments) Fallback(ctx context.Context, reason string) {
	in.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Discarded records a stale result.
func (in *Instruments) Discarded(ctx context.Context) {
	in.discarded.Add(ctx, 1)
}

// Resolution records how long a resolution took.
func (in *Instruments) Resolution(ctx context.Context, d time.Duration, ok bool) {
	in.resolution.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}
