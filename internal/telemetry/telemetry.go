// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package telemetry exposes the scheduler's Prometheus metrics and an
// OpenTelemetry tracer, both kept off the correctness path: nothing
// in internal/schedcore depends on a read from either, so disabling
// telemetry never changes scheduling behavior.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/reactor-rt/reactors/internal/tag"
)

// Collector groups the scheduler's Prometheus instruments. Construct
// one with NewCollector and register it with a prometheus.Registerer.
type Collector struct {
	TagsAdvanced    prometheus.Counter
	ReactionsRun    *prometheus.CounterVec
	ReactionLatency *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	CurrentOffset   prometheus.Gauge
}

// NewCollector builds a Collector with the given metric namespace
// (typically the program name).
func NewCollector(namespace string) *Collector {
	return &Collector{
		TagsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tags_advanced_total",
			Help:      "Number of distinct logical tags the scheduler has processed.",
		}),
		ReactionsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_run_total",
			Help:      "Number of reaction invocations, labeled by reactor name.",
		}, []string{"reactor"}),
		ReactionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaction_duration_seconds",
			Help:      "Wall-clock duration of a single reaction invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"reactor"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Number of pending events in the scheduler's event queue.",
		}),
		CurrentOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "logical_offset_nanoseconds",
			Help:      "The scheduler's current logical-time offset.",
		}),
	}
}

// MustRegister registers every instrument with reg, panicking on a
// duplicate-registration error as prometheus's own MustRegister does.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.TagsAdvanced,
		c.ReactionsRun,
		c.ReactionLatency,
		c.QueueDepth,
		c.CurrentOffset,
	)
}

// ObserveTag records that the scheduler has advanced to tg.
func (c *Collector) ObserveTag(tg tag.Tag) {
	c.TagsAdvanced.Inc()
	c.CurrentOffset.Set(float64(tg.Offset))
}

// NewTracerProvider builds an SDK tracer provider that samples every
// span, installs it as the global provider, and returns it so the
// caller can flush/shut it down on exit. A program that never calls
// this keeps the package-level no-op tracer, so tracing stays strictly
// opt-in.
func NewTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer is the scheduler's OpenTelemetry tracer, used to wrap a
// single reaction's invocation in a span.
var Tracer = otel.Tracer("github.com/reactor-rt/reactors/internal/schedcore")

// StartReactionSpan opens a span for one reaction invocation at tg,
// returning the derived context and the span to end when the reaction
// returns.
func StartReactionSpan(ctx context.Context, reactorName string, tg tag.Tag) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "reaction.run",
		trace.WithAttributes(
			attribute.String("reactor", reactorName),
			attribute.Int64("tag.offset", int64(tg.Offset)),
			attribute.Int64("tag.microstep", int64(tg.Microstep)),
		),
	)
}
