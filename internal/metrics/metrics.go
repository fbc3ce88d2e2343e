// Package metrics exposes Prometheus counters for the intake-to-reply
// pipeline. Registered on the default registry and served by the gateway at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_events_ingested_total",
		Help: "Raw events accepted by the filter and persisted.",
	}, []string{"source"})

	EventsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_events_suppressed_total",
		Help: "Raw events rejected by the noise filter.",
	}, []string{"source"})

	EventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_events_discarded_total",
		Help: "Raw events the normalizer could not map (malformed).",
	}, []string{"source"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_events_dropped_total",
		Help: "Raw events dropped because the intake buffer was full.",
	}, []string{"source"})

	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_messages_processed_total",
		Help: "Messages advanced from received to processed by the brain.",
	}, []string{"bucket"})

	ProcessingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilgate_processing_failures_total",
		Help: "Transient classify/generate failures (retried with backoff).",
	})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_dispatch_total",
		Help: "Dispatch attempts by outcome (sent, dismissed, error, no_channel).",
	}, []string{"outcome"})

	AutoResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilgate_auto_responses_total",
		Help: "Replies dispatched by the auto-respond timer.",
	})

	PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_poll_failures_total",
		Help: "Failed poll cycles per integration source.",
	}, []string{"source"})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilgate_poll_cycles_total",
		Help: "Completed poll cycles per integration source.",
	}, []string{"source"})
)
