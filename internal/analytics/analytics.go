// Package analytics implements spec.md §4.I: a fire-and-forget metric and
// event writer used by orchestrators to record provider-chain outcomes and
// by queue consumers to record per-message outcomes. Failures are
// swallowed — an analytics write must never fail the operation it's
// describing.
//
// Grounded on the teacher's internal/metrics.go controllerMetrics/
// cacheMetrics (Prometheus CounterVec/GaugeVec per subsystem, constructed
// against a shared *prometheus.Registry, with Write-based getters exposed
// for tests) — generalized from "controller operation"/"cache hit-miss" to
// "orchestrator chain"/"queue outcome"/"batch savings".
package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jukasdrj/alexandria/internal/cover"
	"github.com/jukasdrj/alexandria/internal/orchestrate"
)

const namespace = "alexandria"

// Emitter implements orchestrate.Recorder plus the queue package's
// CoverAnalytics/EnrichmentAnalytics interfaces against a shared Prometheus
// registry.
type Emitter struct {
	chainTotals    *prometheus.CounterVec
	chainLatency   *prometheus.HistogramVec
	chainAttempts  *prometheus.HistogramVec
	coverTotals    *prometheus.CounterVec
	coverLatency   *prometheus.HistogramVec
	coverBytes     *prometheus.HistogramVec
	batchCallTotal prometheus.Counter
	batchSaved     prometheus.Counter
}

// New constructs an Emitter and registers its collectors against reg. reg
// may be nil, in which case metrics are computed but never exported
// (useful for tests that only want the Write-based getters).
func New(reg *prometheus.Registry) *Emitter {
	e := &Emitter{
		chainTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrate",
			Name:      "chain_total",
			Help:      "Completed provider-chain orchestrations by operation and outcome.",
		}, []string{"operation", "successful_provider"}),
		chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrate",
			Name:      "chain_latency_ms",
			Help:      "Total latency of a provider-chain orchestration, in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation"}),
		chainAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrate",
			Name:      "chain_attempts",
			Help:      "Number of provider attempts per orchestration.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"operation"}),
		coverTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "processed_total",
			Help:      "Cover Processor outcomes by status.",
		}, []string{"status"}),
		coverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "total_latency_ms",
			Help:      "Total latency of a cover processing run, in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"status"}),
		coverBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "compressed_bytes",
			Help:      "Compressed cover size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 10),
		}, []string{"status"}),
		batchCallTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "batch_calls_total",
			Help:      "Batched upstream metadata calls made by the enrichment consumer.",
		}),
		batchSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "batch_calls_saved_total",
			Help:      "Nominal per-ISBN calls saved by batching (N-1 per batch call).",
		}),
	}
	if reg != nil {
		reg.MustRegister(e.chainTotals, e.chainLatency, e.chainAttempts,
			e.coverTotals, e.coverLatency, e.coverBytes,
			e.batchCallTotal, e.batchSaved)
	}
	return e
}

var _ orchestrate.Recorder = (*Emitter)(nil)

// RecordChain implements orchestrate.Recorder.
func (e *Emitter) RecordChain(_ context.Context, c orchestrate.Chain) {
	e.chainTotals.WithLabelValues(c.Operation, c.SuccessfulProvider).Inc()
	e.chainLatency.WithLabelValues(c.Operation).Observe(float64(c.TotalLatency.Milliseconds()))
	e.chainAttempts.WithLabelValues(c.Operation).Observe(float64(len(c.Attempts)))
}

// RecordCoverProcessed implements queue.CoverAnalytics.
func (e *Emitter) RecordCoverProcessed(_ context.Context, _ string, m cover.Metrics, status cover.Status) {
	e.coverTotals.WithLabelValues(string(status)).Inc()
	e.coverLatency.WithLabelValues(string(status)).Observe(float64(m.TotalMS))
	if m.CompressedBytes > 0 {
		e.coverBytes.WithLabelValues(string(status)).Observe(float64(m.CompressedBytes))
	}
}

// RecordBatchCallSavings implements queue.EnrichmentAnalytics.
func (e *Emitter) RecordBatchCallSavings(_ context.Context, _, callsSaved int) {
	e.batchCallTotal.Inc()
	if callsSaved > 0 {
		e.batchSaved.Add(float64(callsSaved))
	}
}

// ChainTotalGet reads back the counter for one operation/successful-provider
// pair, mirroring the teacher's Write-based getters used by its own tests.
func (e *Emitter) ChainTotalGet(operation, successfulProvider string) float64 {
	m := &dto.Metric{}
	if err := e.chainTotals.WithLabelValues(operation, successfulProvider).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// CoverTotalGet reads back the counter for one cover status.
func (e *Emitter) CoverTotalGet(status cover.Status) float64 {
	m := &dto.Metric{}
	if err := e.coverTotals.WithLabelValues(string(status)).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// BatchCallsSavedGet reads back the cumulative calls-saved counter.
func (e *Emitter) BatchCallsSavedGet() float64 {
	m := &dto.Metric{}
	if err := e.batchSaved.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
