// Package metrics holds the Prometheus collectors of the ingestion pipeline.
//
// Collectors are registered on the Registerer passed to New, so tests can use
// an isolated prometheus.NewRegistry(). All methods are no-ops on a nil
// *Pipeline; components take an optional *Pipeline and call it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "clipfeed"
	subsystem = "pipeline"
)

// Pipeline groups the pipeline collectors.
type Pipeline struct {
	// BatchesTotal counts completed batches.
	BatchesTotal prometheus.Counter

	// SamplesTotal counts samples written into batches.
	SamplesTotal prometheus.Counter

	// DecodeFailuresTotal counts skipped or fatal decode failures.
	// Labels: category (not_found, insufficient_frames, codec, unknown)
	DecodeFailuresTotal *prometheus.CounterVec

	// FillDurationSeconds is the wall time to fill one batch.
	FillDurationSeconds prometheus.Histogram

	// StageDurationSeconds splits fill time per stage.
	// Labels: stage (read, transform)
	StageDurationSeconds *prometheus.HistogramVec

	// ConsumerWaitSeconds is the time Consume blocked waiting for a ready batch.
	ConsumerWaitSeconds prometheus.Histogram

	// ReadyBuffers is the number of filled batches waiting for the consumer.
	ReadyBuffers prometheus.Gauge

	// Epoch is the current pass over the dataset.
	Epoch prometheus.Gauge
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// New creates and registers the collectors on reg.
// Panics on duplicate registration, like promauto.
func New(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Total batches filled",
		}),
		SamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_total",
			Help:      "Total samples written into batches",
		}),
		DecodeFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_failures_total",
			Help:      "Total sample decode failures by category",
		}, []string{"category"}),
		FillDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fill_duration_seconds",
			Help:      "Time to fill one batch",
			Buckets:   durationBuckets,
		}),
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Per-batch time spent in each fill stage",
			Buckets:   durationBuckets,
		}, []string{"stage"}),
		ConsumerWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consumer_wait_seconds",
			Help:      "Time the consumer blocked waiting for a ready batch",
			Buckets:   durationBuckets,
		}),
		ReadyBuffers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ready_buffers",
			Help:      "Filled batches waiting for the consumer",
		}),
		Epoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "epoch",
			Help:      "Current pass over the dataset",
		}),
	}
}

// ObserveFill records one completed batch.
func (p *Pipeline) ObserveFill(d time.Duration, samples int) {
	if p == nil {
		return
	}
	p.BatchesTotal.Inc()
	p.SamplesTotal.Add(float64(samples))
	p.FillDurationSeconds.Observe(d.Seconds())
}

// ObserveStage records time spent in one fill stage ("read", "transform").
func (p *Pipeline) ObserveStage(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// DecodeFailure counts one failed sample.
func (p *Pipeline) DecodeFailure(category string) {
	if p == nil {
		return
	}
	p.DecodeFailuresTotal.WithLabelValues(category).Inc()
}

// ObserveWait records consumer blocking time.
func (p *Pipeline) ObserveWait(d time.Duration) {
	if p == nil {
		return
	}
	p.ConsumerWaitSeconds.Observe(d.Seconds())
}

// SetReady publishes the ready-queue depth.
func (p *Pipeline) SetReady(n int) {
	if p == nil {
		return
	}
	p.ReadyBuffers.Set(float64(n))
}

// SetEpoch publishes the current epoch.
func (p *Pipeline) SetEpoch(epoch int) {
	if p == nil {
		return
	}
	p.Epoch.Set(float64(epoch))
}
