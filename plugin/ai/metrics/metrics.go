// Package metrics records answer pipeline telemetry as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the telemetry sink used by retrieval, answering and training.
type Recorder interface {
	// RecordRetrieval records one retrieval pass.
	RecordRetrieval(capability string, latency time.Duration, results int, searchFailed bool)

	// RecordAnswer records the outcome of one answer request.
	RecordAnswer(capability string, outcome string, latency time.Duration)

	// RecordTrainingDrop counts a training sample that was not persisted.
	RecordTrainingDrop(reason string)
}

// Answer outcomes.
const (
	OutcomeAnswered     = "answered"
	OutcomeRefused      = "refused"
	OutcomeFallback     = "fallback"
	OutcomeFailed       = "failed"
	OutcomeReplayed     = "replayed"
	OutcomeInvalidInput = "invalid"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	retrievalLatency *prometheus.HistogramVec
	retrievalResults *prometheus.HistogramVec
	searchFailures   *prometheus.CounterVec
	answers          *prometheus.CounterVec
	answerLatency    *prometheus.HistogramVec
	trainingDrops    *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		retrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketsense",
			Subsystem: "retrieval",
			Name:      "latency_seconds",
			Help:      "Latency of context retrieval including embedding and search.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
		retrievalResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketsense",
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of candidates returned by a retrieval pass.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"capability"}),
		searchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsense",
			Subsystem: "retrieval",
			Name:      "search_failures_total",
			Help:      "Hybrid search calls that failed and degraded to an empty result.",
		}, []string{"capability"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsense",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Answer requests by capability and outcome.",
		}, []string{"capability", "outcome"}),
		answerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketsense",
			Subsystem: "answer",
			Name:      "latency_seconds",
			Help:      "End to end answer latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}, []string{"capability"}),
		trainingDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsense",
			Subsystem: "training",
			Name:      "dropped_total",
			Help:      "Training samples that were not persisted.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		r.retrievalLatency, r.retrievalResults, r.searchFailures,
		r.answers, r.answerLatency, r.trainingDrops,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) RecordRetrieval(capability string, latency time.Duration, results int, searchFailed bool) {
	r.retrievalLatency.WithLabelValues(capability).Observe(latency.Seconds())
	r.retrievalResults.WithLabelValues(capability).Observe(float64(results))
	if searchFailed {
		r.searchFailures.WithLabelValues(capability).Inc()
	}
}

func (r *PrometheusRecorder) RecordAnswer(capability string, outcome string, latency time.Duration) {
	r.answers.WithLabelValues(capability, outcome).Inc()
	r.answerLatency.WithLabelValues(capability).Observe(latency.Seconds())
}

func (r *PrometheusRecorder) RecordTrainingDrop(reason string) {
	r.trainingDrops.WithLabelValues(reason).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRetrieval(string, time.Duration, int, bool) {}

func (Nop) RecordAnswer(string, string, time.Duration) {}

func (Nop) RecordTrainingDrop(string) {}
