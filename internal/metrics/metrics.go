// Package metrics exposes Prometheus collectors for submission processing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

const namespace = "featurefactory"

// Metrics records submission outcomes, stage latencies and executor attempts.
// It implements session.Observer.
type Metrics struct {
	submissions *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	attempts    *prometheus.CounterVec
	attemptTime prometheus.Histogram
	scores      *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Feature submissions by operation and outcome",
		}, []string{"operation", "outcome"}),

		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each submission stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		}, []string{"stage"}),

		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_attempts_total",
			Help:      "Feature execution attempts by result",
		}, []string{"result"}),

		attemptTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_attempt_duration_seconds",
			Help:      "Duration of a single feature execution attempt",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		scores: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feature_score",
			Help:      "Primary score of accepted features",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"problem"}),
	}
}

// ObserveSubmission counts a finished submission. outcome is "persisted",
// "existing" or a failure kind.
func (m *Metrics) ObserveSubmission(operation, outcome string) {
	m.submissions.WithLabelValues(operation, outcome).Inc()
}

// ObserveStage records the time spent in a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveAttempt records one executor attempt. result is "ok" or a failure kind.
func (m *Metrics) ObserveAttempt(result string, d time.Duration) {
	m.attempts.WithLabelValues(result).Inc()
	m.attemptTime.Observe(d.Seconds())
}

// OnAttempt adapts ObserveAttempt to the executor's per-attempt hook.
func (m *Metrics) OnAttempt(_ int, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case core.KindOf(err) != "":
		result = string(core.KindOf(err))
	default:
		result = "error"
	}
	m.ObserveAttempt(result, elapsed)
}

// ObserveScore records the primary score of a persisted feature.
func (m *Metrics) ObserveScore(problem string, score float64) {
	m.scores.WithLabelValues(problem).Observe(score)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
