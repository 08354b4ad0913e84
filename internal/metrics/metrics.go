// Package metrics exposes the Prometheus counters/gauges SPEC_FULL.md's
// domain stack commits the pipeline to: rate-limiter wait time, per-slice
// retry counts, and each job's overall_percent, sitting alongside (not
// instead of) ProgressReporter's on-disk snapshot and in-memory registry.
// Grounded on the pack's standard client_golang + promauto construction
// (a direct dependency of both lookatitude-beluga-ai and
// tphakala-birdnet-go, though neither pack repo wires it outside tests).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the pipeline reports. The zero value is not
// usable; construct with New.
type Registry struct {
	RateLimiterWaitSeconds prometheus.Histogram
	SliceRetries           *prometheus.CounterVec
	SliceOutcomes          *prometheus.CounterVec
	JobOverallPercent      *prometheus.GaugeVec
	JobsCompleted          *prometheus.CounterVec
}

// New constructs a Registry registered against reg. Pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer to back a process-wide /metrics endpoint.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RateLimiterWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearing_transcribe",
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent blocked acquiring a rate limiter token before a slice submission.",
			Buckets:   prometheus.DefBuckets,
		}),
		SliceRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearing_transcribe",
			Name:      "slice_retries_total",
			Help:      "Retry attempts per slice, labeled by the classified error kind.",
		}, []string{"kind"}),
		SliceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearing_transcribe",
			Name:      "slice_outcomes_total",
			Help:      "Terminal outcomes per slice submission.",
		}, []string{"outcome"}),
		JobOverallPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hearing_transcribe",
			Name:      "job_overall_percent",
			Help:      "Most recently published overall_percent for a job.",
		}, []string{"job_id"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearing_transcribe",
			Name:      "jobs_completed_total",
			Help:      "Completed jobs, labeled by terminal success/failure.",
		}, []string{"result"}),
	}
}

// ObserveRateLimiterWait records time spent blocked in RateLimiter.Acquire.
func (r *Registry) ObserveRateLimiterWait(seconds float64) {
	if r == nil {
		return
	}
	r.RateLimiterWaitSeconds.Observe(seconds)
}

// IncSliceRetry records one retry attempt for an apierr.Kind (passed as
// its String() form to avoid an import cycle on apierr).
func (r *Registry) IncSliceRetry(kind string) {
	if r == nil {
		return
	}
	r.SliceRetries.WithLabelValues(kind).Inc()
}

// IncSliceOutcome records a slice's terminal outcome ("succeeded",
// "failed", "rejected").
func (r *Registry) IncSliceOutcome(outcome string) {
	if r == nil {
		return
	}
	r.SliceOutcomes.WithLabelValues(outcome).Inc()
}

// SetJobOverallPercent publishes a job's latest overall_percent.
func (r *Registry) SetJobOverallPercent(jobID string, percent float64) {
	if r == nil {
		return
	}
	r.JobOverallPercent.WithLabelValues(jobID).Set(percent)
}

// IncJobCompleted records one job's terminal result ("success" or "failure").
func (r *Registry) IncJobCompleted(result string) {
	if r == nil {
		return
	}
	r.JobsCompleted.WithLabelValues(result).Inc()
}
