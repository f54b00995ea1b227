// Package metrics exposes the Prometheus collectors served on
// /metrics: outbox publish lag, job retry counts, token renewals, and
// rate-limiter queue depth. Grounded on email-service/app/metrics'
// client_golang usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector this service registers.
type Registry struct {
	Registerer prometheus.Registerer

	OutboxPublishLagSeconds prometheus.Histogram
	OutboxDeadLettered      prometheus.Counter

	JobRetries  *prometheus.CounterVec
	JobDeadLettered prometheus.Counter

	TokenRenewals     prometheus.Counter
	TokenRenewalErrors *prometheus.CounterVec

	RateLimiterQueueDepth prometheus.Gauge
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// global default registerer.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Registerer: reg,
		OutboxPublishLagSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailblast",
			Subsystem: "outbox",
			Name:      "publish_lag_seconds",
			Help:      "Time between an outbox row's creation and its successful publish.",
			Buckets:   prometheus.DefBuckets,
		}),
		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "outbox",
			Name:      "dead_lettered_total",
			Help:      "Outbox rows moved to the audit dead-letter table after exhausting publish attempts.",
		}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "worker",
			Name:      "job_retries_total",
			Help:      "Mailing job retries, labeled by retry tier.",
		}, []string{"tier"}),
		JobDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "worker",
			Name:      "job_dead_lettered_total",
			Help:      "Mailing jobs routed to the terminal DLQ after exhausting retries.",
		}),
		TokenRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "token",
			Name:      "renewals_total",
			Help:      "Successful auth token renewals.",
		}),
		TokenRenewalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "token",
			Name:      "renewal_errors_total",
			Help:      "Failed auth token renewal attempts, labeled by cause.",
		}, []string{"cause"}),
		RateLimiterQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mailblast",
			Subsystem: "ratelimiter",
			Name:      "queue_depth",
			Help:      "Number of send calls currently queued behind the rate limiter.",
		}),
	}

	reg.MustRegister(
		r.OutboxPublishLagSeconds,
		r.OutboxDeadLettered,
		r.JobRetries,
		r.JobDeadLettered,
		r.TokenRenewals,
		r.TokenRenewalErrors,
		r.RateLimiterQueueDepth,
	)

	return r
}

// IncTokenRenewals implements token.Metrics.
func (r *Registry) IncTokenRenewals() {
	r.TokenRenewals.Inc()
}

// SetTokenRenewalError implements token.Metrics.
func (r *Registry) SetTokenRenewalError(cause string) {
	r.TokenRenewalErrors.WithLabelValues(cause).Inc()
}

// IncJobRetry implements worker.Metrics.
func (r *Registry) IncJobRetry(tier string) {
	r.JobRetries.WithLabelValues(tier).Inc()
}

// IncJobDeadLettered implements worker.Metrics.
func (r *Registry) IncJobDeadLettered() {
	r.JobDeadLettered.Inc()
}

// ObserveOutboxPublishLag implements outbox.Metrics.
func (r *Registry) ObserveOutboxPublishLag(seconds float64) {
	r.OutboxPublishLagSeconds.Observe(seconds)
}

// IncOutboxDeadLettered implements outbox.Metrics.
func (r *Registry) IncOutboxDeadLettered() {
	r.OutboxDeadLettered.Inc()
}

// SetRateLimiterQueueDepth implements ratelimiter.Metrics.
func (r *Registry) SetRateLimiterQueueDepth(n int) {
	r.RateLimiterQueueDepth.Set(float64(n))
}
