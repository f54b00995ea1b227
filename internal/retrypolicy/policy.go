// Package retrypolicy is a pure function library implementing §4.8:
// classify an observed error, compute a jittered exponential backoff,
// and decide retry vs DLQ. It has no side effects and no dependency
// on the broker or database, so it is exercised directly by unit
// tests. Outside tests, internal/emailclient uses ClassifyStatus
// (via Result.Classification), and internal/worker uses RowRetryDelays
// for its in-row 429 loop and RetryQueueForAttempt for job-level retry
// routing. The worker's job-level retry-vs-DLQ step compares the
// attempt count with MaxRetries itself; Decide and BackoffDelay have
// no caller outside this package's tests.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"
)

// Config holds the backoff parameters, defaulting to the values named
// in spec §4.8 and §6.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent int
}

// DefaultConfig returns the spec's default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      300 * time.Second,
		JitterPercent: 20,
	}
}

// Classification is the outcome of inspecting an HTTP status code or
// transport error against the table in spec §4.8.
type Classification int

const (
	// Retryable covers 408, 429, 5xx, network/timeout errors, or no
	// status at all (e.g. a connection failure before any response).
	Retryable Classification = iota
	// NonRetryable covers 4xx client errors the provider will never
	// accept on retry: 400, 401, 403, 404, 422.
	NonRetryable
)

// ClassifyStatus classifies an HTTP status code. hasStatus is false
// when the call failed before a status was ever received (e.g. a
// network error or timeout), which spec §4.8 treats as retryable.
func ClassifyStatus(status int, hasStatus bool) Classification {
	if !hasStatus {
		return Retryable
	}
	switch status {
	case 400, 401, 403, 404, 422:
		return NonRetryable
	case 408, 429:
		return Retryable
	}
	if status >= 500 {
		return Retryable
	}
	if status >= 200 && status < 300 {
		// Success is never asked to classify, but treat it as
		// non-retryable rather than panic if misused.
		return NonRetryable
	}
	return Retryable
}

// Decision is the retry-vs-DLQ verdict for a given attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide implements the decision table in spec §4.8: a non-retryable
// classification or an attempt count at/above maxRetries routes to
// DLQ; otherwise the message is retried after the computed delay.
func Decide(cfg Config, class Classification, attempt int) Decision {
	if class == NonRetryable {
		return Decision{Retry: false}
	}
	if attempt >= cfg.MaxRetries {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: BackoffDelay(cfg, attempt)}
}

// BackoffDelay computes delay = min(base * 2^(attempt-1), max) ± jitter%,
// per spec §4.8. attempt is 1-based for the purpose of this formula
// (the first retry is attempt=1); attempt<=0 is clamped to 1.
func BackoffDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(cfg.MaxDelay); raw > max {
		raw = max
	}

	if cfg.JitterPercent <= 0 {
		return time.Duration(raw)
	}
	jitterFrac := float64(cfg.JitterPercent) / 100.0
	// ±jitterFrac around raw, uniformly distributed.
	delta := raw * jitterFrac * (2*rand.Float64() - 1)
	result := raw + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// RowRetryDelays are the fixed local in-row backoff delays for the
// provider-level 429 loop described in §4.4 Step 5(d): 2s, 4s, 8s.
var RowRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// RetryQueueForAttempt implements §4.3/§4.4's retry-tier selection:
// retry.1 for the first retry (attempt 0 -> attempt 1), retry.2 for
// every subsequent retry. This is intentionally not a strict
// geometric progression — see the Open Question in spec §9.
func RetryQueueForAttempt(nextAttempt int) string {
	if nextAttempt <= 1 {
		return "retry1"
	}
	return "retry2"
}
