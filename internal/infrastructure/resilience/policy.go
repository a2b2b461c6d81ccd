package resilience

import (
	"cmp"
	"time"
)

// Operation names for the outbound calls docflow guards. Each name gets its
// own circuit breaker and shows up as the "operation" metric label.
const (
	OpNotificationPublish = "nats.publish"
	OpAccessBroadcast     = "nats.access_broadcast"
	OpExpiryEnqueue       = "asynq.enqueue"
	OpObjectPut           = "s3.put"
	OpObjectGet           = "s3.get"
	OpObjectDelete        = "s3.delete"
	OpBucketEnsure        = "s3.ensure_bucket"
)

// Policy overrides the executor defaults for a single operation.
type Policy struct {
	// SingleAttempt disables retries; the breaker still sees the outcome.
	SingleAttempt bool
	// Classifier is used when the caller passes none.
	Classifier ErrorClassifier
}

// Config tunes retries and the per-operation circuit breaker that guard
// calls to NATS, object storage and the job queue.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// Policies is merged over DefaultPolicies.
	Policies map[string]Policy

	// OnStateChange and OnRetry are optional telemetry hooks.
	OnStateChange func(operation, from, to string)
	OnRetry       func(operation string, attempt int)
}

// DefaultPolicies keeps uploads to one attempt: the document body is a
// stream that cannot be rewound.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		OpObjectPut: {SingleAttempt: true},
	}
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func positiveOr[T cmp.Ordered](v, fallback T) T {
	var zero T
	if v <= zero {
		return fallback
	}
	return v
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = positiveOr(c.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = positiveOr(c.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(positiveOr(c.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	out.BreakerMinRequests = positiveOr(c.BreakerMinRequests, def.BreakerMinRequests)
	out.BreakerOpenTimeout = positiveOr(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = positiveOr(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}

	out.Policies = DefaultPolicies()
	for op, p := range c.Policies {
		out.Policies[op] = p
	}

	if out.OnStateChange == nil {
		out.OnStateChange = func(string, string, string) {}
	}
	if out.OnRetry == nil {
		out.OnRetry = func(string, int) {}
	}
	return out
}
