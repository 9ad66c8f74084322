package domain

// BreakerState is the circuit breaker state for one backend.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

func (s BreakerState) String() string { return string(s) }

// RecoveryStrategy is the wait policy a breaker emits alongside its admission
// decision; the router uses it to schedule the next attempt.
type RecoveryStrategy string

const (
	StrategyImmediateRetry     RecoveryStrategy = "immediate_retry"
	StrategyLinearBackoff      RecoveryStrategy = "linear_backoff"
	StrategyExponentialBackoff RecoveryStrategy = "exponential_backoff"
	StrategyCircuitOpen        RecoveryStrategy = "circuit_open"
)
