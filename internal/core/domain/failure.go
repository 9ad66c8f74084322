package domain

import (
	"time"
)

// FailureKind classifies a backend failure for the circuit breaker and the
// failure window. Adapters map native errors onto this set.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection"
	FailureRateLimit   FailureKind = "rate_limit"
	FailureAuth        FailureKind = "auth"
	FailureServerError FailureKind = "server_error"
	FailureClientError FailureKind = "client_error"
	FailureOther       FailureKind = "other"
)

// Retryable reports whether a failure of this kind may be retried on another
// backend (or, for transport errors, the same one).
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureConnection, FailureRateLimit, FailureServerError:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to a failure kind, per the shared
// adapter contract. 2xx codes never reach this function.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status == 401 || status == 403:
		return FailureAuth
	case status == 408 || status == 504:
		return FailureTimeout
	case status == 409 || status == 425 || status == 429:
		return FailureRateLimit
	case status == 400 || status == 404 || status == 422:
		return FailureClientError
	case status >= 500:
		return FailureServerError
	case status >= 400:
		return FailureClientError
	default:
		return FailureOther
	}
}

// FailureRecord is one entry in a backend's sliding failure window.
type FailureRecord struct {
	Timestamp time.Time
	Kind      FailureKind
	Backend   string
}

// FailureWindowSize bounds the per-backend sliding window.
const FailureWindowSize = 20
