package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed error taxonomy surfaced at component boundaries.
type ErrorKind string

const (
	ErrConfigInvalid     ErrorKind = "config_invalid"
	ErrCredentialMissing ErrorKind = "credential_missing"
	ErrNoBackend         ErrorKind = "no_backend"
	ErrBackendAuth       ErrorKind = "backend_auth"
	ErrBackendRateLimit  ErrorKind = "backend_rate_limit"
	ErrBackendTimeout    ErrorKind = "backend_timeout"
	ErrBackendConnection ErrorKind = "backend_connection"
	ErrBackendServer     ErrorKind = "backend_server"
	ErrBackendClient     ErrorKind = "backend_client"
	ErrContextLength     ErrorKind = "context_length_exceeded"
	ErrCacheUnavailable  ErrorKind = "cache_unavailable"
	ErrRAGUnavailable    ErrorKind = "rag_unavailable"
	ErrCancelled         ErrorKind = "cancelled"
	ErrInternal          ErrorKind = "internal"
)

// retryableKinds is derived from the failure taxonomy: transport-level and
// capacity failures may be retried, everything else must not be.
var retryableKinds = map[ErrorKind]bool{
	ErrBackendTimeout:    true,
	ErrBackendRateLimit:  true,
	ErrBackendConnection: true,
	ErrBackendServer:     true,
}

// Error is the single classified error type crossing component boundaries.
// Message must never contain credentials; Cause is retained for logs only.
type Error struct {
	Cause     error
	Kind      ErrorKind
	Backend   string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Backend, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is matching against a bare kind sentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: retryableKinds[kind]}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

func NewBackendError(kind ErrorKind, backend, msg string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Backend:   backend,
		Message:   msg,
		Cause:     cause,
		Retryable: retryableKinds[kind],
	}
}

func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, Retryable: retryableKinds[kind]}
}

// AsError unwraps err to the classified form, mapping context cancellation to
// the cancelled kind and anything unclassified to internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrCancelled, "request cancelled", err)
	}
	return WrapError(ErrInternal, err.Error(), err)
}

// KindForFailure maps a breaker failure kind to the public error taxonomy.
func KindForFailure(k FailureKind) ErrorKind {
	switch k {
	case FailureTimeout:
		return ErrBackendTimeout
	case FailureConnection:
		return ErrBackendConnection
	case FailureRateLimit:
		return ErrBackendRateLimit
	case FailureAuth:
		return ErrBackendAuth
	case FailureServerError:
		return ErrBackendServer
	case FailureClientError:
		return ErrBackendClient
	default:
		return ErrInternal
	}
}

// FailureForKind is the inverse mapping used when updating the breaker from a
// classified error.
func FailureForKind(k ErrorKind) FailureKind {
	switch k {
	case ErrBackendTimeout:
		return FailureTimeout
	case ErrBackendConnection:
		return FailureConnection
	case ErrBackendRateLimit:
		return FailureRateLimit
	case ErrBackendAuth:
		return FailureAuth
	case ErrBackendServer:
		return FailureServerError
	case ErrBackendClient, ErrContextLength:
		return FailureClientError
	default:
		return FailureOther
	}
}
