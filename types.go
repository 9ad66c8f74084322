package claudette

import (
	"github.com/claudette-ai/claudette/internal/adapter/rag"
	"github.com/claudette-ai/claudette/internal/adapter/stats"
	"github.com/claudette-ai/claudette/internal/config"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/runtime"
)

// Re-exported domain types so consumers never import internal packages.
type (
	// Response is the immutable result of an Optimize call.
	Response = domain.Response

	// ResponseMetadata carries per-response diagnostics.
	ResponseMetadata = domain.ResponseMetadata

	// FileRef identifies an attached file by content hash.
	FileRef = domain.FileRef

	// ContextStrategy controls how retrieved context joins the prompt.
	ContextStrategy = domain.ContextStrategy

	// Error is the classified error returned at the API boundary.
	Error = domain.Error

	// ErrorKind is the closed error taxonomy.
	ErrorKind = domain.ErrorKind

	// Config is the validated library configuration.
	Config = config.Config

	// Report is the structured outcome of configuration validation.
	Report = config.Report

	// HealthSnapshot is the consumer-visible status view.
	HealthSnapshot = runtime.HealthSnapshot

	// BackendHealth is one backend's line in the health snapshot.
	BackendHealth = runtime.BackendHealth

	// Stats is the raw aggregate counter snapshot.
	Stats = stats.Snapshot

	// Embedder turns retrieval query text into a dense vector.
	Embedder = rag.Embedder
)

// Context strategies.
const (
	ContextPrepend = domain.ContextStrategyPrepend
	ContextAppend  = domain.ContextStrategyAppend
	ContextInject  = domain.ContextStrategyInject
)

// Error kinds surfaced to consumers.
const (
	ErrConfigInvalid     = domain.ErrConfigInvalid
	ErrCredentialMissing = domain.ErrCredentialMissing
	ErrNoBackend         = domain.ErrNoBackend
	ErrBackendAuth       = domain.ErrBackendAuth
	ErrBackendRateLimit  = domain.ErrBackendRateLimit
	ErrBackendTimeout    = domain.ErrBackendTimeout
	ErrBackendConnection = domain.ErrBackendConnection
	ErrBackendServer     = domain.ErrBackendServer
	ErrBackendClient     = domain.ErrBackendClient
	ErrContextLength     = domain.ErrContextLength
	ErrCacheUnavailable  = domain.ErrCacheUnavailable
	ErrRAGUnavailable    = domain.ErrRAGUnavailable
	ErrCancelled         = domain.ErrCancelled
	ErrInternal          = domain.ErrInternal
)

// DefaultConfig returns the configuration defaults with no backends.
func DefaultConfig() *Config {
	return config.Default()
}
