// Package ports defines the interfaces between the request-execution core and
// its adapters. Components accept these interfaces and return concrete types.
package ports

import (
	"context"
	"time"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// BackendAdapter is the per-provider capability set. Implementations form a
// closed variant set (openai-compatible, anthropic, ollama); new providers are
// added as new variants.
type BackendAdapter interface {
	Name() string
	Provider() domain.ProviderKind
	Config() domain.BackendConfig

	// Send executes one generation call. Errors are always classified
	// (*domain.Error). Latency is measured from send to final token parsed.
	Send(ctx context.Context, prompt string, opts domain.EffectiveOptions) (*domain.Response, error)

	// ProbeHealth performs a cheap authenticated probe with a hard 3s deadline.
	ProbeHealth(ctx context.Context) domain.ProbeResult

	// EstimateCost computes EUR cost from token counts.
	EstimateCost(tokensIn, tokensOut int) float64

	ValidateConfig() []domain.ConfigIssue
	Supports(option string) bool
}

// RAGProvider is an external retrieval backend.
type RAGProvider interface {
	Name() string
	Query(ctx context.Context, req *domain.RAGRequest) (*domain.RAGResponse, error)
	HealthCheck(ctx context.Context) bool
	Connect(ctx context.Context) error
	Disconnect() error
	Status() domain.RAGProviderStatus
}

// ColdStore is the persistent cache tier. Its absence or failure must never
// affect correctness; callers absorb errors.
type ColdStore interface {
	Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Delete(ctx context.Context, fingerprint string) error
	Compact(ctx context.Context) (removed int64, err error)
	Close() error
}

// StatsCollector receives every observable event in the core.
type StatsCollector interface {
	RecordRequest(backend string, success bool, kind domain.FailureKind, latency time.Duration)
	RecordTokens(backend string, tokensIn, tokensOut int, costEUR float64)
	RecordCache(hit bool)
	SetCacheSize(entries int64, bytes int64)
	RecordBreakerTransition(backend string, from, to domain.BreakerState)
	SetBreakerState(backend string, state domain.BreakerState)
	RecordRAG(queried, fellBack, failed bool)
	SetPoolSockets(active, free int64)
	AvgLatency(backend string) time.Duration
}

// HealthStore is the router's read view of backend health.
type HealthStore interface {
	Record(backend string) (domain.HealthRecord, bool)
	// RequestRefresh schedules an async probe if the record is stale. It never
	// blocks on the probe itself.
	RequestRefresh(backend string)
}
