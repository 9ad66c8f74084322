// Package rag implements the retrieval orchestrator: a registry of providers,
// an ordered fallback chain and the context strategies that fold retrieved
// results into the prompt. Retrieval failures degrade gracefully; they are
// never fatal unless the caller asks for strict mode.
package rag

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

const defaultMaxResults = 5

// EnhanceResult is the outcome of one retrieval pass.
type EnhanceResult struct {
	Prompt   string
	Status   string // ok | empty | error | skipped
	Sources  []string
	Provider string
	FellBack bool
	Err      error
}

// Registry holds the configured providers and the fallback chain.
type Registry struct {
	providers *xsync.Map[string, ports.RAGProvider]
	logger    *slog.Logger

	mu              sync.RWMutex
	chain           []string
	defaultProvider string
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		providers: xsync.NewMap[string, ports.RAGProvider](),
		logger:    logger,
	}
}

// Register adds a provider under its unique name, replacing any previous one.
func (r *Registry) Register(p ports.RAGProvider) {
	r.providers.Store(p.Name(), p)
}

// SetChain installs the ordered fallback chain and optional default provider.
func (r *Registry) SetChain(chain []string, defaultProvider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain = append([]string(nil), chain...)
	r.defaultProvider = defaultProvider
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (ports.RAGProvider, bool) {
	return r.providers.Load(name)
}

// Statuses reports every registered provider's status.
func (r *Registry) Statuses() []domain.RAGProviderStatus {
	var out []domain.RAGProviderStatus
	r.providers.Range(func(_ string, p ports.RAGProvider) bool {
		out = append(out, p.Status())
		return true
	})
	return out
}

// DisconnectAll releases every provider; called on shutdown.
func (r *Registry) DisconnectAll() {
	r.providers.Range(func(name string, p ports.RAGProvider) bool {
		if err := p.Disconnect(); err != nil {
			r.logger.Debug("rag provider disconnect failed", "provider", name, "error", err)
		}
		return true
	})
}

// resolveChain picks the providers to try: a pinned provider alone, or the
// configured chain, or the default provider as a last resort.
func (r *Registry) resolveChain(pinned string) []string {
	if pinned != "" {
		return []string{pinned}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.chain) > 0 {
		return append([]string(nil), r.chain...)
	}
	if r.defaultProvider != "" {
		return []string{r.defaultProvider}
	}
	return nil
}

// Enhance runs the fallback chain for the request and applies the context
// strategy to the prompt. Unhealthy providers are skipped; the first success
// wins. Empty results are a success with the prompt unchanged.
func (r *Registry) Enhance(ctx context.Context, prompt string, opts domain.RequestOptions) EnhanceResult {
	query := opts.RAGQuery
	if query == "" {
		query = prompt
	}

	chain := r.resolveChain(opts.RAGProvider)
	if len(chain) == 0 {
		return EnhanceResult{
			Prompt: prompt,
			Status: domain.RAGStatusError,
			Err:    domain.NewError(domain.ErrRAGUnavailable, "no retrieval providers configured"),
		}
	}

	req := &domain.RAGRequest{
		Query:      query,
		MaxResults: defaultMaxResults,
	}

	var lastErr error
	fellBack := false
	for i, name := range chain {
		provider, ok := r.providers.Load(name)
		if !ok {
			lastErr = domain.NewErrorf(domain.ErrRAGUnavailable, "provider %q is not registered", name)
			continue
		}
		if !provider.HealthCheck(ctx) {
			r.logger.Debug("skipping unhealthy rag provider", "provider", name)
			fellBack = fellBack || i < len(chain)-1
			continue
		}

		start := time.Now()
		resp, err := provider.Query(ctx, req)
		if err != nil {
			lastErr = err
			fellBack = true
			r.logger.Warn("rag provider query failed",
				"provider", name, "latency", time.Since(start), "error", err)
			continue
		}

		if resp.Empty() {
			return EnhanceResult{Prompt: prompt, Status: domain.RAGStatusEmpty, Provider: name, FellBack: fellBack}
		}

		sources := make([]string, 0, len(resp.Results))
		for _, res := range resp.Results {
			if res.Source != "" {
				sources = append(sources, res.Source)
			}
		}

		return EnhanceResult{
			Prompt:   ApplyStrategy(opts.ContextStrategy, prompt, resp.Results),
			Status:   domain.RAGStatusOK,
			Sources:  sources,
			Provider: name,
			FellBack: fellBack,
		}
	}

	if lastErr == nil {
		lastErr = domain.NewError(domain.ErrRAGUnavailable, "all retrieval providers unavailable")
	}
	return EnhanceResult{Prompt: prompt, Status: domain.RAGStatusError, FellBack: fellBack, Err: lastErr}
}
