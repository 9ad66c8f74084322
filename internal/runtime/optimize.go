package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/claudette-ai/claudette/internal/adapter/cache"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds an optimize call when no per-request timeout is set.
const DefaultTimeout = 60 * time.Second

// Optimize runs the full pipeline: lifecycle gate, optional retrieval
// enrichment, cache lookup, single-flight routed execution, accounting and
// cache store.
func (r *Runtime) Optimize(ctx context.Context, prompt string, files []domain.FileRef, opts domain.RequestOptions) (*domain.Response, error) {
	if r.closed.Load() {
		return nil, domain.NewError(domain.ErrInternal, "runtime is shut down")
	}
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
		opts.Timeout = timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &domain.Request{
		ID:      uuid.NewString(),
		Prompt:  prompt,
		Files:   files,
		Options: opts,
	}
	log := r.logger.With("request_id", req.ID)

	effectivePrompt := prompt
	var ragStatus string
	var ragSources []string

	if opts.UseRAG {
		result := r.rag.Enhance(ctx, prompt, opts)
		r.stats.RecordRAG(true, result.FellBack, result.Err != nil)

		ragStatus = result.Status
		ragSources = result.Sources
		if result.Err != nil {
			if opts.RAGStrict {
				return nil, domain.AsError(result.Err)
			}
			log.Warn("retrieval failed, proceeding without context", "error", result.Err)
		} else {
			effectivePrompt = result.Prompt
			if result.Status == domain.RAGStatusOK {
				log.Debug("prompt enriched",
					"provider", result.Provider, "sources", len(result.Sources))
			}
		}
	}

	fpReq := *req
	fpReq.Prompt = effectivePrompt
	fingerprint := cache.Fingerprint(&fpReq)

	useCache := r.cache != nil && !opts.BypassCache
	if useCache {
		if entry, ok := r.cache.Get(ctx, fingerprint); ok {
			r.stats.RecordCache(true)
			r.publishGauges()

			// A hit costs nothing: no backend was called.
			resp := entry.Response.Clone()
			resp.CacheHit = true
			resp.CostEUR = 0
			resp.Latency = 0
			log.Debug("cache hit", "fingerprint", fingerprint[:12], "hits", entry.HitCount)
			return resp, nil
		}
		r.stats.RecordCache(false)
	}

	var resp *domain.Response
	var err error
	if useCache {
		resp, err = r.executeCoalesced(ctx, fingerprint, effectivePrompt, opts)
	} else {
		resp, err = r.router.Execute(ctx, effectivePrompt, opts)
	}
	if err != nil {
		r.publishGauges()
		return nil, domain.AsError(err)
	}

	resp.CostEUR = domain.RoundCost(resp.CostEUR)
	resp.CacheHit = false
	resp.Metadata.RAGStatus = ragStatus
	resp.Metadata.RAGSources = ragSources

	if useCache && !resp.Metadata.Coalesced {
		r.storeInCache(fingerprint, resp)
	}
	r.publishGauges()

	log.Info("request completed",
		"backend", resp.BackendUsed,
		"tokens_in", resp.TokensInput, "tokens_out", resp.TokensOutput,
		"cost_eur", resp.CostEUR, "latency", resp.Latency)
	return resp, nil
}

// executeCoalesced collapses concurrent misses on one fingerprint into a
// single upstream call. Waiters receive a clone flagged as coalesced; a
// cancelled leader fails the slot so waiters fail fast and retry.
func (r *Runtime) executeCoalesced(ctx context.Context, fingerprint, prompt string, opts domain.RequestOptions) (*domain.Response, error) {
	v, err, shared := r.flight.Do(fingerprint, func() (any, error) {
		return r.router.Execute(ctx, prompt, opts)
	})
	if err != nil {
		return nil, err
	}

	resp := v.(*domain.Response)
	if shared {
		resp = resp.Clone()
		resp.Metadata.Coalesced = true
	}
	return resp, nil
}

// storeInCache snapshots the response into both tiers.
func (r *Runtime) storeInCache(fingerprint string, resp *domain.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		r.logger.Debug("cache store skipped", "error", err)
		return
	}

	now := time.Now()
	r.cache.Set(&domain.CacheEntry{
		Fingerprint: fingerprint,
		Response:    *resp.Clone(),
		CreatedAt:   now,
		LastAccess:  now,
		Size:        int64(len(body)),
	})
}

// publishGauges refreshes cache and pool gauges after each request.
func (r *Runtime) publishGauges() {
	if r.cache != nil {
		entries, bytes := r.cache.Stats()
		r.stats.SetCacheSize(entries, bytes)
	}
	active, free := r.pool.Stats()
	r.stats.SetPoolSockets(active, free)
}
