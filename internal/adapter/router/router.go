// Package router selects backends by composite score, schedules retries per
// the breaker's recovery strategy and falls back across backends until the
// attempt budget runs out. It is the only component that calls adapters.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/breaker"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
	"github.com/claudette-ai/claudette/internal/util"
)

const (
	DefaultMaxAttempts = 3

	linearBackoffBase = 250 * time.Millisecond
	expBackoffBase    = 500 * time.Millisecond
	expBackoffCap     = 30 * time.Second
	backoffJitter     = 0.15
)

// HealthView is the router's view of backend health: reads plus the per-call
// feedback that keeps records warm between probes.
type HealthView interface {
	ports.HealthStore
	ObserveCall(backend string, success bool, latency time.Duration)
}

type Config struct {
	Weights     Weights
	MaxAttempts int
}

type Router struct {
	table       *Table
	health      HealthView
	stats       ports.StatsCollector
	logger      *slog.Logger
	weights     Weights
	maxAttempts int
}

func New(cfg Config, table *Table, health HealthView, stats ports.StatsCollector, logger *slog.Logger) *Router {
	weights := cfg.Weights
	if weights.Cost == 0 && weights.Latency == 0 && weights.Availability == 0 {
		weights = DefaultWeights()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Router{
		table:       table,
		health:      health,
		stats:       stats,
		logger:      logger,
		weights:     weights,
		maxAttempts: maxAttempts,
	}
}

// Table exposes the backend registry for the status surface.
func (r *Router) Table() *Table { return r.table }

// Execute routes one request: a forced backend runs alone, otherwise the
// best-scoring candidate is tried with breaker-scheduled waits and failed
// backends are excluded from subsequent attempts.
func (r *Router) Execute(ctx context.Context, prompt string, opts domain.RequestOptions) (*domain.Response, error) {
	if opts.Backend != "" {
		return r.executeForced(ctx, prompt, opts)
	}

	excluded := make(map[string]bool)
	var lastErr *domain.Error

	// Breaker-open skips do not consume attempts; the iteration bound keeps a
	// fully-open table from spinning.
	attempt := 1
	for iter := 0; attempt <= r.maxAttempts && iter < r.maxAttempts+len(r.table.Names()); iter++ {
		e, score := r.selectBest(excluded)
		if e == nil {
			break
		}
		name := e.adapter.Name()

		decision := e.breaker.Decide(time.Now())
		if !decision.Allow {
			r.logger.Debug("breaker rejected backend",
				"backend", name, "state", decision.State, "wait", decision.Wait)
			excluded[name] = true
			continue
		}

		if err := r.waitFor(ctx, decision, attempt); err != nil {
			r.releaseProbe(e, decision)
			return nil, domain.AsError(err)
		}

		resp, callErr := r.callBackend(ctx, e, prompt, opts)
		if callErr == nil {
			resp.Metadata.RoutingDecision = fmt.Sprintf(
				"backend=%s attempt=%d score=%.3f", name, attempt, score)
			return resp, nil
		}

		if callErr.Kind == domain.ErrCancelled {
			r.releaseProbe(e, decision)
			return nil, callErr
		}
		if !callErr.Retryable {
			return nil, callErr
		}

		lastErr = callErr
		excluded[name] = true
		attempt++
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.NewError(domain.ErrNoBackend, "no eligible backend available")
}

// executeForced runs the pinned backend with fallback disabled. Transport
// retries inside the pool still apply.
func (r *Router) executeForced(ctx context.Context, prompt string, opts domain.RequestOptions) (*domain.Response, error) {
	e, ok := r.table.get(opts.Backend)
	if !ok {
		return nil, domain.NewErrorf(domain.ErrNoBackend, "backend %q is not registered", opts.Backend)
	}
	if !e.adapter.Config().Enabled {
		return nil, domain.NewErrorf(domain.ErrNoBackend, "backend %q is disabled", opts.Backend)
	}

	decision := e.breaker.Decide(time.Now())
	if !decision.Allow {
		return nil, domain.NewBackendError(domain.ErrNoBackend, opts.Backend,
			fmt.Sprintf("circuit open, retry in %s", decision.Wait.Round(time.Second)), nil)
	}

	if err := r.waitFor(ctx, decision, 1); err != nil {
		r.releaseProbe(e, decision)
		return nil, domain.AsError(err)
	}

	resp, callErr := r.callBackend(ctx, e, prompt, opts)
	if callErr != nil {
		if callErr.Kind == domain.ErrCancelled {
			r.releaseProbe(e, decision)
		}
		return nil, callErr
	}
	resp.Metadata.RoutingDecision = "backend=" + opts.Backend + " forced"
	return resp, nil
}

// selectBest returns the lowest-scoring eligible backend. Fresh unhealthy
// records exclude a candidate unless that would leave nothing; stale records
// trigger an async refresh and are used as-is.
func (r *Router) selectBest(excluded map[string]bool) (*entry, float64) {
	now := time.Now()
	candidates := r.table.candidates(excluded)
	if len(candidates) == 0 {
		return nil, 0
	}

	healthy := candidates[:0:0]
	for _, e := range candidates {
		rec, ok := r.health.Record(e.adapter.Name())
		if !ok {
			healthy = append(healthy, e)
			continue
		}
		if !rec.Fresh(now) {
			r.health.RequestRefresh(e.adapter.Name())
			healthy = append(healthy, e)
			continue
		}
		if rec.Healthy {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		// Everything looks down; proceed optimistically rather than refusing.
		healthy = candidates
	}

	var best *entry
	var bestScore float64
	for _, e := range healthy {
		s := r.score(e, now)
		if best == nil || s < bestScore || (s == bestScore && tieBreak(e, best)) {
			best, bestScore = e, s
		}
	}
	return best, bestScore
}

// tieBreak prefers the lower priority number, then earlier registration.
func tieBreak(a, b *entry) bool {
	pa, pb := a.adapter.Config().Priority, b.adapter.Config().Priority
	if pa != pb {
		return pa < pb
	}
	return a.order < b.order
}

// waitFor sleeps per the breaker's recovery strategy, honouring cancellation.
func (r *Router) waitFor(ctx context.Context, decision breaker.Decision, attempt int) error {
	var wait time.Duration
	switch decision.Strategy {
	case domain.StrategyLinearBackoff:
		wait = util.LinearBackoff(attempt, linearBackoffBase, backoffJitter)
	case domain.StrategyExponentialBackoff:
		wait = util.ExponentialBackoff(attempt, expBackoffBase, expBackoffCap, backoffJitter)
	default:
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// callBackend resolves effective options, runs the adapter and folds the
// outcome into the breaker, health record and stats.
func (r *Router) callBackend(ctx context.Context, e *entry, prompt string, opts domain.RequestOptions) (*domain.Response, *domain.Error) {
	name := e.adapter.Name()
	effective := resolveOptions(e.adapter.Config(), opts)

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.adapter.Send(callCtx, prompt, effective)
	latency := time.Since(start)

	if err != nil {
		classified := domain.AsError(err)
		if classified.Backend == "" {
			classified.Backend = name
		}
		// Caller cancellation is not a backend failure.
		if classified.Kind == domain.ErrCancelled && ctx.Err() != nil {
			return nil, classified
		}

		kind := domain.FailureForKind(classified.Kind)
		e.breaker.RecordFailure(time.Now(), kind)
		r.health.ObserveCall(name, false, latency)
		r.stats.RecordRequest(name, false, kind, latency)

		r.logger.Warn("backend call failed",
			"backend", name, "kind", classified.Kind,
			"retryable", classified.Retryable, "latency", latency)
		return nil, classified
	}

	e.breaker.RecordSuccess(time.Now())
	r.health.ObserveCall(name, true, latency)
	r.stats.RecordRequest(name, true, "", latency)
	r.stats.RecordTokens(name, resp.TokensInput, resp.TokensOutput, resp.CostEUR)

	resp.Latency = latency
	return resp, nil
}

func (r *Router) releaseProbe(e *entry, decision breaker.Decision) {
	if decision.State == domain.BreakerHalfOpen {
		e.breaker.ReleaseProbe()
	}
}

// resolveOptions merges per-request overrides onto the backend defaults.
func resolveOptions(cfg domain.BackendConfig, opts domain.RequestOptions) domain.EffectiveOptions {
	effective := domain.EffectiveOptions{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     opts.Timeout,
	}
	if opts.Model != "" {
		effective.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		effective.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		effective.Temperature = *opts.Temperature
	}
	return effective
}
