// Package claudette is the public API for embedding the Claudette AI
// middleware: adaptive multi-backend routing, pattern-aware circuit breaking,
// two-tier response caching and optional retrieval enrichment behind a single
// Optimize call.
//
//	client, err := claudette.New(
//	    claudette.WithConfigPath("claudette.json"),
//	    claudette.WithSignalHandling(),
//	)
//	if err != nil { ... }
//	defer client.Cleanup(context.Background())
//
//	resp, err := client.Optimize(ctx, "Summarise this changeset", nil,
//	    claudette.WithRAG("recent deploy incidents"),
//	    claudette.WithMaxTokens(512),
//	)
//
// The import graph is strictly one way: claudette (root) imports internal/*,
// internal/* never imports the root.
package claudette

import (
	"context"
	"errors"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/runtime"
)

// Client is one isolated middleware instance. Construct with New; instances
// share nothing, including their metrics registries.
type Client struct {
	rt *runtime.Runtime
}

// New builds a Client. Initialization is lazy: the first Optimize (or an
// explicit Initialize) loads configuration and wires the components.
func New(opts ...Option) (*Client, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	rt := runtime.New(runtime.Options{
		ConfigPath:    o.configPath,
		Config:        o.config,
		Logger:        o.logger,
		Embedder:      o.embedder,
		WatchConfig:   o.watchConfig,
		HandleSignals: o.handleSignals,
	})

	c := &Client{rt: rt}
	if o.eagerInit {
		if err := rt.Initialize(context.Background()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Initialize eagerly runs the single-flight initialization. Optional; the
// first Optimize call does the same.
func (c *Client) Initialize(ctx context.Context) error {
	return c.rt.Initialize(ctx)
}

// Optimize routes one generation request through cache, retrieval and the
// adaptive router. Request options are applied over the backend defaults.
func (c *Client) Optimize(ctx context.Context, prompt string, files []FileRef, opts ...RequestOption) (*Response, error) {
	options := domain.RequestOptions{}
	for _, fn := range opts {
		fn(&options)
	}
	return c.rt.Optimize(ctx, prompt, files, options)
}

// Status returns the health snapshot: per-backend health and breaker state,
// cache occupancy and hit rate.
func (c *Client) Status() HealthSnapshot {
	return c.rt.Status()
}

// Config returns the active configuration. Nil before initialization.
func (c *Client) Config() *Config {
	return c.rt.Config()
}

// ValidateConfig validates the active (or loadable) configuration and returns
// the structured report.
func (c *Client) ValidateConfig() *Report {
	return c.rt.ValidateConfig()
}

// Metrics renders this client's metrics in Prometheus text exposition format.
func (c *Client) Metrics() (string, error) {
	return c.rt.Metrics()
}

// Stats returns the raw aggregate counters.
func (c *Client) Stats() Stats {
	return c.rt.Stats()
}

// Cleanup shuts the client down: health monitor, cache drain, retrieval
// providers, connection pool. Idempotent.
func (c *Client) Cleanup(ctx context.Context) error {
	return c.rt.Shutdown(ctx)
}

// ExitCode maps an initialization error onto the documented process exit
// codes for hosts that terminate on fatal failures: 0 ok, 2 invalid
// configuration, 3 no usable backend, 4 credential resolution failed.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *domain.Error
	if !errors.As(err, &ce) {
		return 1
	}
	switch ce.Kind {
	case domain.ErrConfigInvalid:
		return 2
	case domain.ErrNoBackend:
		return 3
	case domain.ErrCredentialMissing:
		return 4
	default:
		return 1
	}
}
