// Package runtime wires every component together and owns the lifecycle:
// single-flight initialization, the optimize pipeline, config hot reload and
// ordered shutdown.
package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/claudette-ai/claudette/internal/adapter/backend"
	"github.com/claudette-ai/claudette/internal/adapter/cache"
	"github.com/claudette-ai/claudette/internal/adapter/health"
	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/adapter/rag"
	"github.com/claudette-ai/claudette/internal/adapter/router"
	"github.com/claudette-ai/claudette/internal/adapter/stats"
	"github.com/claudette-ai/claudette/internal/config"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/logger"
)

const shutdownGrace = 10 * time.Second

// Options configures a Runtime before initialization.
type Options struct {
	ConfigPath    string
	Config        *config.Config // takes precedence over ConfigPath
	Logger        *slog.Logger   // replaces the built-in logger when set
	Embedder      rag.Embedder   // retrieval embedding override
	WatchConfig   bool
	HandleSignals bool
}

// Runtime owns every component. Construct with New, then Initialize (or let
// the first Optimize do it).
type Runtime struct {
	opts Options

	logger     *slog.Logger
	logCleanup func()

	cfg   *config.Config
	viper *viper.Viper

	pool    *pool.Pool
	table   *router.Table
	router  *router.Router
	monitor *health.Monitor
	cache   *cache.Cache
	rag     *rag.Registry
	stats   *stats.Collector

	initFlight  singleflight.Group
	initialized atomic.Bool
	closed      atomic.Bool

	// flight coalesces concurrent cache misses per fingerprint.
	flight singleflight.Group

	monitorCancel context.CancelFunc
	signalStop    func()
}

func New(opts Options) *Runtime {
	return &Runtime{opts: opts, logCleanup: func() {}}
}

// Initialize is idempotent and single-flight: concurrent callers share one
// in-progress initialization and its outcome. A failed initialization may be
// retried.
func (r *Runtime) Initialize(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}
	if r.closed.Load() {
		return domain.NewError(domain.ErrInternal, "runtime is shut down")
	}

	_, err, _ := r.initFlight.Do("init", func() (any, error) {
		if r.initialized.Load() {
			return nil, nil
		}
		if err := r.initialize(ctx); err != nil {
			return nil, err
		}
		r.initialized.Store(true)
		return nil, nil
	})
	return err
}

func (r *Runtime) initialize(ctx context.Context) error {
	cfg := r.opts.Config
	v := (*viper.Viper)(nil)
	if cfg == nil {
		loaded, vp, err := config.Load(r.opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg, v = loaded, vp
	}

	report := cfg.Validate()
	if !report.Valid {
		return reportError(report)
	}

	if err := r.setupLogger(cfg); err != nil {
		return err
	}
	log := r.logger

	for _, issue := range report.Issues {
		log.Warn("config finding", "field", issue.Field, "reason", issue.Reason)
	}
	log.Info("initializing", "backends", cfg.MaskedBackends(), "dataDir", cfg.DataDir)

	r.cfg = cfg
	r.viper = v
	r.stats = stats.NewCollector()
	r.pool = pool.New(pool.DefaultConfig(), log)
	r.table = router.NewTable()
	r.monitor = health.NewMonitor(health.DefaultInterval, log)

	r.router = router.New(router.Config{
		Weights: router.Weights{
			Cost:         cfg.Router.Weights.Cost,
			Latency:      cfg.Router.Weights.Latency,
			Availability: cfg.Router.Weights.Availability,
		},
		MaxAttempts: cfg.Router.MaxAttempts,
	}, r.table, r.monitor, r.stats, log)

	if err := r.registerBackends(cfg); err != nil {
		return err
	}

	// Ready once adapters are registered; probes and cold cache keep warming
	// in the background.
	monitorCtx, cancel := context.WithCancel(context.Background())
	r.monitorCancel = cancel
	r.monitor.Start(monitorCtx)

	r.setupCache(cfg)

	if err := r.setupRAG(ctx, cfg); err != nil {
		return err
	}

	if r.opts.WatchConfig && v != nil {
		config.Watch(v, r.applyReload)
	}
	if r.opts.HandleSignals {
		r.installSignalHandlers()
	}

	log.Info("ready", "backends", len(r.table.Names()))
	return nil
}

func (r *Runtime) setupLogger(cfg *config.Config) error {
	if r.opts.Logger != nil {
		r.logger = r.opts.Logger
		return nil
	}
	log, cleanup, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		FileOutput: cfg.Logging.FileOutput,
	})
	if err != nil {
		return domain.WrapError(domain.ErrConfigInvalid, "cannot open log output", err)
	}
	r.logger = log
	r.logCleanup = cleanup
	return nil
}

func (r *Runtime) registerBackends(cfg *config.Config) error {
	onTransition := func(name string, from, to domain.BreakerState) {
		r.stats.RecordBreakerTransition(name, from, to)
		r.stats.SetBreakerState(name, to)
		r.logger.Info("breaker transition", "backend", name, "from", from, "to", to)
	}

	for _, bc := range cfg.BackendConfigs() {
		if !bc.Enabled {
			r.logger.Debug("skipping disabled backend", "backend", bc.Name)
			continue
		}
		adapter, err := backend.New(bc, r.pool, r.logger)
		if err != nil {
			return err
		}
		if issues := adapter.ValidateConfig(); len(issues) > 0 {
			for _, issue := range issues {
				if issue.Severity == domain.SeverityError {
					return domain.NewErrorf(domain.ErrConfigInvalid,
						"%s: %s", issue.Field, issue.Reason)
				}
				r.logger.Warn("backend config finding", "field", issue.Field, "reason", issue.Reason)
			}
		}
		r.table.Register(adapter, onTransition)
		r.monitor.Register(adapter)
		r.stats.SetBreakerState(bc.Name, domain.BreakerClosed)
	}
	return nil
}

// setupCache builds both tiers. Cold-tier failure is logged and absorbed.
func (r *Runtime) setupCache(cfg *config.Config) {
	if !cfg.Features.Caching {
		return
	}

	var cold *cache.SQLiteStore
	store, err := cache.NewSQLiteStore(cfg.DataDir, r.logger)
	if err != nil {
		r.logger.Warn("cold cache tier unavailable", "dataDir", cfg.DataDir, "error", err)
	} else {
		cold = store
	}

	c := cache.Config{TTL: cfg.Thresholds.CacheTTL()}
	if cold != nil {
		r.cache = cache.New(c, cold, r.logger)
	} else {
		r.cache = cache.New(c, nil, r.logger)
	}
}

func (r *Runtime) setupRAG(ctx context.Context, cfg *config.Config) error {
	r.rag = rag.NewRegistry(r.logger)
	r.rag.SetChain(cfg.RAG.FallbackChain, cfg.RAG.DefaultProvider)

	g, gctx := errgroup.WithContext(ctx)
	for name, raw := range cfg.RAG.Providers {
		provider, err := rag.BuildProvider(name, raw, r.pool, r.opts.Embedder, r.logger)
		if err != nil {
			return err
		}
		r.rag.Register(provider)

		// Connect in parallel; an unreachable provider degrades, it does not
		// block startup.
		g.Go(func() error {
			if err := provider.Connect(gctx); err != nil {
				r.logger.Warn("rag provider connect failed", "provider", provider.Name(), "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// applyReload folds runtime-tunable backend changes from a config reload into
// the live table. Structural changes need a restart and are only logged.
func (r *Runtime) applyReload(next *config.Config) {
	report := next.Validate()
	if !report.Valid {
		r.logger.Warn("config reload rejected", "issues", len(report.Issues))
		return
	}

	onTransition := func(name string, from, to domain.BreakerState) {
		r.stats.RecordBreakerTransition(name, from, to)
		r.stats.SetBreakerState(name, to)
	}

	known := make(map[string]bool)
	for _, name := range r.table.Names() {
		known[name] = true
	}

	for _, bc := range next.BackendConfigs() {
		if !known[bc.Name] {
			if bc.Enabled {
				r.logger.Info("config reload: new backend requires restart", "backend", bc.Name)
			}
			continue
		}
		adapter, err := backend.New(bc, r.pool, r.logger)
		if err != nil {
			r.logger.Warn("config reload: backend rejected", "backend", bc.Name, "error", err)
			continue
		}
		// Register replaces the adapter but keeps the breaker history.
		r.table.Register(adapter, onTransition)
		r.monitor.Register(adapter)
	}

	r.cfg = next
	r.logger.Info("config reloaded", "backends", next.MaskedBackends())
}

func (r *Runtime) installSignalHandlers() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	r.signalStop = func() {
		signal.Stop(ch)
		close(done)
	}

	go func() {
		select {
		case sig := <-ch:
			r.logger.Info("termination signal received", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			_ = r.Shutdown(ctx)
			cancel()
			os.Exit(0)
		case <-done:
		}
	}()
}

// Shutdown tears everything down in order: health monitor, cache writes and
// cold tier, retrieval providers, connection pool, metrics flush. Idempotent.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !r.initialized.Load() {
		return nil
	}

	if r.signalStop != nil {
		r.signalStop()
	}

	r.monitor.Stop()
	if r.monitorCancel != nil {
		r.monitorCancel()
	}

	if r.cache != nil {
		r.cache.Close()
	}
	r.rag.DisconnectAll()

	err := r.pool.Shutdown(ctx)

	snap := r.stats.Snapshot()
	r.logger.Info("shutdown complete",
		"requests", snap.TotalRequests,
		"cache_hits", snap.CacheHits,
		"uptime", snap.Uptime.Round(time.Second))

	r.logCleanup()
	return err
}

// Config returns the active configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// ValidateConfig re-runs validation on the active configuration, falling back
// to the injected or on-disk one before initialization.
func (r *Runtime) ValidateConfig() *config.Report {
	cfg := r.cfg
	if cfg == nil {
		cfg = r.opts.Config
	}
	if cfg == nil {
		loaded, _, err := config.Load(r.opts.ConfigPath)
		if err != nil {
			return &config.Report{Issues: []domain.ConfigIssue{{
				Field: "config", Reason: err.Error(), Severity: domain.SeverityError,
			}}}
		}
		cfg = loaded
	}
	return cfg.Validate()
}

// Metrics renders the prometheus text exposition for this runtime.
func (r *Runtime) Metrics() (string, error) {
	if !r.initialized.Load() {
		return "", domain.NewError(domain.ErrInternal, "runtime is not initialized")
	}
	return r.stats.Registry().Export()
}

// reportError folds a validation report into one classified error.
func reportError(report *config.Report) error {
	for _, issue := range report.Issues {
		if issue.Severity != domain.SeverityError {
			continue
		}
		return domain.NewErrorf(domain.ErrConfigInvalid, "%s: %s", issue.Field, issue.Reason)
	}
	return domain.NewError(domain.ErrConfigInvalid, "configuration is invalid")
}
