package claudette

import (
	"log/slog"
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/rag"
	"github.com/claudette-ai/claudette/internal/config"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

// Option configures a Client at construction.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	configPath    string
	config        *config.Config
	logger        *slog.Logger
	embedder      rag.Embedder
	watchConfig   bool
	handleSignals bool
	eagerInit     bool
}

// WithConfigPath points at the JSON configuration file. When unset the path
// comes from CLAUDETTE_CONFIG_PATH or the working directory.
func WithConfigPath(path string) Option {
	return func(o *resolvedOptions) { o.configPath = path }
}

// WithConfig injects a pre-built configuration, bypassing file loading.
func WithConfig(cfg *Config) Option {
	return func(o *resolvedOptions) { o.config = cfg }
}

// WithLogger replaces the built-in logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithEmbedder replaces the default query embedder used by vector retrieval
// providers.
func WithEmbedder(e Embedder) Option {
	return func(o *resolvedOptions) { o.embedder = e }
}

// WithConfigWatching applies runtime-tunable backend changes (enabled,
// priority, cost) when the config file changes.
func WithConfigWatching() Option {
	return func(o *resolvedOptions) { o.watchConfig = true }
}

// WithSignalHandling installs SIGINT/SIGTERM handlers that run Cleanup and
// exit 0.
func WithSignalHandling() Option {
	return func(o *resolvedOptions) { o.handleSignals = true }
}

// WithEagerInit initializes during New instead of on the first Optimize.
func WithEagerInit() Option {
	return func(o *resolvedOptions) { o.eagerInit = true }
}

// RequestOption configures one Optimize call.
type RequestOption func(*domain.RequestOptions)

// WithBackend pins the request to one backend and disables fallback.
func WithBackend(name string) RequestOption {
	return func(o *domain.RequestOptions) { o.Backend = name }
}

// WithModel overrides the backend's configured model.
func WithModel(model string) RequestOption {
	return func(o *domain.RequestOptions) { o.Model = model }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) RequestOption {
	return func(o *domain.RequestOptions) { o.MaxTokens = n }
}

// WithTemperature sets an explicit sampling temperature. Unset means the
// backend default, which caches under a different fingerprint than zero.
func WithTemperature(t float64) RequestOption {
	return func(o *domain.RequestOptions) { o.Temperature = &t }
}

// WithBypassCache skips both cache read and write for this call.
func WithBypassCache() RequestOption {
	return func(o *domain.RequestOptions) { o.BypassCache = true }
}

// WithRAG enables retrieval enrichment. An empty query retrieves against the
// prompt itself.
func WithRAG(query string) RequestOption {
	return func(o *domain.RequestOptions) {
		o.UseRAG = true
		o.RAGQuery = query
	}
}

// WithStrictRAG makes retrieval failure fatal instead of degrading to an
// unenriched prompt.
func WithStrictRAG() RequestOption {
	return func(o *domain.RequestOptions) { o.RAGStrict = true }
}

// WithRAGProvider pins retrieval to one provider, bypassing the fallback
// chain.
func WithRAGProvider(name string) RequestOption {
	return func(o *domain.RequestOptions) { o.RAGProvider = name }
}

// WithContextStrategy controls how retrieved context is combined with the
// prompt: prepend (default), append, or inject at the {context} token.
func WithContextStrategy(s ContextStrategy) RequestOption {
	return func(o *domain.RequestOptions) { o.ContextStrategy = s }
}

// WithTimeout bounds the whole call, retrieval and retries included. Default
// is 60 seconds.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *domain.RequestOptions) { o.Timeout = d }
}
