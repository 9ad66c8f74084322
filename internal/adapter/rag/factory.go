package rag

import (
	"log/slog"
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

// BuildProvider constructs a provider from its raw config block. The "type"
// key selects the implementation: qdrant (gRPC vector store) or http (generic
// REST retrieval service).
func BuildProvider(name string, raw map[string]any, httpPool *pool.Pool, embedder Embedder, logger *slog.Logger) (ports.RAGProvider, error) {
	kind := stringValue(raw, "type")
	if kind == "" {
		kind = "http"
	}

	switch kind {
	case "qdrant":
		cfg := QdrantConfig{
			Name:       name,
			URL:        stringValue(raw, "url"),
			APIKey:     stringValue(raw, "apiKey"),
			Collection: stringValue(raw, "collection"),
			Threshold:  floatValue(raw, "threshold"),
		}
		if cfg.URL == "" {
			return nil, domain.NewErrorf(domain.ErrConfigInvalid,
				"rag provider %q: url is required", name)
		}
		if cfg.Collection == "" {
			return nil, domain.NewErrorf(domain.ErrConfigInvalid,
				"rag provider %q: collection is required", name)
		}
		return NewQdrantProvider(cfg, embedder, logger), nil

	case "http":
		cfg := HTTPConfig{
			Name:    name,
			BaseURL: stringValue(raw, "baseURL"),
			APIKey:  stringValue(raw, "apiKey"),
		}
		if secs := floatValue(raw, "timeoutSeconds"); secs > 0 {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
		if cfg.BaseURL == "" {
			return nil, domain.NewErrorf(domain.ErrConfigInvalid,
				"rag provider %q: baseURL is required", name)
		}
		return NewHTTPProvider(cfg, httpPool), nil

	default:
		return nil, domain.NewErrorf(domain.ErrConfigInvalid,
			"rag provider %q: unknown type %q", name, kind)
	}
}

func stringValue(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func floatValue(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
