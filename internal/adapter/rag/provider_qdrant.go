package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

const (
	qdrantHealthTTL     = 5 * time.Second
	qdrantHealthTimeout = 3 * time.Second
	qdrantQueryTimeout  = 10 * time.Second
)

// QdrantConfig holds what the provider needs to reach a Qdrant deployment.
type QdrantConfig struct {
	Name       string
	URL        string // "https://host:6333" or "host:6334"
	APIKey     string
	Collection string
	Threshold  float64
}

// QdrantProvider retrieves context fragments from a Qdrant collection over
// gRPC. Queries embed the text locally, then run a dense similarity search
// with payload retrieval.
type QdrantProvider struct {
	cfg      QdrantConfig
	embedder Embedder
	logger   *slog.Logger

	client atomic.Pointer[qdrant.Client]

	healthGroup singleflight.Group
	healthy     atomic.Bool
	healthAt    atomic.Int64 // unix nanos of last check
}

func NewQdrantProvider(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) *QdrantProvider {
	if embedder == nil {
		embedder = NewHashEmbedder(defaultEmbedderDims)
	}
	return &QdrantProvider{cfg: cfg, embedder: embedder, logger: logger}
}

func (p *QdrantProvider) Name() string { return p.cfg.Name }

// parseQdrantURL extracts host, port and TLS flag. The REST port 6333 is
// mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		pp, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port in qdrant URL: %q", portStr)
		}
		if pp == 6333 {
			port = 6334
		} else {
			port = pp
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// Connect establishes the gRPC client. Idempotent; a second call replaces
// nothing if the client is already up.
func (p *QdrantProvider) Connect(_ context.Context) error {
	if p.client.Load() != nil {
		return nil
	}

	host, port, useTLS, err := parseQdrantURL(p.cfg.URL)
	if err != nil {
		return domain.WrapError(domain.ErrConfigInvalid, "qdrant provider misconfigured", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: p.cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return domain.WrapError(domain.ErrRAGUnavailable,
			fmt.Sprintf("connect to qdrant at %s:%d", host, port), err)
	}

	p.client.Store(client)
	return nil
}

func (p *QdrantProvider) Disconnect() error {
	client := p.client.Swap(nil)
	if client == nil {
		return nil
	}
	return client.Close()
}

// Query embeds the text and runs a dense similarity search. Results carry the
// stored content and source payloads; scores come back normalised from the
// cosine metric.
func (p *QdrantProvider) Query(ctx context.Context, req *domain.RAGRequest) (*domain.RAGResponse, error) {
	client := p.client.Load()
	if client == nil {
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		client = p.client.Load()
	}

	start := time.Now()

	vector, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRAGUnavailable, "embed query", err)
	}

	limit := uint64(req.MaxResults)
	if limit == 0 {
		limit = defaultMaxResults
	}

	queryCtx, cancel := context.WithTimeout(ctx, qdrantQueryTimeout)
	defer cancel()

	query := &qdrant.QueryPoints{
		CollectionName: p.cfg.Collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = p.cfg.Threshold
	}
	if threshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(float32(threshold))
	}

	scored, err := client.Query(queryCtx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRAGUnavailable,
			fmt.Sprintf("qdrant query on %q", p.cfg.Collection), err)
	}

	results := make([]domain.RAGResult, 0, len(scored))
	for _, sp := range scored {
		content := payloadString(sp.Payload, "content")
		if content == "" {
			content = payloadString(sp.Payload, "text")
		}
		if content == "" {
			continue
		}
		results = append(results, domain.RAGResult{
			Content: content,
			Score:   float64(sp.Score),
			Source:  payloadString(sp.Payload, "source"),
		})
	}

	return &domain.RAGResponse{
		Results:        results,
		TotalResults:   len(results),
		Processing:     time.Since(start),
		StrategySource: "vector",
	}, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if payload == nil {
		return ""
	}
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// HealthCheck reports reachability. Results are cached for 5 seconds and
// concurrent checks after expiry are collapsed through singleflight.
func (p *QdrantProvider) HealthCheck(ctx context.Context) bool {
	if p.client.Load() == nil {
		return false
	}

	if time.Since(time.Unix(0, p.healthAt.Load())) < qdrantHealthTTL {
		return p.healthy.Load()
	}

	// Background context: singleflight reuses the first caller's context and a
	// cancelled waiter would poison the shared result.
	result, _, _ := p.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), qdrantHealthTimeout)
		defer cancel()

		client := p.client.Load()
		if client == nil {
			p.healthy.Store(false)
		} else if _, err := client.HealthCheck(checkCtx); err != nil {
			p.logger.Debug("qdrant health check failed", "provider", p.cfg.Name, "error", err)
			p.healthy.Store(false)
		} else {
			p.healthy.Store(true)
		}
		p.healthAt.Store(time.Now().UnixNano())
		return p.healthy.Load(), nil
	})
	healthy, _ := result.(bool)
	return healthy
}

func (p *QdrantProvider) Status() domain.RAGProviderStatus {
	return domain.RAGProviderStatus{
		Name:        p.cfg.Name,
		Connected:   p.client.Load() != nil,
		Healthy:     p.healthy.Load(),
		LastChecked: time.Unix(0, p.healthAt.Load()),
	}
}
