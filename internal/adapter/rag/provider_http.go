package rag

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	httpHealthTTL     = 5 * time.Second
	httpHealthTimeout = 3 * time.Second
)

// HTTPConfig describes a REST retrieval service: POST {base}/query for
// retrieval, GET {base}/health for liveness.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider adapts any JSON retrieval endpoint. Calls go through the shared
// connection pool like every other outbound request.
type HTTPProvider struct {
	cfg  HTTPConfig
	pool *pool.Pool

	healthy  atomic.Bool
	healthAt atomic.Int64
}

func NewHTTPProvider(cfg HTTPConfig, p *pool.Pool) *HTTPProvider {
	return &HTTPProvider{cfg: cfg, pool: p}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) Connect(ctx context.Context) error {
	if !p.HealthCheck(ctx) {
		return domain.NewErrorf(domain.ErrRAGUnavailable, "provider %q is unreachable", p.cfg.Name)
	}
	return nil
}

func (p *HTTPProvider) Disconnect() error { return nil }

type httpQueryRequest struct {
	Query      string  `json:"query"`
	MaxResults int     `json:"max_results,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
}

type httpQueryResponse struct {
	Results []struct {
		Content string  `json:"content"`
		Score   float64 `json:"score"`
		Source  string  `json:"source"`
	} `json:"results"`
}

func (p *HTTPProvider) Query(ctx context.Context, req *domain.RAGRequest) (*domain.RAGResponse, error) {
	start := time.Now()

	body, err := json.Marshal(httpQueryRequest{
		Query:      req.Query,
		MaxResults: req.MaxResults,
		Threshold:  req.Threshold,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInternal, "encode retrieval query", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if p.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.cfg.APIKey
	}

	resp, err := p.pool.Do(ctx, &pool.Request{
		Method:  "POST",
		URL:     p.endpoint("/query"),
		Headers: headers,
		Body:    body,
		Timeout: p.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, domain.NewErrorf(domain.ErrRAGUnavailable,
			"provider %q returned HTTP %d", p.cfg.Name, resp.Status)
	}

	var decoded httpQueryResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, domain.WrapError(domain.ErrRAGUnavailable, "decode retrieval response", err)
	}

	results := make([]domain.RAGResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Content == "" {
			continue
		}
		results = append(results, domain.RAGResult{
			Content: r.Content,
			Score:   r.Score,
			Source:  r.Source,
		})
	}

	return &domain.RAGResponse{
		Results:        results,
		TotalResults:   len(results),
		Processing:     time.Since(start),
		StrategySource: "hybrid",
	}, nil
}

func (p *HTTPProvider) HealthCheck(ctx context.Context) bool {
	if time.Since(time.Unix(0, p.healthAt.Load())) < httpHealthTTL {
		return p.healthy.Load()
	}

	resp, err := p.pool.Do(ctx, &pool.Request{
		Method:  "GET",
		URL:     p.endpoint("/health"),
		Timeout: httpHealthTimeout,
	})
	ok := err == nil && resp.Status >= 200 && resp.Status < 300
	p.healthy.Store(ok)
	p.healthAt.Store(time.Now().UnixNano())
	return ok
}

func (p *HTTPProvider) Status() domain.RAGProviderStatus {
	return domain.RAGProviderStatus{
		Name:        p.cfg.Name,
		Connected:   true,
		Healthy:     p.healthy.Load(),
		LastChecked: time.Unix(0, p.healthAt.Load()),
	}
}

func (p *HTTPProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}
