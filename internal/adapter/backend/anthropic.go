package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

// anthropicAdapter speaks the Anthropic Messages API.
type anthropicAdapter struct {
	base
}

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func newAnthropicAdapter(cfg domain.BackendConfig, httpPool *pool.Pool, logger *slog.Logger) *anthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	return &anthropicAdapter{base: base{cfg: cfg, pool: httpPool, logger: logger}}
}

func (a *anthropicAdapter) Provider() domain.ProviderKind { return domain.ProviderAnthropic }

func (a *anthropicAdapter) Supports(option string) bool {
	switch option {
	case OptionTemperature, OptionMaxTokens, OptionSystem, OptionModel:
		return true
	default:
		return false
	}
}

func (a *anthropicAdapter) ValidateConfig() []domain.ConfigIssue {
	issues := a.validateCommon()
	if !a.cfg.HasAPIKey() {
		issues = append(issues, domain.ConfigIssue{
			Field:    "backends." + a.cfg.Name + ".apiKey",
			Reason:   "API key is required for Anthropic backends",
			Severity: domain.SeverityError,
		})
	}
	return issues
}

func (a *anthropicAdapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": anthropicVersion,
		"Content-Type":      "application/json",
	}
}

func (a *anthropicAdapter) Send(ctx context.Context, prompt string, opts domain.EffectiveOptions) (*domain.Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		// The Messages API rejects requests without max_tokens.
		maxTokens = 1024
	}

	wireReq := anthropicRequest{
		Model:     opts.Model,
		MaxTokens: maxTokens,
		System:    opts.System,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		wireReq.Temperature = &t
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, domain.NewBackendError(domain.ErrInternal, a.cfg.Name, "encode request", err)
	}

	start := time.Now()
	resp, err := a.pool.Do(ctx, &pool.Request{
		Method:  http.MethodPost,
		URL:     endpoint(a.cfg.BaseURL, "/v1/messages"),
		Headers: a.headers(),
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, attachBackend(err, a.cfg.Name)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, classifyHTTPFailure(a.cfg.Name, resp)
	}

	var wireResp anthropicResponse
	if err := json.Unmarshal(resp.Body, &wireResp); err != nil {
		return nil, domain.NewBackendError(domain.ErrBackendServer, a.cfg.Name, "malformed messages response", err)
	}
	latency := time.Since(start)

	var content string
	for _, block := range wireResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	tokensIn, tokensOut := wireResp.Usage.InputTokens, wireResp.Usage.OutputTokens
	tokenSource := domain.TokenSourceReported
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = estimateTokens(prompt) + estimateTokens(opts.System)
		tokensOut = estimateTokens(content)
		tokenSource = domain.TokenSourceEstimated
	}

	model := wireResp.Model
	if model == "" {
		model = opts.Model
	}

	return &domain.Response{
		Content:      content,
		BackendUsed:  a.cfg.Name,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		CostEUR:      a.EstimateCost(tokensIn, tokensOut),
		Latency:      latency,
		Metadata: domain.ResponseMetadata{
			Model:        model,
			FinishReason: wireResp.StopReason,
			TokenSource:  tokenSource,
		},
	}, nil
}

// ProbeHealth issues a minimal one-token completion; Anthropic has no
// list-models endpoint cheap enough to distinguish auth failures.
func (a *anthropicAdapter) ProbeHealth(ctx context.Context) domain.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if a.cfg.HealthPath != "" {
		start := time.Now()
		resp, err := a.pool.Do(probeCtx, &pool.Request{
			Method:  http.MethodGet,
			URL:     endpoint(a.cfg.BaseURL, a.cfg.HealthPath),
			Headers: a.headers(),
			Timeout: probeTimeout,
		})
		latency := time.Since(start)
		if err != nil {
			return domain.ProbeResult{Healthy: false, Latency: latency, Err: err}
		}
		return domain.ProbeResult{Healthy: resp.Status >= 200 && resp.Status < 300, Latency: latency}
	}

	probe := anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	}
	body, err := json.Marshal(probe)
	if err != nil {
		return domain.ProbeResult{Healthy: false, Err: err}
	}

	start := time.Now()
	resp, err := a.pool.Do(probeCtx, &pool.Request{
		Method:  http.MethodPost,
		URL:     endpoint(a.cfg.BaseURL, "/v1/messages"),
		Headers: a.headers(),
		Body:    body,
		Timeout: probeTimeout,
	})
	latency := time.Since(start)

	if err != nil {
		return domain.ProbeResult{Healthy: false, Latency: latency, Err: err}
	}
	healthy := resp.Status >= 200 && resp.Status < 300
	var probeErr error
	if !healthy {
		probeErr = classifyHTTPFailure(a.cfg.Name, resp)
	}
	return domain.ProbeResult{Healthy: healthy, Latency: latency, Err: probeErr}
}
