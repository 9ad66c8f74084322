package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

// ollamaAdapter speaks the native Ollama chat API of a self-hosted runtime.
// No credentials are involved; usability hinges on reachability alone.
type ollamaAdapter struct {
	base
}

const ollamaDefaultBaseURL = "http://localhost:11434"

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

func newOllamaAdapter(cfg domain.BackendConfig, httpPool *pool.Pool, logger *slog.Logger) *ollamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaDefaultBaseURL
	}
	return &ollamaAdapter{base: base{cfg: cfg, pool: httpPool, logger: logger}}
}

func (a *ollamaAdapter) Provider() domain.ProviderKind { return domain.ProviderOllama }

func (a *ollamaAdapter) Supports(option string) bool {
	switch option {
	case OptionTemperature, OptionMaxTokens, OptionSystem, OptionModel:
		return true
	default:
		return false
	}
}

func (a *ollamaAdapter) ValidateConfig() []domain.ConfigIssue {
	return a.validateCommon()
}

func (a *ollamaAdapter) Send(ctx context.Context, prompt string, opts domain.EffectiveOptions) (*domain.Response, error) {
	messages := make([]ollamaChatMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: prompt})

	wireReq := ollamaChatRequest{
		Model:    opts.Model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, domain.NewBackendError(domain.ErrInternal, a.cfg.Name, "encode request", err)
	}

	start := time.Now()
	resp, err := a.pool.Do(ctx, &pool.Request{
		Method:  http.MethodPost,
		URL:     endpoint(a.cfg.BaseURL, "/api/chat"),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, attachBackend(err, a.cfg.Name)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, classifyHTTPFailure(a.cfg.Name, resp)
	}

	var wireResp ollamaChatResponse
	if err := json.Unmarshal(resp.Body, &wireResp); err != nil {
		return nil, domain.NewBackendError(domain.ErrBackendServer, a.cfg.Name, "malformed chat response", err)
	}
	latency := time.Since(start)

	tokensIn, tokensOut := wireResp.PromptEvalCount, wireResp.EvalCount
	tokenSource := domain.TokenSourceReported
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = estimateTokens(prompt) + estimateTokens(opts.System)
		tokensOut = estimateTokens(wireResp.Message.Content)
		tokenSource = domain.TokenSourceEstimated
	}

	model := wireResp.Model
	if model == "" {
		model = opts.Model
	}

	return &domain.Response{
		Content:      wireResp.Message.Content,
		BackendUsed:  a.cfg.Name,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		CostEUR:      a.EstimateCost(tokensIn, tokensOut),
		Latency:      latency,
		Metadata: domain.ResponseMetadata{
			Model:        model,
			FinishReason: wireResp.DoneReason,
			TokenSource:  tokenSource,
		},
	}, nil
}

// ProbeHealth lists installed models; /api/tags is cheap and unauthenticated.
func (a *ollamaAdapter) ProbeHealth(ctx context.Context) domain.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	path := a.cfg.HealthPath
	if path == "" {
		path = "/api/tags"
	}

	start := time.Now()
	resp, err := a.pool.Do(probeCtx, &pool.Request{
		Method:  http.MethodGet,
		URL:     endpoint(a.cfg.BaseURL, path),
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
