package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
)

// openaiAdapter speaks the OpenAI chat-completions protocol. With a custom
// base URL it also serves Qwen and Flexcon compatible gateways; only the
// credentials and cost model differ.
type openaiAdapter struct {
	base
	provider domain.ProviderKind
}

const openaiDefaultBaseURL = "https://api.openai.com/v1"

func newOpenAIAdapter(cfg domain.BackendConfig, httpPool *pool.Pool, logger *slog.Logger) *openaiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultBaseURL
	}
	return &openaiAdapter{
		base:     base{cfg: cfg, pool: httpPool, logger: logger},
		provider: cfg.Provider,
	}
}

func (a *openaiAdapter) Provider() domain.ProviderKind { return a.provider }

func (a *openaiAdapter) Supports(option string) bool {
	switch option {
	case OptionTemperature, OptionMaxTokens, OptionSystem, OptionModel:
		return true
	default:
		return false
	}
}

func (a *openaiAdapter) ValidateConfig() []domain.ConfigIssue {
	issues := a.validateCommon()
	if !a.cfg.HasAPIKey() {
		issues = append(issues, domain.ConfigIssue{
			Field:    "backends." + a.cfg.Name + ".apiKey",
			Reason:   "API key is required for OpenAI-compatible backends",
			Severity: domain.SeverityError,
		})
	}
	return issues
}

func (a *openaiAdapter) Send(ctx context.Context, prompt string, opts domain.EffectiveOptions) (*domain.Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	wireReq := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, domain.NewBackendError(domain.ErrInternal, a.cfg.Name, "encode request", err)
	}

	start := time.Now()
	resp, err := a.pool.Do(ctx, &pool.Request{
		Method: http.MethodPost,
		URL:    endpoint(a.cfg.BaseURL, "/chat/completions"),
		Headers: map[string]string{
			"Authorization": "Bearer " + a.cfg.APIKey,
			"Content-Type":  "application/json",
		},
		Body:    body,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, attachBackend(err, a.cfg.Name)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, classifyHTTPFailure(a.cfg.Name, resp)
	}

	var wireResp openai.ChatCompletionResponse
	if err := json.Unmarshal(resp.Body, &wireResp); err != nil {
		return nil, domain.NewBackendError(domain.ErrBackendServer, a.cfg.Name, "malformed completion response", err)
	}
	latency := time.Since(start)

	if len(wireResp.Choices) == 0 {
		return nil, domain.NewBackendError(domain.ErrBackendServer, a.cfg.Name, "response contained no choices", nil)
	}
	choice := wireResp.Choices[0]

	tokensIn, tokensOut := wireResp.Usage.PromptTokens, wireResp.Usage.CompletionTokens
	tokenSource := domain.TokenSourceReported
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = estimateTokens(prompt) + estimateTokens(opts.System)
		tokensOut = estimateTokens(choice.Message.Content)
		tokenSource = domain.TokenSourceEstimated
	}

	model := wireResp.Model
	if model == "" {
		model = opts.Model
	}

	return &domain.Response{
		Content:      choice.Message.Content,
		BackendUsed:  a.cfg.Name,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		CostEUR:      a.EstimateCost(tokensIn, tokensOut),
		Latency:      latency,
		Metadata: domain.ResponseMetadata{
			Model:        model,
			FinishReason: string(choice.FinishReason),
			TokenSource:  tokenSource,
		},
	}, nil
}

// ProbeHealth lists models, the cheapest authenticated call the protocol has.
func (a *openaiAdapter) ProbeHealth(ctx context.Context) domain.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	path := a.cfg.HealthPath
	if path == "" {
		path = "/models"
	}

	start := time.Now()
	resp, err := a.pool.Do(probeCtx, &pool.Request{
		Method:  http.MethodGet,
		URL:     endpoint(a.cfg.BaseURL, path),
		Headers: map[string]string{"Authorization": "Bearer " + a.cfg.APIKey},
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

// attachBackend stamps pool-level errors with the backend name.
func attachBackend(err error, backend string) error {
	if ce := domain.AsError(err); ce != nil {
		if ce.Backend == "" {
			ce.Backend = backend
		}
		return ce
	}
	return err
}
