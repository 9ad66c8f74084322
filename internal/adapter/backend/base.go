// Package backend implements the per-provider adapters. Each adapter encodes
// requests for its wire protocol, classifies native failures onto the shared
// taxonomy and accounts tokens and cost. The variant set is closed: openai
// (also serving qwen/flexcon gateways), anthropic_claude and ollama_local.
package backend

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/claudette-ai/claudette/internal/adapter/pool"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	probeTimeout = 3 * time.Second

	// charsPerToken is the English fallback when the provider does not report
	// usage. Estimates are flagged via metadata.tokenSource.
	charsPerToken = 4

	OptionTemperature = "temperature"
	OptionMaxTokens   = "max_tokens"
	OptionSystem      = "system"
	OptionModel       = "model"
)

// New constructs the adapter for a backend descriptor. Unknown providers are a
// configuration error.
func New(cfg domain.BackendConfig, httpPool *pool.Pool, logger *slog.Logger) (ports.BackendAdapter, error) {
	switch cfg.Provider.Canonical() {
	case domain.ProviderOpenAI:
		return newOpenAIAdapter(cfg, httpPool, logger), nil
	case domain.ProviderAnthropic:
		return newAnthropicAdapter(cfg, httpPool, logger), nil
	case domain.ProviderOllama:
		return newOllamaAdapter(cfg, httpPool, logger), nil
	default:
		return nil, domain.NewErrorf(domain.ErrConfigInvalid,
			"backend %s: unknown provider %q", cfg.Name, cfg.Provider)
	}
}

// base carries the behaviour every adapter shares.
type base struct {
	pool   *pool.Pool
	logger *slog.Logger
	cfg    domain.BackendConfig
}

func (b *base) Name() string                 { return b.cfg.Name }
func (b *base) Config() domain.BackendConfig { return b.cfg }

func (b *base) EstimateCost(tokensIn, tokensOut int) float64 {
	return domain.RoundCost(float64(tokensIn+tokensOut) / 1000.0 * b.cfg.CostPerKToken)
}

func (b *base) validateCommon() []domain.ConfigIssue {
	var issues []domain.ConfigIssue
	field := "backends." + b.cfg.Name
	if b.cfg.Model == "" {
		issues = append(issues, domain.ConfigIssue{
			Field: field + ".model", Reason: "model is required", Severity: domain.SeverityError,
		})
	}
	if b.cfg.BaseURL == "" {
		issues = append(issues, domain.ConfigIssue{
			Field: field + ".baseURL", Reason: "base URL is required", Severity: domain.SeverityError,
		})
	}
	if b.cfg.CostPerKToken < 0 {
		issues = append(issues, domain.ConfigIssue{
			Field:  field + ".costPerKToken",
			Value:  fmt.Sprintf("%g", b.cfg.CostPerKToken),
			Reason: "must be >= 0", Severity: domain.SeverityError,
		})
	}
	return issues
}

// estimateTokens is the deterministic fallback tokenizer.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// endpoint joins a base URL and path without doubling slashes.
func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// contextLengthMarkers are body substrings that identify a context-window
// overflow across the supported providers.
var contextLengthMarkers = []string{
	"context_length_exceeded",
	"context length",
	"maximum context",
	"prompt is too long",
	"too many tokens",
	"input length exceeds",
}

// classifyHTTPFailure maps a non-2xx response to a classified error, probing
// the error body for the context-length case which is surfaced distinctly.
func classifyHTTPFailure(backend string, resp *pool.Response) *domain.Error {
	msg := extractErrorMessage(resp.Body)

	lowered := strings.ToLower(msg + " " + gjson.GetBytes(resp.Body, "error.code").String())
	for _, marker := range contextLengthMarkers {
		if strings.Contains(lowered, marker) {
			return domain.NewBackendError(domain.ErrContextLength, backend,
				"context length exceeded", nil)
		}
	}

	kind := domain.KindForFailure(domain.ClassifyStatus(resp.Status))
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.Status)
	} else {
		msg = fmt.Sprintf("HTTP %d: %s", resp.Status, msg)
	}
	return domain.NewBackendError(kind, backend, msg, nil)
}

// extractErrorMessage pulls a human-readable error out of the common provider
// error envelopes.
func extractErrorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}
