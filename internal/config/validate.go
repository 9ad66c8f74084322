package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

const weightTolerance = 0.01

// Validate checks the configuration, applies safe defaults and normalises the
// router weights in place. The report lists every finding; Valid is false only
// when an error-severity issue is present.
func (c *Config) Validate() *Report {
	report := &Report{Valid: true}

	c.validateBackends(report)
	c.validateThresholds(report)
	c.validateRouter(report)
	c.validateRAG(report)

	return report
}

func (c *Config) validateBackends(report *Report) {
	if len(c.Backends) == 0 {
		report.addWarning("backends", "", "no backends configured; every request will fail with no_backend")
		return
	}

	for _, name := range sortedBackendNames(c.Backends) {
		b := c.Backends[name]
		field := "backends." + name

		provider := c.providerFor(name, b)
		if provider == "" {
			report.addError(field, name, "unknown backend name; set an explicit provider (openai, anthropic_claude, qwen_compatible, ollama_local)")
			continue
		}
		if !provider.IsValid() {
			report.addError(field+".provider", string(provider), "unknown provider variant")
			continue
		}

		if b.Model == "" {
			report.addError(field+".model", "", "model is required")
		}
		if b.CostPerKToken < 0 {
			report.addError(field+".costPerKToken", fmt.Sprintf("%g", b.CostPerKToken), "must be >= 0")
		}
		if b.Temperature < 0 || b.Temperature > 2 {
			report.addError(field+".temperature", fmt.Sprintf("%g", b.Temperature), "must be within [0, 2]")
		}
		if b.MaxTokens < 0 {
			report.addError(field+".maxTokens", fmt.Sprintf("%d", b.MaxTokens), "must be >= 0")
		}
		if b.Enabled && provider.Canonical() != domain.ProviderOllama && b.APIKey == "" {
			report.addWarning(field+".apiKey", "", "enabled backend has no API key; it will be unusable until credentials resolve")
		}
		if b.MaxTokens == 0 {
			b.MaxTokens = 4096
			c.Backends[name] = b
		}
	}
}

func (c *Config) validateThresholds(report *Report) {
	if c.Thresholds.CacheTTLSeconds < 0 {
		report.addError("thresholds.cacheTtlSeconds", fmt.Sprintf("%d", c.Thresholds.CacheTTLSeconds), "must be >= 0")
	}
	if c.Thresholds.MaxCacheEntries <= 0 {
		c.Thresholds.MaxCacheEntries = 10000
	}
	if c.Thresholds.MaxContextToken <= 0 {
		c.Thresholds.MaxContextToken = 8192
	}
}

func (c *Config) validateRouter(report *Report) {
	w := &c.Router.Weights
	sum := w.Cost + w.Latency + w.Availability

	switch {
	case sum == 0:
		// Degenerate weights select uniformly.
		w.Cost, w.Latency, w.Availability = 1.0/3, 1.0/3, 1.0/3
		report.addWarning("router.weights", "0", "weights sum to zero; selecting uniformly")
		report.Normalized = true
	case math.Abs(sum-1.0) > weightTolerance:
		w.Cost /= sum
		w.Latency /= sum
		w.Availability /= sum
		report.addWarning("router.weights", fmt.Sprintf("%.3f", sum), "weights did not sum to 1.0; normalised")
		report.Normalized = true
	}

	if w.Cost < 0 || w.Latency < 0 || w.Availability < 0 {
		report.addError("router.weights", "", "weights must be non-negative")
	}

	if c.Router.MaxAttempts <= 0 {
		c.Router.MaxAttempts = 3
	}
}

func (c *Config) validateRAG(report *Report) {
	for _, name := range c.RAG.FallbackChain {
		if _, ok := c.RAG.Providers[name]; !ok {
			report.addError("rag.fallbackChain", name, "fallback chain references an unconfigured provider")
		}
	}
	if c.RAG.DefaultProvider != "" {
		if _, ok := c.RAG.Providers[c.RAG.DefaultProvider]; !ok {
			report.addError("rag.defaultProvider", c.RAG.DefaultProvider, "default provider is not configured")
		}
	}
}

func sortedBackendNames(backends map[string]BackendSettings) []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}
