package config

import (
	"time"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// Config is the validated library configuration. The JSON shape mirrors the
// sections consumers provide; defaults fill everything else.
type Config struct {
	Backends   map[string]BackendSettings `mapstructure:"backends" json:"backends"`
	Features   Features                   `mapstructure:"features" json:"features"`
	Thresholds Thresholds                 `mapstructure:"thresholds" json:"thresholds"`
	RAG        RAGSettings                `mapstructure:"rag" json:"rag"`
	Router     RouterSettings             `mapstructure:"router" json:"router"`
	Logging    LoggingSettings            `mapstructure:"logging" json:"logging"`
	DataDir    string                     `mapstructure:"dataDir" json:"dataDir"`
}

// BackendSettings configures one backend. Provider is usually inferred from
// the backend name; it may be set explicitly for custom names.
type BackendSettings struct {
	Enabled       bool    `mapstructure:"enabled" json:"enabled"`
	Priority      int     `mapstructure:"priority" json:"priority"`
	CostPerKToken float64 `mapstructure:"costPerKToken" json:"costPerKToken"`
	Model         string  `mapstructure:"model" json:"model"`
	MaxTokens     int     `mapstructure:"maxTokens" json:"maxTokens"`
	Temperature   float64 `mapstructure:"temperature" json:"temperature"`
	BaseURL       string  `mapstructure:"baseURL" json:"baseURL,omitempty"`
	APIKey        string  `mapstructure:"apiKey" json:"apiKey,omitempty"`
	Provider      string  `mapstructure:"provider" json:"provider,omitempty"`
	Type          string  `mapstructure:"type" json:"type,omitempty"`
	HealthPath    string  `mapstructure:"healthPath" json:"healthPath,omitempty"`
}

type Features struct {
	Caching               bool `mapstructure:"caching" json:"caching"`
	CostOptimization      bool `mapstructure:"costOptimization" json:"costOptimization"`
	SmartRouting          bool `mapstructure:"smartRouting" json:"smartRouting"`
	PerformanceMonitoring bool `mapstructure:"performanceMonitoring" json:"performanceMonitoring"`
	Compression           bool `mapstructure:"compression" json:"compression"`
	Summarization         bool `mapstructure:"summarization" json:"summarization"`
}

type Thresholds struct {
	CacheTTLSeconds int     `mapstructure:"cacheTtlSeconds" json:"cacheTtlSeconds"`
	MaxCacheEntries int     `mapstructure:"maxCacheEntries" json:"maxCacheEntries"`
	CostWarningEUR  float64 `mapstructure:"costWarningEur" json:"costWarningEur"`
	MaxContextToken int     `mapstructure:"maxContextTokens" json:"maxContextTokens"`
}

type RAGSettings struct {
	Providers       map[string]map[string]any `mapstructure:"providers" json:"providers"`
	FallbackChain   []string                  `mapstructure:"fallbackChain" json:"fallbackChain"`
	DefaultProvider string                    `mapstructure:"defaultProvider" json:"defaultProvider,omitempty"`
}

type RouterSettings struct {
	Weights     Weights `mapstructure:"weights" json:"weights"`
	MaxAttempts int     `mapstructure:"maxAttempts" json:"maxAttempts"`
}

type Weights struct {
	Cost         float64 `mapstructure:"cost" json:"cost"`
	Latency      float64 `mapstructure:"latency" json:"latency"`
	Availability float64 `mapstructure:"availability" json:"availability"`
}

type LoggingSettings struct {
	Level      string `mapstructure:"level" json:"level"`
	LogDir     string `mapstructure:"logDir" json:"logDir,omitempty"`
	FileOutput bool   `mapstructure:"fileOutput" json:"fileOutput"`
}

// CacheTTL returns the configured TTL or the default.
func (t Thresholds) CacheTTL() time.Duration {
	if t.CacheTTLSeconds <= 0 {
		return domain.DefaultCacheTTL
	}
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

// Report is the structured outcome of validation.
type Report struct {
	Issues     []domain.ConfigIssue
	Valid      bool
	Normalized bool
}

func (r *Report) addError(field, value, reason string) {
	r.Issues = append(r.Issues, domain.ConfigIssue{
		Field: field, Value: value, Reason: reason, Severity: domain.SeverityError,
	})
	r.Valid = false
}

func (r *Report) addWarning(field, value, reason string) {
	r.Issues = append(r.Issues, domain.ConfigIssue{
		Field: field, Value: value, Reason: reason, Severity: domain.SeverityWarning,
	})
}
