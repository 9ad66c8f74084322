package domain

import (
	"time"
)

// ProviderKind is the closed set of wire protocols a backend may speak.
// Qwen and Flexcon gateways are OpenAI-compatible and resolve to
// ProviderOpenAI with their own base URL; qwen_compatible is accepted in
// configuration as an alias.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic_claude"
	ProviderQwen      ProviderKind = "qwen_compatible"
	ProviderOllama    ProviderKind = "ollama_local"
)

func (p ProviderKind) IsValid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderQwen, ProviderOllama:
		return true
	default:
		return false
	}
}

// Canonical collapses configuration aliases onto the wire protocol that
// actually serves them.
func (p ProviderKind) Canonical() ProviderKind {
	if p == ProviderQwen {
		return ProviderOpenAI
	}
	return p
}

type BackendType string

const (
	BackendTypeCloud      BackendType = "cloud"
	BackendTypeSelfHosted BackendType = "self_hosted"
)

// BackendConfig describes a single configured backend.
type BackendConfig struct {
	Name          string
	Provider      ProviderKind
	Type          BackendType
	Enabled       bool
	Priority      int
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	Temperature   float64
	CostPerKToken float64
	HealthPath    string
}

func (c *BackendConfig) HasAPIKey() bool {
	return c.APIKey != ""
}

// ConfigIssue is one finding from adapter or schema validation.
type ConfigIssue struct {
	Field    string
	Value    string
	Reason   string
	Severity IssueSeverity
}

type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// HealthRecord is the in-memory health state of one backend. It is created at
// registration and mutated by the health monitor and by every completed call.
type HealthRecord struct {
	Backend       string
	Healthy       bool
	Latency       time.Duration
	LastProbe     time.Time
	FailureStreak int
}

// HealthTTL is how long a probe result stays authoritative. Requests seeing a
// record older than this schedule an async refresh but do not block.
const HealthTTL = 30 * time.Second

// Fresh reports whether the record is recent enough to be used as-is.
func (h *HealthRecord) Fresh(now time.Time) bool {
	return now.Sub(h.LastProbe) < HealthTTL
}

// ProbeResult is the outcome of a single health probe.
type ProbeResult struct {
	Healthy bool
	Latency time.Duration
	Err     error
}
