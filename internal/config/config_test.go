package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claudette.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func enabledBackend(model string) BackendSettings {
	return BackendSettings{Enabled: true, Model: model, APIKey: "sk-x", CostPerKToken: 0.002}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Features.Caching)
	assert.True(t, cfg.Features.SmartRouting)
	assert.Equal(t, 3600, cfg.Thresholds.CacheTTLSeconds)
	assert.Equal(t, Weights{Cost: 0.4, Latency: 0.4, Availability: 0.2}, cfg.Router.Weights)
	assert.Equal(t, 3, cfg.Router.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_FileMergedOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"backends": {
			"openai": {"enabled": true, "model": "gpt-4o", "apiKey": "sk-file", "costPerKToken": 0.0025}
		},
		"thresholds": {"cacheTtlSeconds": 120}
	}`)

	cfg, v, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, 120, cfg.Thresholds.CacheTTLSeconds)
	assert.True(t, cfg.Features.Caching, "unset sections keep their defaults")

	b := cfg.Backends["openai"]
	assert.True(t, b.Enabled)
	assert.Equal(t, "gpt-4o", b.Model)
	assert.Equal(t, "sk-file", b.APIKey)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Backends)
}

func TestLoad_ExplicitMissingPathFails(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrConfigInvalid, domain.AsError(err).Kind)
}

func TestLoad_MalformedJSONFails(t *testing.T) {
	path := writeConfig(t, `{"backends": {`)
	_, _, err := Load(path)
	require.Error(t, err)
}

func TestResolveCredentials_FromEnvironment(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-env-openai")
	t.Setenv(EnvAnthropicKey, "sk-env-claude")

	cfg := Default()
	cfg.Backends["openai"] = BackendSettings{Enabled: true, Model: "m"}
	cfg.Backends["claude"] = BackendSettings{Enabled: true, Model: "m"}
	cfg.Backends["ollama"] = BackendSettings{Enabled: true, Model: "m"}
	cfg.ResolveCredentials()

	assert.Equal(t, "sk-env-openai", cfg.Backends["openai"].APIKey)
	assert.Equal(t, "sk-env-claude", cfg.Backends["claude"].APIKey)
	assert.Empty(t, cfg.Backends["ollama"].APIKey, "local runtimes take no key")
}

func TestResolveCredentials_ExplicitKeyWins(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-env")

	cfg := Default()
	cfg.Backends["openai"] = BackendSettings{Enabled: true, Model: "m", APIKey: "sk-explicit"}
	cfg.ResolveCredentials()

	assert.Equal(t, "sk-explicit", cfg.Backends["openai"].APIKey)
}

func TestProviderInference(t *testing.T) {
	cfg := Default()
	cases := map[string]domain.ProviderKind{
		"openai":       domain.ProviderOpenAI,
		"flexcon-eu":   domain.ProviderOpenAI,
		"claude":       domain.ProviderAnthropic,
		"anthropic":    domain.ProviderAnthropic,
		"qwen":         domain.ProviderQwen,
		"ollama-local": domain.ProviderOllama,
	}
	for name, want := range cases {
		assert.Equal(t, want, cfg.providerFor(name, BackendSettings{}), name)
	}
	assert.Empty(t, cfg.providerFor("mystery", BackendSettings{}))
	assert.Equal(t, domain.ProviderOpenAI,
		cfg.providerFor("mystery", BackendSettings{Provider: "openai"}),
		"an explicit provider overrides name inference")
}

func TestValidate_UnknownBackendNameRejected(t *testing.T) {
	cfg := Default()
	cfg.Backends["mystery"] = enabledBackend("m")

	report := cfg.Validate()
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "backends.mystery", report.Issues[0].Field)
}

func TestValidate_MissingModelRejected(t *testing.T) {
	cfg := Default()
	cfg.Backends["openai"] = BackendSettings{Enabled: true, APIKey: "sk-x"}

	report := cfg.Validate()
	assert.False(t, report.Valid)
}

func TestValidate_MaxTokensDefaulted(t *testing.T) {
	cfg := Default()
	cfg.Backends["openai"] = enabledBackend("gpt-4o")

	report := cfg.Validate()
	assert.True(t, report.Valid)
	assert.Equal(t, 4096, cfg.Backends["openai"].MaxTokens)
}

func TestValidate_TemperatureRange(t *testing.T) {
	cfg := Default()
	b := enabledBackend("m")
	b.Temperature = 2.5
	cfg.Backends["openai"] = b

	assert.False(t, cfg.Validate().Valid)
}

func TestValidate_MissingKeyIsWarningOnly(t *testing.T) {
	cfg := Default()
	b := enabledBackend("m")
	b.APIKey = ""
	cfg.Backends["openai"] = b

	report := cfg.Validate()
	assert.True(t, report.Valid, "a missing key degrades the backend, it does not block startup")
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, domain.SeverityWarning, report.Issues[0].Severity)
}

func TestValidate_WeightsNormalised(t *testing.T) {
	cfg := Default()
	cfg.Router.Weights = Weights{Cost: 2, Latency: 1, Availability: 1}

	report := cfg.Validate()
	assert.True(t, report.Valid)
	assert.True(t, report.Normalized)
	assert.InDelta(t, 0.5, cfg.Router.Weights.Cost, 1e-9)
	assert.InDelta(t, 0.25, cfg.Router.Weights.Latency, 1e-9)
	assert.InDelta(t, 0.25, cfg.Router.Weights.Availability, 1e-9)
}

func TestValidate_ZeroWeightsSelectUniformly(t *testing.T) {
	cfg := Default()
	cfg.Router.Weights = Weights{}

	report := cfg.Validate()
	assert.True(t, report.Valid)
	assert.InDelta(t, 1.0/3, cfg.Router.Weights.Cost, 1e-9)
	assert.InDelta(t, 1.0/3, cfg.Router.Weights.Latency, 1e-9)
	assert.InDelta(t, 1.0/3, cfg.Router.Weights.Availability, 1e-9)
}

func TestValidate_RAGChainMustReferenceProviders(t *testing.T) {
	cfg := Default()
	cfg.RAG.FallbackChain = []string{"ghost"}

	report := cfg.Validate()
	assert.False(t, report.Valid)
}

func TestValidate_RAGDefaultMustBeConfigured(t *testing.T) {
	cfg := Default()
	cfg.RAG.DefaultProvider = "ghost"

	assert.False(t, cfg.Validate().Valid)
}

func TestValidate_NoBackendsIsWarning(t *testing.T) {
	cfg := Default()
	report := cfg.Validate()
	assert.True(t, report.Valid)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, domain.SeverityWarning, report.Issues[0].Severity)
}

func TestMaskedBackends(t *testing.T) {
	cfg := Default()
	cfg.Backends["openai"] = BackendSettings{
		Enabled: true, Priority: 2, Model: "gpt-4o", APIKey: "sk-verysecret-abcd",
	}

	masked := cfg.MaskedBackends()["openai"]
	assert.NotContains(t, masked, "sk-verysecret-abcd")
	assert.Contains(t, masked, "abcd", "the last four characters stay visible")
	assert.Contains(t, masked, "model=gpt-4o")
}

func TestBackendConfigs_DeterministicOrderAndTypes(t *testing.T) {
	cfg := Default()
	cfg.Backends["ollama"] = BackendSettings{Enabled: true, Model: "llama3.2"}
	cfg.Backends["claude"] = BackendSettings{Enabled: true, Model: "sonnet", APIKey: "k"}

	configs := cfg.BackendConfigs()
	require.Len(t, configs, 2)
	assert.Equal(t, "claude", configs[0].Name, "name order is deterministic")
	assert.Equal(t, domain.BackendTypeCloud, configs[0].Type)
	assert.Equal(t, domain.BackendTypeSelfHosted, configs[1].Type)
}
