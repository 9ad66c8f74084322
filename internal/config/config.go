package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/util"
)

// Environment variables recognised during credential resolution.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvQwenKey       = "QWEN_API_KEY"
	EnvFlexconKey    = "FLEXCON_API_KEY"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvConfigPath    = "CLAUDETTE_CONFIG_PATH"
	EnvLogLevel      = "CLAUDETTE_LOG_LEVEL"
)

// Default returns a configuration with sensible defaults and no backends.
func Default() *Config {
	return &Config{
		Backends: map[string]BackendSettings{},
		Features: Features{
			Caching:               true,
			CostOptimization:      true,
			SmartRouting:          true,
			PerformanceMonitoring: true,
		},
		Thresholds: Thresholds{
			CacheTTLSeconds: 3600,
			MaxCacheEntries: 10000,
			CostWarningEUR:  0.10,
			MaxContextToken: 8192,
		},
		RAG: RAGSettings{
			Providers: map[string]map[string]any{},
		},
		Router: RouterSettings{
			Weights:     Weights{Cost: 0.4, Latency: 0.4, Availability: 0.2},
			MaxAttempts: 3,
		},
		Logging: LoggingSettings{Level: "info"},
		DataDir: defaultDataDir(),
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "claudette"
	}
	return ".claudette"
}

// Load reads the JSON configuration from path (or CLAUDETTE_CONFIG_PATH, or
// the working directory) merged over defaults, then resolves credentials from
// the environment. A missing file is not an error; an unreadable one is.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("json")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("claudette")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CLAUDETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errorsAs(err, &notFound) && path != "" {
			return nil, nil, domain.WrapError(domain.ErrConfigInvalid,
				fmt.Sprintf("cannot read config at %s", path), err)
		}
		if path != "" {
			if _, statErr := os.Stat(path); statErr != nil {
				return nil, nil, domain.WrapError(domain.ErrConfigInvalid,
					fmt.Sprintf("cannot read config at %s", path), err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, domain.WrapError(domain.ErrConfigInvalid, "cannot decode config", err)
	}

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}

	cfg.ResolveCredentials()

	return cfg, v, nil
}

// errorsAs is a tiny wrapper so the viper sentinel check reads cleanly above.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// Watch installs a config-file watcher. Only runtime-tunable backend fields
// (enabled, priority, cost) are expected to change; onChange receives the
// freshly decoded config and decides what to apply.
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v == nil || onChange == nil {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		next := Default()
		if err := v.Unmarshal(next); err != nil {
			return
		}
		next.ResolveCredentials()
		onChange(next)
	})
	v.WatchConfig()
}

// ResolveCredentials fills empty API keys and base URLs from the recognised
// environment variables.
func (c *Config) ResolveCredentials() {
	for name, b := range c.Backends {
		provider := c.providerFor(name, b)
		if b.APIKey == "" {
			switch provider {
			case domain.ProviderOpenAI:
				if strings.HasPrefix(strings.ToLower(name), "flexcon") {
					b.APIKey = os.Getenv(EnvFlexconKey)
				}
				if b.APIKey == "" {
					b.APIKey = os.Getenv(EnvOpenAIKey)
				}
			case domain.ProviderAnthropic:
				b.APIKey = os.Getenv(EnvAnthropicKey)
			case domain.ProviderQwen:
				b.APIKey = os.Getenv(EnvQwenKey)
			case domain.ProviderOllama:
				// Local runtimes need no key.
			}
		}
		if provider == domain.ProviderOllama && b.BaseURL == "" {
			b.BaseURL = os.Getenv(EnvOllamaBaseURL)
		}
		c.Backends[name] = b
	}
}

// providerFor infers the wire protocol from the backend name when no explicit
// provider override is present. Unknown names are left unresolved; validation
// rejects them.
func (c *Config) providerFor(name string, b BackendSettings) domain.ProviderKind {
	if b.Provider != "" {
		return domain.ProviderKind(b.Provider)
	}
	switch {
	case strings.HasPrefix(name, "openai"), strings.HasPrefix(name, "flexcon"):
		return domain.ProviderOpenAI
	case strings.HasPrefix(name, "claude"), strings.HasPrefix(name, "anthropic"):
		return domain.ProviderAnthropic
	case strings.HasPrefix(name, "qwen"):
		return domain.ProviderQwen
	case strings.HasPrefix(name, "ollama"):
		return domain.ProviderOllama
	default:
		return ""
	}
}

// BackendConfigs converts validated settings into domain descriptors, in
// deterministic name order.
func (c *Config) BackendConfigs() []domain.BackendConfig {
	names := sortedBackendNames(c.Backends)
	out := make([]domain.BackendConfig, 0, len(names))
	for _, name := range names {
		b := c.Backends[name]
		provider := c.providerFor(name, b)
		btype := domain.BackendType(b.Type)
		if btype == "" {
			if provider == domain.ProviderOllama {
				btype = domain.BackendTypeSelfHosted
			} else {
				btype = domain.BackendTypeCloud
			}
		}
		out = append(out, domain.BackendConfig{
			Name:          name,
			Provider:      provider,
			Type:          btype,
			Enabled:       b.Enabled,
			Priority:      b.Priority,
			BaseURL:       b.BaseURL,
			APIKey:        b.APIKey,
			Model:         b.Model,
			MaxTokens:     b.MaxTokens,
			Temperature:   b.Temperature,
			CostPerKToken: b.CostPerKToken,
			HealthPath:    b.HealthPath,
		})
	}
	return out
}

// MaskedBackends returns a log-safe view of the backend section.
func (c *Config) MaskedBackends() map[string]string {
	out := make(map[string]string, len(c.Backends))
	for name, b := range c.Backends {
		out[name] = fmt.Sprintf("enabled=%t priority=%d model=%s key=%s",
			b.Enabled, b.Priority, b.Model, util.MaskKey(b.APIKey))
	}
	return out
}
