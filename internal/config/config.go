package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prompt-optimizer/internal/cost"
	"github.com/sells-group/prompt-optimizer/internal/tracing"
)

// Provider names accepted by agent.provider and mentor.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Mentor     MentorConfig     `yaml:"mentor" mapstructure:"mentor"`
	Optimizer  OptimizerConfig  `yaml:"optimizer" mapstructure:"optimizer"`
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Tracing    tracing.Config   `yaml:"tracing" mapstructure:"tracing"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	Referer         string `yaml:"referer" mapstructure:"referer"`
	Title           string `yaml:"title" mapstructure:"title"`
	ReasoningEffort string `yaml:"reasoning_effort" mapstructure:"reasoning_effort"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// AgentConfig configures the extraction model.
type AgentConfig struct {
	Provider    string   `yaml:"provider" mapstructure:"provider" validate:"oneof=openrouter anthropic"`
	Model       string   `yaml:"model" mapstructure:"model" validate:"required"`
	Temperature float64  `yaml:"temperature" mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	Fields      []string `yaml:"fields" mapstructure:"fields"`
}

// MentorConfig configures the prompt-writing model.
type MentorConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider" validate:"oneof=openrouter anthropic"`
	Model        string  `yaml:"model" mapstructure:"model" validate:"required"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
	MaxFailures  int     `yaml:"max_failures" mapstructure:"max_failures" validate:"min=0"`
	SourceTokens int     `yaml:"source_tokens" mapstructure:"source_tokens" validate:"min=0"`
	Encoding     string  `yaml:"encoding" mapstructure:"encoding"`
}

// OptimizerConfig configures the optimization loop.
type OptimizerConfig struct {
	WindowSize    int  `yaml:"window_size" mapstructure:"window_size"`
	LoopCount     int  `yaml:"loop_count" mapstructure:"loop_count"`
	Concurrency   int  `yaml:"concurrency" mapstructure:"concurrency"`
	MaxFailures   int  `yaml:"max_failures" mapstructure:"max_failures"`
	CaseSensitive bool `yaml:"case_sensitive" mapstructure:"case_sensitive"`
}

// DatasetConfig selects the labeled samples to optimize against.
type DatasetConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Limit int    `yaml:"limit" mapstructure:"limit"`
}

// RetryConfig configures retry behavior for LLM calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// RateLimitConfig caps LLM request throughput per provider.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// CircuitConfig configures the LLM circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the read-only run API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

var validate = validator.New()

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROMPTOPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys also honor their conventional variable names.
	if err := v.BindEnv("openrouter.key", "PROMPTOPT_OPENROUTER_KEY", "OPENROUTER_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind openrouter key")
	}
	if err := v.BindEnv("anthropic.key", "PROMPTOPT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Pricing = cost.DefaultRates().Merge(cfg.Pricing.Models)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prompt-optimizer.db")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.referer", "https://github.com/prompt-optimizer")
	v.SetDefault("openrouter.title", "Prompt Optimizer")
	v.SetDefault("openrouter.reasoning_effort", "low")
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("agent.provider", ProviderOpenRouter)
	v.SetDefault("agent.model", "openai/gpt-5-nano")
	v.SetDefault("agent.temperature", 0.3)
	v.SetDefault("agent.max_tokens", 1024)
	v.SetDefault("agent.fields", []string{})
	v.SetDefault("mentor.provider", ProviderOpenRouter)
	v.SetDefault("mentor.model", "openai/gpt-5-nano")
	v.SetDefault("mentor.temperature", 0.7)
	v.SetDefault("mentor.max_tokens", 4096)
	v.SetDefault("mentor.max_failures", 10)
	v.SetDefault("mentor.source_tokens", 200)
	v.SetDefault("mentor.encoding", "cl100k_base")
	v.SetDefault("optimizer.window_size", 2)
	v.SetDefault("optimizer.loop_count", 3)
	v.SetDefault("optimizer.concurrency", 1)
	v.SetDefault("optimizer.max_failures", 0)
	v.SetDefault("optimizer.case_sensitive", false)
	v.SetDefault("dataset.path", "resources/pii/english_pii_43k.jsonl")
	v.SetDefault("dataset.limit", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("tracing.exporter", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "prompt-optimizer")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate checks the settings needed by the given command mode:
// "optimize", "serve" or "runs". Optimizer loop settings are validated by
// the optimizer itself.
func (c *Config) Validate(mode string) error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}

	var errs []string
	switch mode {
	case "optimize":
		for _, p := range []string{c.Agent.Provider, c.Mentor.Provider} {
			if c.ProviderKey(p) == "" {
				errs = append(errs, p+".key is required")
			}
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "serve", "runs":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(dedupe(errs), "; "))
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ProviderKey returns the API key configured for provider.
func (c *Config) ProviderKey(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return c.Anthropic.Key
	default:
		return c.OpenRouter.Key
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
