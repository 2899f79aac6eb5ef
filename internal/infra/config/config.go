package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds settings for a single LLM provider backend.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"` // plaintext or "enc:<salt>:<data>"
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	// RequestsPerSecond enables a client-side limiter when > 0.
	RequestsPerSecond float64    `yaml:"requests_per_second"`
	Pool              PoolConfig `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds breaker settings for stream creation.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AgentConfig holds orchestrator behavior settings.
type AgentConfig struct {
	DefaultModel       string  `yaml:"default_model"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float64 `yaml:"temperature"`
	CustomSystemPrompt string  `yaml:"custom_system_prompt"`
	// CustomSchemaFile points at a JSON schema completed actions are
	// validated against. Empty disables validation.
	CustomSchemaFile string `yaml:"custom_schema_file"`
	// TranscriptDB enables the sqlite transcript archive when set.
	TranscriptDB string `yaml:"transcript_db"`
	// EnableCaching turns on provider prompt caching where supported.
	EnableCaching bool `yaml:"enable_caching"`
}

// LoggerConfig holds slog settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Config is the top-level application configuration.
type Config struct {
	Agent          AgentConfig               `yaml:"agent"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	ModelOverrides map[string]string         `yaml:"model_overrides,omitempty"` // model name → provider name
	CircuitBreaker CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Logger         LoggerConfig              `yaml:"logger"`
	Tracer         TracerConfig              `yaml:"tracer"`
}

// Defaults returns a configuration with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			DefaultModel: "claude-sonnet-4-5",
			MaxTokens:    8192,
			Temperature:  0,
		},
		Providers: map[string]ProviderConfig{},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env overrides, and decrypts secrets.
// A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if passphrase := os.Getenv("EASEL_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	return cfg, nil
}

// applyEnvOverrides maps EASEL_* env vars onto config fields. Provider API
// keys follow the vendors' conventional variable names.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EASEL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("EASEL_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("EASEL_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("EASEL_DEFAULT_MODEL"); v != "" {
		cfg.Agent.DefaultModel = v
	}
	if v := os.Getenv("EASEL_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxTokens = n
		}
	}

	envKeys := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	for name, envVar := range envKeys {
		v := os.Getenv(envVar)
		if v == "" {
			continue
		}
		pc := cfg.Providers[name]
		pc.Name = name
		pc.APIKey = v
		cfg.Providers[name] = pc
	}
}
