// Package config loads the agentlab configuration: a YAML file with
// environment overrides, plus hot reload of the tunable subset.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type LLMConfig struct {
	// Provider selects the model backend: "openai" or "scripted" (offline).
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// RequestsPerSecond caps outbound model calls; zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type WorkspaceConfig struct {
	// Root is the directory run workspaces are created under. Empty means
	// the system temp directory.
	Root string `mapstructure:"root"`
	// ScriptTimeout bounds sandboxed script execution.
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
}

type StreamingConfig struct {
	// RingCapacity is the per-run replay buffer size. Hot-reloadable.
	RingCapacity int `mapstructure:"ring_capacity"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggingConfig struct {
	// Level is hot-reloadable: debug, info, warn, error.
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (or the default search locations when
// path is empty) and applies AGENTLAB_* environment overrides. A missing
// file is not an error when no explicit path was given; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("agentlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agentlab")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 0) // streaming responses
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("workspace.script_timeout", 10*time.Second)
	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "agentlab.db")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "scripted":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config: llm max_tokens must be positive")
	}
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("config: invalid service port %d", c.Service.Port)
	}
	if c.Streaming.RingCapacity <= 0 {
		return fmt.Errorf("config: streaming ring_capacity must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
