// Package config loads service configuration from an optional YAML file
// with RESEARCH_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/orchestrator"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

const (
	// EnvConfigPath names the config file when no path is given.
	EnvConfigPath = "RESEARCH_CONFIG"
	// DefaultPath is read when it exists and nothing else is configured.
	DefaultPath = "config/research.yaml"
	envPrefix   = "RESEARCH"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AsyncWorkers    int           `mapstructure:"async_workers"`
}

// ModelsConfig names the model serving each role.
type ModelsConfig struct {
	Planner     string `mapstructure:"planner"`
	Verifier    string `mapstructure:"verifier"`
	Executor    string `mapstructure:"executor"`
	Synthesizer string `mapstructure:"synthesizer"`
}

type LLMConfig struct {
	BaseURL             string       `mapstructure:"base_url"`
	APIKey              string       `mapstructure:"api_key"`
	Referer             string       `mapstructure:"referer"`
	Title               string       `mapstructure:"title"`
	Temperature         float64      `mapstructure:"temperature"`
	VerifierTemperature float64      `mapstructure:"verifier_temperature"`
	MaxTokens           int          `mapstructure:"max_tokens"`
	RateLimitRPS        float64      `mapstructure:"rate_limit_rps"`
	RateLimitBurst      int          `mapstructure:"rate_limit_burst"`
	Models              ModelsConfig `mapstructure:"models"`
}

type LimitsConfig struct {
	MaxSteps     int           `mapstructure:"max_steps"`
	MaxRetries   int           `mapstructure:"max_retries"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
}

type SessionConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
}

type StreamingConfig struct {
	RingCapacity       int    `mapstructure:"ring_capacity"`
	RedisStreamsAddr   string `mapstructure:"redis_streams_addr"`
	RedisStreamsMaxLen int64  `mapstructure:"redis_streams_maxlen"`
}

type ToolsConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Session   SessionConfig   `mapstructure:"session"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.async_workers", 8)

	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.referer", "http://localhost:3000")
	v.SetDefault("llm.title", "Deep Research Agent")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.verifier_temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.rate_limit_rps", 0)
	v.SetDefault("llm.rate_limit_burst", 1)
	routing := llm.DefaultRouting()
	v.SetDefault("llm.models.planner", routing.Planner.Model)
	v.SetDefault("llm.models.verifier", routing.Verifier.Model)
	v.SetDefault("llm.models.executor", routing.Executor.Model)
	v.SetDefault("llm.models.synthesizer", routing.Synthesizer.Model)

	v.SetDefault("limits.max_steps", 10)
	v.SetDefault("limits.max_retries", 3)
	v.SetDefault("limits.step_timeout", 60*time.Second)
	v.SetDefault("limits.total_timeout", 5*time.Minute)

	v.SetDefault("session.backend", session.BackendMemory)
	v.SetDefault("session.ttl", session.DefaultTTL)
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.postgres_dsn", "")
	v.SetDefault("session.sqlite_path", "research.db")

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.redis_streams_addr", "")
	v.SetDefault("streaming.redis_streams_maxlen", 1000)

	v.SetDefault("tools.file", "")
	v.SetDefault("tools.watch", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration. An empty path falls back to RESEARCH_CONFIG,
// then to DefaultPath when that file exists, then to defaults alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations a run could not honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.TotalTimeout <= 0 {
		errs = append(errs, errors.New("limits.total_timeout must be positive"))
	}
	if c.Limits.StepTimeout < 0 {
		errs = append(errs, errors.New("limits.step_timeout must not be negative"))
	}
	if c.Limits.MaxRetries < 1 {
		errs = append(errs, errors.New("limits.max_retries must be at least 1"))
	}
	if c.Limits.MaxSteps < 1 {
		errs = append(errs, errors.New("limits.max_steps must be at least 1"))
	}
	switch c.Session.Backend {
	case session.BackendMemory, session.BackendRedis, session.BackendPostgres, session.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not one of memory, redis, postgres, sqlite", c.Session.Backend))
	}
	if c.Session.Backend == session.BackendPostgres && c.Session.PostgresDSN == "" {
		errs = append(errs, errors.New("session.postgres_dsn is required for the postgres backend"))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or console", c.Logging.Format))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Routing maps the model section onto per-role settings. The verifier runs
// cooler than the other roles.
func (c *Config) Routing() llm.Routing {
	role := func(model string, temperature float64) llm.RoleConfig {
		return llm.RoleConfig{Model: model, Temperature: temperature, MaxTokens: c.LLM.MaxTokens}
	}
	return llm.Routing{
		Planner:     role(c.LLM.Models.Planner, c.LLM.Temperature),
		Verifier:    role(c.LLM.Models.Verifier, c.LLM.VerifierTemperature),
		Executor:    role(c.LLM.Models.Executor, c.LLM.Temperature),
		Synthesizer: role(c.LLM.Models.Synthesizer, c.LLM.Temperature),
	}
}

// Gateway returns the reasoning gateway settings.
func (c *Config) Gateway() llm.GatewayConfig {
	return llm.GatewayConfig{
		BaseURL: c.LLM.BaseURL,
		APIKey:  c.LLM.APIKey,
		Referer: c.LLM.Referer,
		Title:   c.LLM.Title,
	}
}

// ClientConfig returns the resilience settings for the reasoning client.
func (c *Config) ClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		CallTimeout: c.Limits.StepTimeout,
		RateLimit:   c.LLM.RateLimitRPS,
		RateBurst:   c.LLM.RateLimitBurst,
	}
}

// Orchestrator returns the run budgets.
func (c *Config) Orchestrator() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxAttempts = c.Limits.MaxRetries
	cfg.MaxSteps = c.Limits.MaxSteps
	cfg.TotalTimeout = c.Limits.TotalTimeout
	return cfg
}

// Store returns the session store selection.
func (c *Config) Store() session.Config {
	return session.Config{
		Backend:       c.Session.Backend,
		TTL:           c.Session.TTL,
		RedisAddr:     c.Session.RedisAddr,
		RedisPassword: c.Session.RedisPassword,
		PostgresDSN:   c.Session.PostgresDSN,
		SQLitePath:    c.Session.SQLitePath,
	}
}

// Build creates the service logger.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
