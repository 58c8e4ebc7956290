package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Rules     RulesConfig     `yaml:"rules" mapstructure:"rules"`
	Tokens    TokensConfig    `yaml:"tokens" mapstructure:"tokens"`
	Sanitize  SanitizeConfig  `yaml:"sanitize" mapstructure:"sanitize"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// RulesConfig locates the ruleset file and list directory.
type RulesConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	RulesetFile string `yaml:"ruleset_file" mapstructure:"ruleset_file"`
	Watch       bool   `yaml:"watch" mapstructure:"watch"`
}

// TokensConfig contains token store configuration. Backend is one of
// "sqlite", "postgres", "redis", or "memory".
type TokensConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"`
	Path          string        `yaml:"path" mapstructure:"path"`
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`
	RedisURL      string        `yaml:"redis_url" mapstructure:"redis_url"`
	Secret        string        `yaml:"secret" mapstructure:"secret"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// SanitizeConfig contains sanitization engine tuning.
type SanitizeConfig struct {
	RuleTimeout time.Duration `yaml:"rule_timeout" mapstructure:"rule_timeout"`
}

// ReconcileConfig contains reconciliation policy configuration. Categories in
// NeverCategories are never restored regardless of ruleset policy.
type ReconcileConfig struct {
	NeverCategories []string `yaml:"never_categories" mapstructure:"never_categories"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains upstream provider configuration. An empty base URL
// switches that provider route into mock mode.
type UpstreamConfig struct {
	OpenAI    string        `yaml:"openai" mapstructure:"openai"`
	Anthropic string        `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    string        `yaml:"ollama" mapstructure:"ollama"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EventsConfig contains the WebSocket event feed configuration.
type EventsConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RateLimitConfig contains per-client rate limiting configuration.
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Rules: RulesConfig{
			Dir:         "rules",
			RulesetFile: "rules/ruleset.yaml",
			Watch:       true,
		},
		Tokens: TokensConfig{
			Backend:       "sqlite",
			Path:          "data/tokens.db",
			Secret:        "local-dev-secret",
			TTL:           7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Sanitize: SanitizeConfig{
			RuleTimeout: 250 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			NeverCategories: []string{"PII", "SECRET", "FINANCIAL"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			OpenAI:    "https://api.openai.com",
			Anthropic: "https://api.anthropic.com",
			Ollama:    "http://localhost:11434",
			Timeout:   30 * time.Second,
		},
		Events: EventsConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled:        false,
			RequestsPerSec: 20,
			Burst:          40,
		},
	}
	return cfg
}
