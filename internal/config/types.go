package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	HTTPLimiter    HTTPLimiterConfig    `yaml:"http_limiter"`
	Quota          QuotaConfig          `yaml:"quota"`
	Reservation    ReservationConfig    `yaml:"reservation"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency"`
	ToolPricing    ToolPricingConfig    `yaml:"tool_pricing"`
	Team           TeamConfig           `yaml:"team"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Redis          RedisConfig          `yaml:"redis"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`
	AdminBootstrapKey  string   `yaml:"admin_bootstrap_key"` // protects /admin/* endpoints, also env-only in practice
	TopUpURL           string   `yaml:"top_up_url,omitempty"`   // surfaced in x402 payment-error data
	PricingURL         string   `yaml:"pricing_url,omitempty"`
	FreeMethods        []string `yaml:"free_methods,omitempty"` // JSON-RPC methods that bypass gating entirely
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StorageConfig configures the KeyStore's persistence backend.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "file" or "postgres"
	FilePath        string             `yaml:"file_path"`
	FlushInterval   Duration           `yaml:"flush_interval"`
	PostgresURL     string             `yaml:"postgres_url"`
	PostgresTable   string             `yaml:"postgres_table"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig configures the Gate's own per-key/per-tool sliding window limiter.
type RateLimitConfig struct {
	Backend      string   `yaml:"backend"` // "memory" or "redis"
	Window       Duration `yaml:"window"`
	DefaultLimit int      `yaml:"default_limit"` // requests per window when a key sets no override
	GCInterval   Duration `yaml:"gc_interval"`
}

// HTTPLimiterConfig configures the outer, coarse HTTP-layer limiter (defense in depth,
// separate from RateLimitConfig which governs the Gate's own domain limiter).
type HTTPLimiterConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerKeyEnabled bool     `yaml:"per_key_enabled"`
	PerKeyLimit   int      `yaml:"per_key_limit"`
	PerKeyWindow  Duration `yaml:"per_key_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`

	ExemptKeys []string `yaml:"exempt_keys"`
}

// QuotaConfig holds default daily/monthly quota values applied to keys that don't
// set their own overrides, plus operator-wide global ceilings.
type QuotaConfig struct {
	DefaultDailyCallLimit     int64 `yaml:"default_daily_call_limit"`
	DefaultDailyCreditLimit   int64 `yaml:"default_daily_credit_limit"`
	DefaultMonthlyCallLimit   int64 `yaml:"default_monthly_call_limit"`
	DefaultMonthlyCreditLimit int64 `yaml:"default_monthly_credit_limit"`

	GlobalDailyCallLimit     int64 `yaml:"global_daily_call_limit"`
	GlobalDailyCreditLimit   int64 `yaml:"global_daily_credit_limit"`
	GlobalMonthlyCallLimit   int64 `yaml:"global_monthly_call_limit"`
	GlobalMonthlyCreditLimit int64 `yaml:"global_monthly_credit_limit"`
}

// ReservationConfig configures the CreditReservationManager.
type ReservationConfig struct {
	DefaultTTL    Duration `yaml:"default_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ConcurrencyConfig configures the ConcurrencyLimiter.
type ConcurrencyConfig struct {
	DefaultMaxInflight int `yaml:"default_max_inflight"`
}

// ToolPricingConfig configures the tool-pricing repository.
type ToolPricingConfig struct {
	Source       string                `yaml:"source"` // "yaml", "postgres"
	Prices       map[string]ToolPrice  `yaml:"prices"` // used when source == "yaml"
	PostgresURL  string                `yaml:"postgres_url"`
	CacheTTL     Duration              `yaml:"cache_ttl"`
}

// ToolPrice defines the credit cost of a single tool.
type ToolPrice struct {
	CreditsPerCall  int64             `yaml:"credits_per_call"`
	RateLimitPerMin int64             `yaml:"rate_limit_per_min"`
	Metadata        map[string]string `yaml:"metadata"`
}

// TeamConfig configures the optional team budget checker/recorder.
type TeamConfig struct {
	Source      string `yaml:"source"` // "memory", "postgres", or "" to disable
	PostgresURL string `yaml:"postgres_url"`
}

// WebhookConfig configures outbound usage-event webhook delivery.
type WebhookConfig struct {
	URL        string            `yaml:"url"`
	Secret     string            `yaml:"secret"` // HMAC signing secret
	Headers    map[string]string `yaml:"headers"`
	Timeout    Duration          `yaml:"timeout"`
	Retry      RetryConfig       `yaml:"retry"`
	DLQEnabled bool              `yaml:"dlq_enabled"`
	DLQPath    string            `yaml:"dlq_path"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RedisConfig configures the optional Redis-backed rate limiter and best-effort
// cross-instance balance mirroring.
type RedisConfig struct {
	URL         string `yaml:"url"`
	SyncEnabled bool   `yaml:"sync_enabled"` // publish post-deduction balances for other instances
	SyncChannel string `yaml:"sync_channel"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external hooks.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	TeamChecker BreakerServiceConfig `yaml:"team_checker"`
	PriceHook   BreakerServiceConfig `yaml:"price_hook"`
	Webhook     BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
