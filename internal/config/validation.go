package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Backend == "file" && c.Storage.FilePath == "" {
		c.Storage.FilePath = "./data/gateway-state.json"
	}
	if c.Storage.FlushInterval.Duration <= 0 {
		c.Storage.FlushInterval = Duration{Duration: 5 * time.Second}
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.Window.Duration <= 0 {
		c.RateLimit.Window = Duration{Duration: 60 * time.Second}
	}
	if c.RateLimit.GCInterval.Duration <= 0 {
		c.RateLimit.GCInterval = Duration{Duration: 5 * time.Minute}
	}
	if c.Reservation.DefaultTTL.Duration <= 0 {
		c.Reservation.DefaultTTL = Duration{Duration: 5 * time.Minute}
	}
	if c.Reservation.SweepInterval.Duration <= 0 {
		c.Reservation.SweepInterval = Duration{Duration: time.Minute}
	}
	if c.ToolPricing.Source == "" {
		c.ToolPricing.Source = "yaml"
	}
	if c.ToolPricing.Prices == nil {
		c.ToolPricing.Prices = map[string]ToolPrice{}
	}
	if c.Webhook.Headers == nil {
		c.Webhook.Headers = make(map[string]string)
	}
	if c.Webhook.Timeout.Duration <= 0 {
		c.Webhook.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Webhook.Retry.MaxAttempts <= 0 {
		c.Webhook.Retry.MaxAttempts = 5
	}
	if c.Webhook.Retry.InitialInterval.Duration <= 0 {
		c.Webhook.Retry.InitialInterval = Duration{Duration: time.Second}
	}
	if c.Webhook.Retry.MaxInterval.Duration <= 0 {
		c.Webhook.Retry.MaxInterval = Duration{Duration: 5 * time.Minute}
	}
	if c.Webhook.Retry.Multiplier <= 1 {
		c.Webhook.Retry.Multiplier = 2.0
	}
	if c.Redis.SyncChannel == "" {
		c.Redis.SyncChannel = "gateway:balances"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of file, postgres", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		errs = append(errs, "storage.postgres_url is required when storage.backend is postgres")
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend %q is not one of memory, redis", c.RateLimit.Backend))
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when rate_limit.backend is redis")
	}
	if c.Redis.SyncEnabled && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when redis.sync_enabled is true")
	}

	switch c.ToolPricing.Source {
	case "yaml", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("tool_pricing.source %q is not one of yaml, postgres", c.ToolPricing.Source))
	}
	if c.ToolPricing.Source == "postgres" && c.ToolPricing.PostgresURL == "" {
		errs = append(errs, "tool_pricing.postgres_url is required when tool_pricing.source is postgres")
	}

	switch c.Team.Source {
	case "", "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("team.source %q is not one of memory, postgres", c.Team.Source))
	}
	if c.Team.Source == "postgres" && c.Team.PostgresURL == "" {
		errs = append(errs, "team.postgres_url is required when team.source is postgres")
	}

	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		errs = append(errs, "webhook.secret is required when webhook.url is set")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
