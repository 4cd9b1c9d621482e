package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Storage: StorageConfig{
			Backend:       "file",
			FilePath:      "./data/gateway-state.json",
			FlushInterval: Duration{Duration: 5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Backend:      "memory",
			Window:       Duration{Duration: 60 * time.Second},
			DefaultLimit: 60,
			GCInterval:   Duration{Duration: 5 * time.Minute},
		},
		HTTPLimiter: HTTPLimiterConfig{
			GlobalEnabled: true,
			GlobalLimit:   2000,
			GlobalWindow:  Duration{Duration: time.Minute},
			PerKeyEnabled: true,
			PerKeyLimit:   300,
			PerKeyWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    600,
			PerIPWindow:   Duration{Duration: time.Minute},
		},
		Quota: QuotaConfig{
			DefaultDailyCallLimit:     0, // 0 = unlimited unless a key overrides it
			DefaultDailyCreditLimit:   0,
			DefaultMonthlyCallLimit:   0,
			DefaultMonthlyCreditLimit: 0,
		},
		Reservation: ReservationConfig{
			DefaultTTL:    Duration{Duration: 5 * time.Minute},
			SweepInterval: Duration{Duration: time.Minute},
		},
		Concurrency: ConcurrencyConfig{
			DefaultMaxInflight: 0, // 0 = unlimited unless a key overrides it
		},
		ToolPricing: ToolPricingConfig{
			Source: "yaml",
			Prices: map[string]ToolPrice{},
		},
		Webhook: WebhookConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQEnabled: false,
			DLQPath:    "./data/webhook-dlq.json",
		},
		Redis: RedisConfig{
			SyncChannel: "gateway:balances",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			TeamChecker: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 10 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			PriceHook: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 5 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
