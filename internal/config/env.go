package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env vars
// use a GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "GATEWAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminBootstrapKey, "GATEWAY_ADMIN_BOOTSTRAP_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_LOG_ENV")

	setIfEnv(&c.Storage.Backend, "GATEWAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.FilePath, "GATEWAY_STATE_PATH")
	setIfEnv(&c.Storage.PostgresURL, "GATEWAY_STORAGE_POSTGRES_URL")
	setDurationIfEnv(&c.Storage.FlushInterval, "GATEWAY_STORAGE_FLUSH_INTERVAL")

	setIfEnv(&c.RateLimit.Backend, "GATEWAY_RATE_LIMIT_BACKEND")
	setIntIfEnv(&c.RateLimit.DefaultLimit, "GATEWAY_RATE_LIMIT_DEFAULT")
	setDurationIfEnv(&c.RateLimit.Window, "GATEWAY_RATE_LIMIT_WINDOW")

	setIfEnv(&c.Redis.URL, "GATEWAY_REDIS_URL")
	setBoolIfEnv(&c.Redis.SyncEnabled, "GATEWAY_REDIS_SYNC_ENABLED")

	setIfEnv(&c.Webhook.URL, "GATEWAY_WEBHOOK_URL")
	setIfEnv(&c.Webhook.Secret, "GATEWAY_WEBHOOK_SECRET")
	setBoolIfEnv(&c.Webhook.DLQEnabled, "GATEWAY_WEBHOOK_DLQ_ENABLED")
	setIfEnv(&c.Webhook.DLQPath, "GATEWAY_WEBHOOK_DLQ_PATH")

	setIfEnv(&c.ToolPricing.Source, "GATEWAY_TOOL_PRICING_SOURCE")
	setIfEnv(&c.ToolPricing.PostgresURL, "GATEWAY_TOOL_PRICING_POSTGRES_URL")

	setIfEnv(&c.Team.Source, "GATEWAY_TEAM_SOURCE")
	setIfEnv(&c.Team.PostgresURL, "GATEWAY_TEAM_POSTGRES_URL")

	// Per-header webhook overrides: GATEWAY_WEBHOOK_HEADER_X_FOO=bar -> header "X-Foo".
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "GATEWAY_WEBHOOK_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "GATEWAY_WEBHOOK_HEADER_")
		if name == "" {
			continue
		}
		if c.Webhook.Headers == nil {
			c.Webhook.Headers = make(map[string]string)
		}
		c.Webhook.Headers[canonicalHeader(name)] = parts[1]
	}
}

func canonicalHeader(envName string) string {
	parts := strings.Split(strings.ToLower(envName), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
