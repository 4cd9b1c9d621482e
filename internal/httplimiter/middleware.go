// Package httplimiter implements the outer HTTP-layer rate limiting that
// runs in front of the gate's own per-key/per-tool rate limiter. It exists
// to stop obvious floods (malformed bodies, scripted retries) before they
// even reach key lookup, independent of credit balance or tool ACLs.
package httplimiter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/toolmeter/gateway/internal/metrics"
)

// Config holds outer HTTP rate limiting configuration.
type Config struct {
	// Global rate limiting (across all clients).
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-key rate limiting, keyed by X-API-Key (or Authorization: Bearer).
	PerKeyEnabled bool
	PerKeyLimit   int
	PerKeyWindow  time.Duration

	// Per-IP rate limiting, used as a fallback when no key is present.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// ExemptKeys bypasses all outer limits for the listed API keys (e.g. an
	// internal health-check credential).
	ExemptKeys map[string]bool

	// Metrics collector (optional).
	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns sensible default outer rate limits.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   2000,
		GlobalWindow:  1 * time.Minute,

		PerKeyEnabled: true,
		PerKeyLimit:   300,
		PerKeyWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   600,
		PerIPWindow:  1 * time.Minute,
	}
}

func createRateLimitHandler(scope string, windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if metricsCollector != nil {
			metricsCollector.ObserveRateLimitHit(scope)
		}

		response := rateLimitResponse{
			Error:             "rate_limited",
			Message:           "rate limit exceeded, please try again later",
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func isExempt(cfg Config, r *http.Request) bool {
	if len(cfg.ExemptKeys) == 0 {
		return false
	}
	key := extractAPIKey(r)
	return key != "" && cfg.ExemptKeys[key]
}

// extractAPIKey reads the client's API key without validating it against
// the key store; this middleware runs ahead of authentication and only
// needs the key as a rate-limit bucket identifier.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// KeyLimiter creates a per-API-key rate limiter middleware. It falls back
// to IP-based limiting when no key is present on the request.
func KeyLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerKeyEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerKeyLimit,
		cfg.PerKeyWindow,
		httprate.WithKeyFuncs(keyExtractor),
		httprate.WithLimitHandler(createRateLimitHandler("per_key", int(cfg.PerKeyWindow.Seconds()), cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// IPLimiter creates a per-IP rate limiter middleware (fallback for
// unauthenticated traffic, e.g. repeated bad requests before a key is even
// read).
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(cfg, r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

func keyExtractor(r *http.Request) (string, error) {
	if key := extractAPIKey(r); key != "" {
		return "key:" + key, nil
	}
	return httprate.KeyByIP(r)
}
