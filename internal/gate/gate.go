// Package gate implements the single authoritative check sequence for any
// tool invocation (spec.md §4.2): API key validity, IP allowlist, tool ACL,
// scoped-token narrowing, rate limits, credit/spending/quota checks, and
// the optional team budget. It is the one place that decides allow/deny and
// owns the mutation sequence on allow, composing the collaborators built in
// internal/keystore, internal/ratelimiter, internal/quota,
// internal/reservation, internal/toolpricing, internal/team, and
// internal/usage the way the teacher's paywall.Service composes its own
// collaborators (store, verifier, coupons, subscriptions, metrics).
package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/concurrency"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/metrics"
	"github.com/toolmeter/gateway/internal/observability"
	"github.com/toolmeter/gateway/internal/ratelimiter"
	"github.com/toolmeter/gateway/internal/reservation"
	"github.com/toolmeter/gateway/internal/team"
	"github.com/toolmeter/gateway/internal/toolpricing"
	"github.com/toolmeter/gateway/internal/usage"
)

// Group is an optional policy override installed for a set of keys (spec.md
// §3 "Key group"): when the caller's key is a member, its tool pricing and
// ACL fields replace the key's own for the duration of one evaluation.
type Group struct {
	Name         string
	AllowedTools []string
	DeniedTools  []string
	ToolPrices   map[string]int64 // tool -> creditsPerCall override
}

// GroupResolver returns the Group a record belongs to, or nil for no
// override. Attached post-construction; unattached means no group ever
// applies, per spec.md §9's callback-slot design.
type GroupResolver func(record *keystore.ApiKeyRecord) *Group

// PriceHook is the optional "transform price" plugin hook from the pricing
// function (spec.md §4.2): it may replace the final integer price.
type PriceHook func(ctx context.Context, tool string, price int64) int64

// UsageEventFunc observes every evaluated call, allowed or denied.
type UsageEventFunc func(event usage.Event)

// CreditsDeductedFunc observes every successful credit deduction.
type CreditsDeductedFunc func(key string, amount int64)

// AutoTopupFunc observes every auto-topup firing.
type AutoTopupFunc func(key, keyName string, amount, newBalance int64)

// Config holds the Gate's own tunables, distinct from its collaborators'
// construction parameters (those are configured when each collaborator is
// built and simply handed to New).
type Config struct {
	DefaultCreditsPerCall int64
	CreditsPerKbInput     float64
	ShadowMode            bool
	GlobalQuota           keystore.QuotaLimits
	HookTimeout           time.Duration // external hook abandon timeout, default 5s
	// GlobalRateLimitPerMin mirrors the in-process limiter's configured
	// default, so the Redis-backed limiter (which carries no state of its
	// own between calls) checks the same per-key cap.
	GlobalRateLimitPerMin int
}

// Gate is the gateway's decision engine: the single entry point for
// allow/deny on every tool invocation.
type Gate struct {
	store        *keystore.KeyStore
	limiter      *ratelimiter.Limiter
	redisLimiter *ratelimiter.RedisLimiter // optional, used instead of limiter when set
	pricing      toolpricing.Repository
	teamRepo     team.Repository
	reservations *reservation.Manager
	meter        *usage.Meter
	metrics      *metrics.Metrics
	obs          *observability.Registry
	breaker      *circuitbreaker.Manager
	concurrency  *concurrency.Limiter // optional; nil disables inflight caps entirely
	logger       zerolog.Logger

	cfg Config

	groupResolver     GroupResolver
	priceHook         PriceHook
	onUsageEvent      UsageEventFunc
	onCreditsDeducted CreditsDeductedFunc
	onAutoTopup       AutoTopupFunc
}

// New constructs a Gate from its collaborators. Every collaborator is
// required except teamRepo (team budgets are optional per spec.md §9) and
// redisLimiter (nil means the in-process limiter is authoritative).
func New(
	store *keystore.KeyStore,
	limiter *ratelimiter.Limiter,
	pricing toolpricing.Repository,
	teamRepo team.Repository,
	reservations *reservation.Manager,
	meter *usage.Meter,
	metricsCollector *metrics.Metrics,
	obs *observability.Registry,
	breaker *circuitbreaker.Manager,
	logger zerolog.Logger,
	cfg Config,
) *Gate {
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = 5 * time.Second
	}
	return &Gate{
		store:        store,
		limiter:      limiter,
		pricing:      pricing,
		teamRepo:     teamRepo,
		reservations: reservations,
		meter:        meter,
		metrics:      metricsCollector,
		obs:          obs,
		breaker:      breaker,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetRedisLimiter switches the rate-limit backend to a Redis-backed
// limiter, for multi-instance deployments (config.RateLimitConfig.Backend
// == "redis"). Passing nil reverts to the in-process limiter.
func (g *Gate) SetRedisLimiter(l *ratelimiter.RedisLimiter) {
	g.redisLimiter = l
}

// SetConcurrencyLimiter attaches the optional per-key/per-tool inflight
// cap (spec.md §4.7). Unattached means AcquireConcurrency always succeeds.
func (g *Gate) SetConcurrencyLimiter(l *concurrency.Limiter) {
	g.concurrency = l
}

// SetGroupResolver attaches the key-group override callback.
func (g *Gate) SetGroupResolver(fn GroupResolver) { g.groupResolver = fn }

// SetPriceHook attaches the optional price-transform plugin hook.
func (g *Gate) SetPriceHook(fn PriceHook) { g.priceHook = fn }

// SetOnUsageEvent attaches the onUsageEvent observer slot.
func (g *Gate) SetOnUsageEvent(fn UsageEventFunc) { g.onUsageEvent = fn }

// SetOnCreditsDeducted attaches the onCreditsDeducted observer slot.
func (g *Gate) SetOnCreditsDeducted(fn CreditsDeductedFunc) { g.onCreditsDeducted = fn }

// SetOnAutoTopup attaches the onAutoTopup observer slot.
func (g *Gate) SetOnAutoTopup(fn AutoTopupFunc) { g.onAutoTopup = fn }

// Reservations exposes the reservation manager for transport-level
// hold/settle/release handlers.
func (g *Gate) Reservations() *reservation.Manager { return g.reservations }

// Usage exposes the usage meter for transport-level stats/export handlers.
func (g *Gate) Usage() *usage.Meter { return g.meter }

// Pricing exposes the tool-pricing repository for a transport's tools/list
// handler.
func (g *Gate) Pricing() toolpricing.Repository { return g.pricing }

// Store exposes the key store for transport-level admin handlers.
func (g *Gate) Store() *keystore.KeyStore { return g.store }

// Destroy stops every background timer the Gate owns (rate-limiter GC,
// reservation sweep) and flushes one final persistence snapshot, per
// spec.md §5's resource-lifecycle requirement that destroy returns only
// after everything has wound down.
func (g *Gate) Destroy() error {
	if g.reservations != nil {
		_ = g.reservations.Close()
	}
	if g.limiter != nil {
		_ = g.limiter.Close()
	}
	if g.redisLimiter != nil {
		_ = g.redisLimiter.Close()
	}
	if g.pricing != nil {
		_ = g.pricing.Close()
	}
	if g.teamRepo != nil {
		_ = g.teamRepo.Close()
	}
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
