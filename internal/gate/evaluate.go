package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolmeter/gateway/internal/errors"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/observability"
	"github.com/toolmeter/gateway/internal/quota"
	"github.com/toolmeter/gateway/internal/ratelimiter"
	"github.com/toolmeter/gateway/internal/usage"
)

// CallRequest describes one tool invocation to evaluate.
type CallRequest struct {
	Tool        string
	Args        map[string]interface{}
	ClientIP    string
	ScopedTools []string // non-nil: caller presented a scoped token narrowing calls to this subset
	RequestID   string
	Namespace   string // set on the emitted usage event; when empty, the key's own namespace is used
}

// Decision is the outcome of Evaluate, mirroring spec.md §3's evaluate
// result shape.
type Decision struct {
	Allowed          bool
	Reason           string
	CreditsCharged   int64
	RemainingCredits int64
}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Evaluate runs the fixed 11-step check sequence against apiKey for a
// single tool call and, on allow, commits every mutation (credit
// deduction, rate-limiter record, quota record, team record, persistence,
// auto-topup, usage event) before returning. Fails closed on any check
// failure unless shadow mode is active, in which case it always allows but
// prefixes the reason with "shadow:" (spec.md §4.2).
func (g *Gate) Evaluate(ctx context.Context, apiKey string, req CallRequest) Decision {
	start := time.Now()
	decision := g.evaluate(ctx, apiKey, req)
	if g.cfg.ShadowMode && !decision.Allowed {
		decision = Decision{Allowed: true, Reason: "shadow:" + decision.Reason}
	}
	if g.metrics != nil {
		g.metrics.ObserveEvaluation(req.Tool, decision.Allowed, decision.Reason, time.Since(start))
	}
	g.recordUsage(ctx, apiKey, req, decision)
	return decision
}

func (g *Gate) evaluate(ctx context.Context, apiKey string, req CallRequest) Decision {
	// 1. API key present.
	if apiKey == "" {
		return deny(string(errors.ErrCodeMissingAPIKey))
	}

	// 2. Key resolves and is active/non-expired.
	if g.store.IsExpired(apiKey) {
		return deny(string(errors.ErrCodeAPIKeyExpired))
	}
	record := g.store.GetKey(apiKey)
	if record == nil {
		return deny(string(errors.ErrCodeInvalidAPIKey))
	}

	// 3. IP allowlist.
	if req.ClientIP != "" && !keystore.MatchAllowlist(record.IPAllowlist, req.ClientIP) {
		return deny(fmt.Sprintf("%s: %s not in allowlist", errors.ErrCodeIPNotAllowed, req.ClientIP))
	}

	group := g.resolveGroup(record)

	// 4. Tool ACL (whitelist then blacklist), with group override.
	allowedTools, deniedTools := effectiveACL(record, group)
	if len(allowedTools) > 0 && !contains(allowedTools, req.Tool) {
		return deny(fmt.Sprintf("%s: %s not in allowedTools", errors.ErrCodeToolNotAllowed, req.Tool))
	}
	if contains(deniedTools, req.Tool) {
		return deny(fmt.Sprintf("%s: %s is in deniedTools", errors.ErrCodeToolDenied, req.Tool))
	}

	// 5. Scoped token narrowing.
	if len(req.ScopedTools) > 0 && !contains(req.ScopedTools, req.Tool) {
		return deny(fmt.Sprintf("%s: %s not in scoped token", errors.ErrCodeScopeNotAllowed, req.Tool))
	}

	// 6. Global rate limit.
	if allowed, reason := g.checkGlobalRateLimit(ctx, apiKey); !allowed {
		if g.metrics != nil {
			g.metrics.ObserveRateLimitHit("global")
		}
		return deny(reason)
	}

	// 7. Per-tool rate limit.
	toolLimit := g.toolRateLimitPerMin(ctx, req.Tool)
	compositeKey := ratelimiter.CompositeKey(apiKey, req.Tool)
	if toolLimit > 0 {
		if allowed, reason := g.checkToolRateLimit(ctx, compositeKey, toolLimit); !allowed {
			if g.metrics != nil {
				g.metrics.ObserveRateLimitHit("tool")
			}
			return deny(reason)
		}
	}

	price := g.getToolPrice(ctx, req.Tool, req.Args, record)

	// Steps 8-11 plus the on-allow mutation sequence happen inside one
	// WithRecord callback so credit-check, quota-check, and deduction share
	// the same lock scope (spec.md §5's atomicity contract).
	var teamReason string
	var remaining int64
	err := g.store.WithRecord(apiKey, func(r *keystore.ApiKeyRecord) error {
		// 8. Sufficient credits.
		if r.Credits < price {
			return denyErr(fmt.Sprintf("%s: need %d, have %d", errors.ErrCodeInsufficientFunds, price, r.Credits))
		}
		// 9. Spending limit.
		if r.SpendingLimit > 0 && r.TotalSpent+price > r.SpendingLimit {
			return denyErr(fmt.Sprintf("%s: limit %d", errors.ErrCodeSpendingLimit, r.SpendingLimit))
		}
		// 10. Quota.
		if qr := quota.Check(r, price, g.cfg.GlobalQuota); !qr.Allowed {
			if g.metrics != nil {
				g.metrics.ObserveQuotaHit("", qr.Reason)
			}
			return denyErr(qr.Reason)
		}
		// 11. Team budget (check-and-record combined: team.Repository's
		// CheckAndRecord is the atomic primitive that covers both the
		// teamChecker and teamRecorder slots in one call, since a separate
		// check-then-record pair would reintroduce the TOCTOU it exists to
		// avoid). Routed through the team-checker circuit breaker so a
		// degraded team backend defaults to allow rather than denying
		// unrelated traffic.
		if allowed, reason := g.checkTeamBudget(ctx, r.Namespace, price); !allowed {
			teamReason = reason
			if g.metrics != nil {
				g.metrics.ObserveTeamBudgetHit(r.Namespace)
			}
			return denyErr(reason)
		}

		// On allow: deduct credits, bump totals, record quota.
		r.Credits -= price
		r.TotalSpent += price
		r.TotalCalls++
		quota.Record(r, price)
		remaining = r.Credits
		return nil
	})

	if err != nil {
		if de, ok := err.(*denyError); ok {
			return deny(de.reason)
		}
		if teamReason != "" {
			return deny(teamReason)
		}
		g.logger.Error().Err(err).Str("tool", req.Tool).Msg("gate: evaluate failed")
		return deny(string(errors.ErrCodeInternalError))
	}

	// Record rate limiter usage now that the call is fully committed.
	g.recordRateLimit(apiKey, compositeKey, toolLimit)

	if g.metrics != nil {
		g.metrics.ObserveCreditsCharged(req.Tool, price, record.Name, remaining)
	}
	if g.onCreditsDeducted != nil {
		g.onCreditsDeducted(apiKey, price)
	}
	if g.obs != nil {
		g.obs.EmitCreditsDeducted(ctx, observability.CreditsDeductedEvent{
			Timestamp: time.Now(), Key: apiKey, KeyName: record.Name, Amount: price, NewBalance: remaining,
		})
	}

	g.maybeAutoTopup(ctx, apiKey, record)

	return Decision{Allowed: true, CreditsCharged: price, RemainingCredits: remaining}
}

// denyError carries a deny reason out of a WithRecord callback without
// persisting any mutation (WithRecord only marks the store dirty when fn
// returns nil).
type denyError struct{ reason string }

func (e *denyError) Error() string { return e.reason }

func denyErr(reason string) error { return &denyError{reason: reason} }

const shadowPrefix = "shadow:"

func isShadowReason(reason string) bool {
	return len(reason) >= len(shadowPrefix) && reason[:len(shadowPrefix)] == shadowPrefix
}

func (g *Gate) checkGlobalRateLimit(ctx context.Context, apiKey string) (bool, string) {
	if g.redisLimiter != nil {
		if !g.redisLimiter.CheckRateLimit(ctx, apiKey, g.cfg.GlobalRateLimitPerMin, 0) {
			return false, fmt.Sprintf("%s: %d calls/min exceeded", errors.ErrCodeRateLimited, g.cfg.GlobalRateLimitPerMin)
		}
		return true, ""
	}
	return g.limiter.Check(apiKey)
}

func (g *Gate) recordRateLimit(apiKey, compositeKey string, toolLimit int64) {
	if g.redisLimiter == nil {
		g.limiter.Record(apiKey)
		if toolLimit > 0 {
			g.limiter.RecordCustom(compositeKey)
		}
	}
	// The Redis limiter records as part of CheckRateLimit's single round
	// trip, so there is nothing further to record when it is active.
}

func (g *Gate) checkToolRateLimit(ctx context.Context, compositeKey string, limit int64) (bool, string) {
	if g.redisLimiter != nil {
		if !g.redisLimiter.CheckRateLimit(ctx, compositeKey, int(limit), 0) {
			return false, fmt.Sprintf("tool_rate_limited: %d calls/min exceeded", limit)
		}
		return true, ""
	}
	allowed, _ := g.limiter.CheckCustom(compositeKey, int(limit))
	if !allowed {
		return false, fmt.Sprintf("tool_rate_limited: %d calls/min exceeded", limit)
	}
	return true, ""
}

func (g *Gate) recordUsage(ctx context.Context, apiKey string, req CallRequest, decision Decision) {
	namespace := req.Namespace
	keyName := ""
	if record := g.store.Lookup(apiKey); record != nil {
		keyName = record.Name
		if namespace == "" {
			namespace = record.Namespace
		}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	event := usage.Event{
		Timestamp:      time.Now(),
		APIKey:         apiKey,
		KeyName:        keyName,
		Tool:           req.Tool,
		CreditsCharged: decision.CreditsCharged,
		Allowed:        decision.Allowed,
		DenyReason:     decision.Reason,
		Namespace:      namespace,
	}
	if g.meter != nil {
		g.meter.Record(event)
	}
	if g.onUsageEvent != nil {
		g.onUsageEvent(event)
	}
	if g.obs != nil {
		g.obs.EmitUsageRecorded(ctx, observability.UsageRecordedEvent{
			Timestamp:      event.Timestamp,
			APIKey:         event.APIKey,
			KeyName:        event.KeyName,
			Tool:           event.Tool,
			Allowed:        event.Allowed,
			DenyReason:     event.DenyReason,
			CreditsCharged: event.CreditsCharged,
			Namespace:      event.Namespace,
			RequestID:      requestID,
			Shadow:         isShadowReason(decision.Reason),
		})
	}
}

// maybeAutoTopup applies spec.md §4.2's auto-topup step: if the record has
// auto-topup configured and its balance has fallen under threshold, add
// amount (bounded by a daily cap), reset daily count on UTC date change.
func (g *Gate) maybeAutoTopup(ctx context.Context, apiKey string, snapshot *keystore.ApiKeyRecord) {
	if snapshot.AutoTopup == nil {
		return
	}

	var (
		fired      bool
		newBalance int64
		amount     int64
	)
	_ = g.store.WithRecord(apiKey, func(r *keystore.ApiKeyRecord) error {
		cfg := r.AutoTopup
		if cfg == nil || r.Credits >= cfg.Threshold {
			return nil
		}
		today := time.Now().UTC().Format("2006-01-02")
		if r.AutoTopupLastResetDay != today {
			r.AutoTopupTodayCount = 0
			r.AutoTopupLastResetDay = today
		}
		if cfg.MaxDaily > 0 && r.AutoTopupTodayCount >= cfg.MaxDaily {
			return nil
		}
		r.Credits += cfg.Amount
		r.AutoTopupTodayCount++
		fired = true
		amount = cfg.Amount
		newBalance = r.Credits
		return nil
	})

	if !fired {
		return
	}
	if g.metrics != nil {
		g.metrics.ObserveAutoTopup(snapshot.Name, newBalance)
	}
	if g.onAutoTopup != nil {
		g.onAutoTopup(apiKey, snapshot.Name, amount, newBalance)
	}
	if g.obs != nil {
		g.obs.EmitAutoTopup(ctx, observability.AutoTopupEvent{
			Timestamp: time.Now(), Key: apiKey, KeyName: snapshot.Name, Amount: amount, NewBalance: newBalance,
		})
	}
}
