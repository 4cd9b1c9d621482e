package gate

import (
	"context"
	"fmt"

	"github.com/toolmeter/gateway/internal/errors"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/quota"
	"github.com/toolmeter/gateway/internal/ratelimiter"
)

// BatchCall is one call within a batch invocation.
type BatchCall struct {
	Tool string
	Args map[string]interface{}
}

// BatchResult is the outcome of EvaluateBatch.
type BatchResult struct {
	AllAllowed           bool
	FailedIndex          int // -1 when AllAllowed
	Decisions            []Decision
	TotalCreditsCharged  int64
	RemainingCredits     int64
}

// EvaluateBatch implements spec.md §4.2's evaluateBatch: checks 1-11 over
// the aggregate (credit/spending/quota/team) and per-call over
// ACL/scoped-token/per-tool-rate-limit, all-or-nothing. On success it
// deducts the aggregate and records quota for the whole batch once, then
// records rate-limit entries per call, then emits N usage events.
func (g *Gate) EvaluateBatch(ctx context.Context, apiKey string, calls []BatchCall, req CallRequest) BatchResult {
	decisions := make([]Decision, len(calls))

	// Steps 1-3: key validity and IP allowlist, checked once for the batch.
	if apiKey == "" {
		return rejectAll(decisions, 0, string(errors.ErrCodeMissingAPIKey))
	}
	if g.store.IsExpired(apiKey) {
		return rejectAll(decisions, 0, string(errors.ErrCodeAPIKeyExpired))
	}
	record := g.store.GetKey(apiKey)
	if record == nil {
		return rejectAll(decisions, 0, string(errors.ErrCodeInvalidAPIKey))
	}
	if req.ClientIP != "" && !keystore.MatchAllowlist(record.IPAllowlist, req.ClientIP) {
		return rejectAll(decisions, 0, fmt.Sprintf("%s: %s not in allowlist", errors.ErrCodeIPNotAllowed, req.ClientIP))
	}

	group := g.resolveGroup(record)
	allowedTools, deniedTools := effectiveACL(record, group)

	// Step 6: global rate limit, checked once against the whole batch attempt.
	if allowed, reason := g.checkGlobalRateLimit(ctx, apiKey); !allowed {
		return rejectAll(decisions, 0, reason)
	}

	// Per-call ACL, scoped-token, and batch-aware per-tool rate limit (steps 4, 5, 7).
	type toolPlan struct {
		limit     int64
		composite string
	}
	plans := make([]toolPlan, len(calls))
	batchOccurrences := make(map[string]int64) // composite key -> occurrences seen so far in this batch
	prices := make([]int64, len(calls))
	var totalPrice int64

	for i, call := range calls {
		if len(allowedTools) > 0 && !contains(allowedTools, call.Tool) {
			return rejectAll(decisions, i, fmt.Sprintf("%s: %s not in allowedTools", errors.ErrCodeToolNotAllowed, call.Tool))
		}
		if contains(deniedTools, call.Tool) {
			return rejectAll(decisions, i, fmt.Sprintf("%s: %s is in deniedTools", errors.ErrCodeToolDenied, call.Tool))
		}
		if len(req.ScopedTools) > 0 && !contains(req.ScopedTools, call.Tool) {
			return rejectAll(decisions, i, fmt.Sprintf("%s: %s not in scoped token", errors.ErrCodeScopeNotAllowed, call.Tool))
		}

		composite := ratelimiter.CompositeKey(apiKey, call.Tool)
		limit := g.toolRateLimitPerMin(ctx, call.Tool)
		plans[i] = toolPlan{limit: limit, composite: composite}

		if limit > 0 {
			existing := g.limiter.GetCurrentCount(composite)
			occurrence := batchOccurrences[composite] + 1
			batchOccurrences[composite] = occurrence
			if int64(existing)+occurrence > limit {
				return rejectAll(decisions, i, fmt.Sprintf("tool_rate_limited: %d calls/min exceeded", limit))
			}
		}

		prices[i] = g.getToolPrice(ctx, call.Tool, call.Args, record)
		totalPrice += prices[i]
	}

	// Steps 8-11 plus deduction, aggregated, inside one lock scope.
	var teamReason string
	var remaining int64
	err := g.store.WithRecord(apiKey, func(r *keystore.ApiKeyRecord) error {
		if r.Credits < totalPrice {
			return denyErr(fmt.Sprintf("%s: need %d, have %d", errors.ErrCodeInsufficientFunds, totalPrice, r.Credits))
		}
		if r.SpendingLimit > 0 && r.TotalSpent+totalPrice > r.SpendingLimit {
			return denyErr(fmt.Sprintf("%s: limit %d", errors.ErrCodeSpendingLimit, r.SpendingLimit))
		}
		if qr := quota.CheckBatch(r, int64(len(calls)), totalPrice, g.cfg.GlobalQuota); !qr.Allowed {
			return denyErr(qr.Reason)
		}
		if allowed, reason := g.checkTeamBudget(ctx, r.Namespace, totalPrice); !allowed {
			teamReason = reason
			if g.metrics != nil {
				g.metrics.ObserveTeamBudgetHit(r.Namespace)
			}
			return denyErr(reason)
		}

		r.Credits -= totalPrice
		r.TotalSpent += totalPrice
		r.TotalCalls += int64(len(calls))
		quota.RecordBatch(r, int64(len(calls)), totalPrice)
		remaining = r.Credits
		return nil
	})

	if err != nil {
		reason := teamReason
		if de, ok := err.(*denyError); ok {
			reason = de.reason
		}
		if reason == "" {
			g.logger.Error().Err(err).Msg("gate: evaluateBatch failed")
			reason = string(errors.ErrCodeInternalError)
		}
		return rejectAll(decisions, 0, reason)
	}

	for i, call := range calls {
		g.limiter.Record(apiKey)
		if plans[i].limit > 0 {
			g.limiter.RecordCustom(plans[i].composite)
		}
		decisions[i] = Decision{Allowed: true, CreditsCharged: prices[i]}
		g.recordUsage(ctx, apiKey, CallRequest{Tool: call.Tool, Namespace: req.Namespace, RequestID: req.RequestID}, decisions[i])
	}

	g.maybeAutoTopup(ctx, apiKey, record)

	if g.metrics != nil {
		for _, call := range calls {
			g.metrics.ObserveEvaluation(call.Tool, true, "", 0)
		}
	}

	return BatchResult{
		AllAllowed:          true,
		FailedIndex:         -1,
		Decisions:           decisions,
		TotalCreditsCharged: totalPrice,
		RemainingCredits:    remaining,
	}
}

// rejectAll fills every decision slot with batch_rejected except
// failedIndex, which carries the actual reason, per spec.md §4.2's
// all-or-nothing batch semantics.
func rejectAll(decisions []Decision, failedIndex int, reason string) BatchResult {
	for i := range decisions {
		if i == failedIndex {
			decisions[i] = Decision{Allowed: false, Reason: reason}
		} else {
			decisions[i] = Decision{Allowed: false, Reason: string(errors.ErrCodeBatchRejected)}
		}
	}
	return BatchResult{
		AllAllowed:  false,
		FailedIndex: failedIndex,
		Decisions:   decisions,
	}
}
