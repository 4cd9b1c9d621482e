package gate

import (
	"context"
	"time"

	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/observability"
	"github.com/toolmeter/gateway/internal/quota"
)

// Refund implements spec.md §4.2's refund(key, tool, credits): adds
// credits back, subtracts from totalSpent/totalCalls (floored at 0), undoes
// the quota record, persists, and emits a refund event with
// creditsCharged = -credits. Refunds never fail if the key exists; if the
// key is unknown, it is a no-op with a warning (spec.md §7).
//
// Per SPEC_FULL.md's Open-Question decision, refund never touches a
// reservation: reservations are a separate two-phase mechanism with their
// own Settle/Release lifecycle, and a caller that meant to cancel a
// reservation must call Release, not Refund.
func (g *Gate) Refund(ctx context.Context, apiKey, tool string, credits int64) {
	if credits <= 0 {
		return
	}

	var remaining int64
	var keyName string
	err := g.store.WithRecord(apiKey, func(r *keystore.ApiKeyRecord) error {
		r.Credits = clampNonNegative(r.Credits + credits)
		r.TotalSpent -= credits
		if r.TotalSpent < 0 {
			r.TotalSpent = 0
		}
		r.TotalCalls--
		if r.TotalCalls < 0 {
			r.TotalCalls = 0
		}
		quota.Unrecord(r, credits)
		remaining = r.Credits
		keyName = r.Name
		return nil
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("tool", tool).Msg("gate: refund on unknown key, ignoring")
		return
	}

	if g.metrics != nil {
		g.metrics.ObserveRefund(tool, credits)
	}

	g.recordUsage(ctx, apiKey, CallRequest{Tool: tool}, Decision{
		Allowed:          true,
		CreditsCharged:   -credits,
		RemainingCredits: remaining,
	})

	if g.obs != nil {
		g.obs.EmitCreditsDeducted(ctx, observability.CreditsDeductedEvent{
			Timestamp: time.Now(), Key: apiKey, KeyName: keyName, Amount: -credits, NewBalance: remaining,
		})
	}
}

func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
