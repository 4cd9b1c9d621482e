package gate

import (
	"context"
	"encoding/json"
	"math"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/keystore"
)

// getToolPrice implements the pricing function from spec.md §4.2: base
// price from the tool-pricing repository (or the configured default),
// overridden by a key-group price if installed and covering the tool, plus
// an optional per-KB-of-input surcharge, plus an optional price-transform
// hook, clamped non-negative and rounded to a whole integer.
func (g *Gate) getToolPrice(ctx context.Context, tool string, args map[string]interface{}, record *keystore.ApiKeyRecord) int64 {
	base := g.cfg.DefaultCreditsPerCall
	if price, err := g.pricing.GetPrice(ctx, tool); err == nil {
		base = price.CreditsPerCall
	}

	if group := g.resolveGroup(record); group != nil {
		if override, ok := group.ToolPrices[tool]; ok {
			base = override
		}
	}

	if g.cfg.CreditsPerKbInput > 0 && len(args) > 0 {
		if serialized, err := json.Marshal(args); err == nil {
			inputSizeKB := float64(len(serialized)) / 1024
			surcharge := int64(math.Ceil(inputSizeKB * g.cfg.CreditsPerKbInput))
			base += surcharge
		}
	}

	// An abandoned or failing plugin hook is treated as a no-op: the base
	// price survives unchanged rather than blocking the call on a degraded
	// external dependency.
	if g.priceHook != nil {
		hookCtx, cancel := context.WithTimeout(ctx, g.cfg.HookTimeout)
		defer cancel()
		if result, err := g.breaker.Execute(circuitbreaker.ServicePriceHook, func() (interface{}, error) {
			return g.priceHook(hookCtx, tool, base), nil
		}); err != nil {
			g.logger.Warn().Err(err).Str("tool", tool).Msg("gate: price hook unavailable, using base price")
		} else {
			base = result.(int64)
		}
	}

	if base < 0 {
		base = 0
	}
	return base
}

// toolRateLimitPerMin resolves the per-tool rate-limit cap, 0 meaning
// unlimited, from the tool-pricing repository's rateLimitPerMin field.
func (g *Gate) toolRateLimitPerMin(ctx context.Context, tool string) int64 {
	price, err := g.pricing.GetPrice(ctx, tool)
	if err != nil {
		return 0
	}
	return price.RateLimitPerMin
}

// resolveGroup returns the Group a record belongs to, or nil.
func (g *Gate) resolveGroup(record *keystore.ApiKeyRecord) *Group {
	if g.groupResolver == nil || record == nil {
		return nil
	}
	return g.groupResolver(record)
}

// effectiveACL applies a group's ACL override (if any) over the record's
// own allowedTools/deniedTools, per the Open-Question decision that group
// overrides resolve before scoped-token narrowing (SPEC_FULL.md §5).
func effectiveACL(record *keystore.ApiKeyRecord, group *Group) (allowed, denied []string) {
	allowed, denied = record.AllowedTools, record.DeniedTools
	if group != nil {
		if len(group.AllowedTools) > 0 {
			allowed = group.AllowedTools
		}
		if len(group.DeniedTools) > 0 {
			denied = group.DeniedTools
		}
	}
	return allowed, denied
}
