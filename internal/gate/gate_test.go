package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/config"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/logger"
	"github.com/toolmeter/gateway/internal/ratelimiter"
	"github.com/toolmeter/gateway/internal/reservation"
	"github.com/toolmeter/gateway/internal/team"
	"github.com/toolmeter/gateway/internal/toolpricing"
	"github.com/toolmeter/gateway/internal/usage"
)

func newTestGate(t *testing.T, prices map[string]config.ToolPrice) (*Gate, *keystore.KeyStore) {
	t.Helper()
	store := keystore.New(logger.New(logger.Config{}))
	limiter := ratelimiter.New(1000, time.Minute)
	pricing := toolpricing.NewYAMLRepository(prices)
	teamRepo := team.NewMemoryRepository()
	reservations := reservation.New(store, time.Hour)
	meter := usage.New(100)
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{})

	g := New(store, limiter, pricing, teamRepo, reservations, meter, nil, nil, breaker, logger.New(logger.Config{}), Config{
		DefaultCreditsPerCall: 1,
		GlobalRateLimitPerMin: 1000,
	})
	t.Cleanup(func() { _ = g.Destroy() })
	return g, store
}

func TestEvaluateBasicCharge(t *testing.T) {
	g, store := newTestGate(t, map[string]config.ToolPrice{
		"search": {CreditsPerCall: 5},
	})

	record, err := store.CreateKey("test", 100, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d := g.Evaluate(ctx, record.Key, CallRequest{Tool: "search"})
		if !d.Allowed {
			t.Fatalf("call %d: expected allow, got deny %q", i, d.Reason)
		}
		if d.CreditsCharged != 5 {
			t.Errorf("call %d: expected charge 5, got %d", i, d.CreditsCharged)
		}
	}

	updated := store.GetKey(record.Key)
	if updated.Credits != 90 {
		t.Errorf("expected balance 90, got %d", updated.Credits)
	}
	if updated.TotalCalls != 2 {
		t.Errorf("expected totalCalls 2, got %d", updated.TotalCalls)
	}
	if updated.TotalSpent != 10 {
		t.Errorf("expected totalSpent 10, got %d", updated.TotalSpent)
	}
}

func TestEvaluateBatchInsufficientCreditsAllOrNothing(t *testing.T) {
	g, store := newTestGate(t, map[string]config.ToolPrice{
		"a": {CreditsPerCall: 5},
		"b": {CreditsPerCall: 3},
		"c": {CreditsPerCall: 5},
	})

	record, err := store.CreateKey("test", 10, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ctx := context.Background()
	calls := []BatchCall{{Tool: "a"}, {Tool: "b"}, {Tool: "c"}}
	result := g.EvaluateBatch(ctx, record.Key, calls, CallRequest{})

	if result.AllAllowed {
		t.Fatal("expected batch to be rejected")
	}
	failed := result.Decisions[result.FailedIndex]
	if !strings.Contains(failed.Reason, "insufficient_credits") {
		t.Errorf("expected insufficient_credits reason, got %q", failed.Reason)
	}
	if !strings.Contains(failed.Reason, "need 13, have 10") {
		t.Errorf("expected need/have detail, got %q", failed.Reason)
	}

	updated := store.GetKey(record.Key)
	if updated.Credits != 10 {
		t.Errorf("expected balance unchanged at 10, got %d", updated.Credits)
	}
	if updated.TotalCalls != 0 {
		t.Errorf("expected totalCalls unchanged at 0, got %d", updated.TotalCalls)
	}

	for i, d := range result.Decisions {
		if i == result.FailedIndex {
			continue
		}
		if d.Reason != "batch_rejected" {
			t.Errorf("decision %d: expected batch_rejected, got %q", i, d.Reason)
		}
	}
}

func TestEvaluateBatchPerToolRateLimitIsBatchAware(t *testing.T) {
	g, store := newTestGate(t, map[string]config.ToolPrice{
		"limited": {CreditsPerCall: 1, RateLimitPerMin: 2},
	})

	record, err := store.CreateKey("test", 1000, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ctx := context.Background()
	calls := []BatchCall{{Tool: "limited"}, {Tool: "limited"}, {Tool: "limited"}}
	result := g.EvaluateBatch(ctx, record.Key, calls, CallRequest{})

	if result.AllAllowed {
		t.Fatal("expected batch to be rejected on the third limited call")
	}
	if result.FailedIndex != 2 {
		t.Errorf("expected failedIndex 2, got %d", result.FailedIndex)
	}
	if !strings.Contains(result.Decisions[2].Reason, "tool_rate_limited") {
		t.Errorf("expected tool_rate_limited reason, got %q", result.Decisions[2].Reason)
	}

	composite := ratelimiter.CompositeKey(record.Key, "limited")
	if count := g.limiter.GetCurrentCount(composite); count != 0 {
		t.Errorf("expected tool rate-limit window untouched, got count %d", count)
	}
}

func TestRefundReversesChargeAndEmitsEvent(t *testing.T) {
	g, store := newTestGate(t, map[string]config.ToolPrice{
		"premium": {CreditsPerCall: 5},
	})

	record, err := store.CreateKey("test", 100, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ctx := context.Background()
	d := g.Evaluate(ctx, record.Key, CallRequest{Tool: "premium"})
	if !d.Allowed {
		t.Fatalf("expected allow, got deny %q", d.Reason)
	}

	afterCharge := store.GetKey(record.Key)
	if afterCharge.Credits != 95 {
		t.Fatalf("expected balance 95 after charge, got %d", afterCharge.Credits)
	}
	if afterCharge.TotalSpent != 5 {
		t.Fatalf("expected totalSpent 5 after charge, got %d", afterCharge.TotalSpent)
	}

	var captured usage.Event
	g.SetOnUsageEvent(func(e usage.Event) { captured = e })
	g.Refund(ctx, record.Key, "premium", 5)

	afterRefund := store.GetKey(record.Key)
	if afterRefund.Credits != 100 {
		t.Errorf("expected balance restored to 100, got %d", afterRefund.Credits)
	}
	if afterRefund.TotalSpent != 0 {
		t.Errorf("expected totalSpent restored to 0, got %d", afterRefund.TotalSpent)
	}
	if afterRefund.TotalCalls != 0 {
		t.Errorf("expected totalCalls restored to 0, got %d", afterRefund.TotalCalls)
	}
	if captured.CreditsCharged != -5 {
		t.Errorf("expected refund event creditsCharged -5, got %d", captured.CreditsCharged)
	}
}

func TestEvaluateDeniesMissingAPIKey(t *testing.T) {
	g, _ := newTestGate(t, nil)
	d := g.Evaluate(context.Background(), "", CallRequest{Tool: "search"})
	if d.Allowed {
		t.Fatal("expected deny for missing api key")
	}
	if d.Reason != "missing_api_key" {
		t.Errorf("expected missing_api_key, got %q", d.Reason)
	}
}

func TestEvaluateIPAllowlistRejectsOutsideCIDR(t *testing.T) {
	g, store := newTestGate(t, map[string]config.ToolPrice{"search": {CreditsPerCall: 1}})
	record, err := store.CreateKey("test", 100, keystore.Options{IPAllowlist: []string{"10.0.0.0/24"}})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	ctx := context.Background()
	d := g.Evaluate(ctx, record.Key, CallRequest{Tool: "search", ClientIP: "192.168.1.1"})
	if d.Allowed {
		t.Fatal("expected deny for IP outside allowlist")
	}
	if !strings.Contains(d.Reason, "ip_not_allowed") {
		t.Errorf("expected ip_not_allowed reason, got %q", d.Reason)
	}

	d = g.Evaluate(ctx, record.Key, CallRequest{Tool: "search", ClientIP: "10.0.0.5"})
	if !d.Allowed {
		t.Errorf("expected allow for IP inside allowlist, got deny %q", d.Reason)
	}
}

func TestShadowModeAllowsAndPrefixesReason(t *testing.T) {
	store := keystore.New(logger.New(logger.Config{}))
	limiter := ratelimiter.New(1000, time.Minute)
	pricing := toolpricing.NewYAMLRepository(map[string]config.ToolPrice{"search": {CreditsPerCall: 5}})
	teamRepo := team.NewMemoryRepository()
	reservations := reservation.New(store, time.Hour)
	meter := usage.New(100)
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{})

	g := New(store, limiter, pricing, teamRepo, reservations, meter, nil, nil, breaker, logger.New(logger.Config{}), Config{
		DefaultCreditsPerCall: 1,
		ShadowMode:            true,
		GlobalRateLimitPerMin: 1000,
	})
	defer func() { _ = g.Destroy() }()

	record, err := store.CreateKey("test", 2, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	d := g.Evaluate(context.Background(), record.Key, CallRequest{Tool: "search"})
	if !d.Allowed {
		t.Fatal("expected shadow mode to always allow")
	}
	if !strings.HasPrefix(d.Reason, "shadow:insufficient_credits") {
		t.Errorf("expected shadow-prefixed insufficient_credits reason, got %q", d.Reason)
	}

	updated := store.GetKey(record.Key)
	if updated.Credits != 2 {
		t.Errorf("expected shadow mode to leave balance untouched at 2, got %d", updated.Credits)
	}
}
