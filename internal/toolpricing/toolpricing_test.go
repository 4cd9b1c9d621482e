package toolpricing

import (
	"context"
	"testing"
	"time"

	"github.com/toolmeter/gateway/internal/config"
)

func TestYAMLRepositoryGetPrice(t *testing.T) {
	repo := NewYAMLRepository(map[string]config.ToolPrice{
		"search": {CreditsPerCall: 5},
	})
	price, err := repo.GetPrice(context.Background(), "search")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.CreditsPerCall != 5 {
		t.Errorf("expected 5 credits, got %d", price.CreditsPerCall)
	}
}

func TestYAMLRepositoryUnknownTool(t *testing.T) {
	repo := NewYAMLRepository(map[string]config.ToolPrice{})
	if _, err := repo.GetPrice(context.Background(), "missing"); err != ErrToolNotFound {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

// countingRepo counts GetPrice calls so the cache layer's hit behavior can
// be verified without a real backing store.
type countingRepo struct {
	calls int
	price Price
}

func (c *countingRepo) GetPrice(_ context.Context, tool string) (Price, error) {
	c.calls++
	return c.price, nil
}
func (c *countingRepo) ListPrices(_ context.Context) ([]Price, error) { return []Price{c.price}, nil }
func (c *countingRepo) Close() error                                  { return nil }

func TestCachedRepositorySharesResultWithinTTL(t *testing.T) {
	underlying := &countingRepo{price: Price{Tool: "search", CreditsPerCall: 5}}
	cached := NewCachedRepository(underlying, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := cached.GetPrice(context.Background(), "search"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if underlying.calls != 1 {
		t.Errorf("expected exactly 1 underlying call within TTL, got %d", underlying.calls)
	}
}

func TestCachedRepositoryZeroTTLBypassesCache(t *testing.T) {
	underlying := &countingRepo{price: Price{Tool: "search", CreditsPerCall: 5}}
	cached := NewCachedRepository(underlying, 0)

	for i := 0; i < 3; i++ {
		cached.GetPrice(context.Background(), "search")
	}
	if underlying.calls != 3 {
		t.Errorf("expected every call to pass through with zero TTL, got %d", underlying.calls)
	}
}

func TestCachedRepositoryInvalidateForcesRefetch(t *testing.T) {
	underlying := &countingRepo{price: Price{Tool: "search", CreditsPerCall: 5}}
	cached := NewCachedRepository(underlying, time.Minute)

	cached.GetPrice(context.Background(), "search")
	cached.InvalidateCache()
	cached.GetPrice(context.Background(), "search")

	if underlying.calls != 2 {
		t.Errorf("expected invalidate to force a second fetch, got %d calls", underlying.calls)
	}
}

func TestNewSelectsYAMLSourceByDefault(t *testing.T) {
	repo, err := New(config.ToolPricingConfig{
		Prices: map[string]config.ToolPrice{"search": {CreditsPerCall: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price, err := repo.GetPrice(context.Background(), "search")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.CreditsPerCall != 2 {
		t.Errorf("expected 2 credits, got %d", price.CreditsPerCall)
	}
}

func TestNewRejectsUnknownSource(t *testing.T) {
	if _, err := New(config.ToolPricingConfig{Source: "mongo"}); err == nil {
		t.Fatal("expected error for unknown source")
	}
}
