package toolpricing

import (
	"context"

	"github.com/toolmeter/gateway/internal/config"
)

// YAMLRepository serves prices out of a static in-memory map loaded from
// the gateway's YAML config at startup.
type YAMLRepository struct {
	prices map[string]config.ToolPrice
}

// NewYAMLRepository wraps a statically-configured price table.
func NewYAMLRepository(prices map[string]config.ToolPrice) *YAMLRepository {
	return &YAMLRepository{prices: prices}
}

// GetPrice returns the configured price for tool.
func (r *YAMLRepository) GetPrice(_ context.Context, tool string) (Price, error) {
	cfg, ok := r.prices[tool]
	if !ok {
		return Price{}, ErrToolNotFound
	}
	return Price{Tool: tool, CreditsPerCall: cfg.CreditsPerCall, RateLimitPerMin: cfg.RateLimitPerMin, Metadata: cfg.Metadata}, nil
}

// ListPrices returns every configured tool price.
func (r *YAMLRepository) ListPrices(_ context.Context) ([]Price, error) {
	out := make([]Price, 0, len(r.prices))
	for tool, cfg := range r.prices {
		out = append(out, Price{Tool: tool, CreditsPerCall: cfg.CreditsPerCall, RateLimitPerMin: cfg.RateLimitPerMin, Metadata: cfg.Metadata})
	}
	return out, nil
}

// Close is a no-op; the YAML repository owns no external resources.
func (r *YAMLRepository) Close() error { return nil }
