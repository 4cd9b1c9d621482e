package toolpricing

import (
	"fmt"

	"github.com/toolmeter/gateway/internal/config"
)

// New constructs the configured Repository, wrapping it in a
// CachedRepository when cfg.CacheTTL is positive.
func New(cfg config.ToolPricingConfig) (Repository, error) {
	var underlying Repository
	switch cfg.Source {
	case "", "yaml":
		underlying = NewYAMLRepository(cfg.Prices)
	case "postgres":
		repo, err := NewPostgresRepository(cfg.PostgresURL, config.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("toolpricing: %w", err)
		}
		underlying = repo
	default:
		return nil, fmt.Errorf("toolpricing: unknown source %q", cfg.Source)
	}

	if cfg.CacheTTL.Duration > 0 {
		return NewCachedRepository(underlying, cfg.CacheTTL.Duration), nil
	}
	return underlying, nil
}
