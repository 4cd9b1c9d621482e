package team

import (
	"fmt"

	"github.com/toolmeter/gateway/internal/config"
)

// New constructs the configured Repository, or nil when cfg.Source is
// empty (team budgets are an optional collaborator, per spec.md §9).
func New(cfg config.TeamConfig) (Repository, error) {
	switch cfg.Source {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryRepository(), nil
	case "postgres":
		repo, err := NewPostgresRepository(cfg.PostgresURL, config.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("team: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("team: unknown source %q", cfg.Source)
	}
}
