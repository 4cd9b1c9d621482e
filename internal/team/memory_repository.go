package team

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository, the default backend.
type MemoryRepository struct {
	mu      sync.Mutex
	budgets map[string]*Budget
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{budgets: make(map[string]*Budget)}
}

// CheckAndRecord implements Repository.
func (r *MemoryRepository) CheckAndRecord(_ context.Context, team string, amount int64) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	budget, ok := r.budgets[team]
	if !ok || budget.PeriodLimit == 0 {
		return true, "", nil
	}

	now := time.Now()
	budget.resetIfNeeded(now)

	if budget.PeriodSpent+amount > budget.PeriodLimit {
		return false, fmt.Sprintf("team_budget_exceeded: limit %d", budget.PeriodLimit), nil
	}

	budget.PeriodSpent += amount
	budget.UpdatedAt = now
	return true, "", nil
}

// Upsert implements Repository.
func (r *MemoryRepository) Upsert(_ context.Context, budget Budget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.budgets[budget.Team]
	if ok {
		budget.PeriodSpent = existing.PeriodSpent
		budget.LastResetDay = existing.LastResetDay
		budget.LastResetMonth = existing.LastResetMonth
		budget.CreatedAt = existing.CreatedAt
	} else {
		budget.CreatedAt = now
	}
	budget.UpdatedAt = now
	r.budgets[budget.Team] = &budget
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, team string) (Budget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	budget, ok := r.budgets[team]
	if !ok {
		return Budget{}, ErrNotFound
	}
	return *budget, nil
}

// Close is a no-op; the in-memory repository owns no external resources.
func (r *MemoryRepository) Close() error { return nil }
