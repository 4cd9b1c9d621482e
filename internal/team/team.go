// Package team implements the optional team-level spending budget the
// Gate consults after a key's own quota passes (spec.md §4.3's team
// checker callback slot). It mirrors the teacher's subscriptions package:
// a Repository interface with in-memory and Postgres-backed
// implementations, built around a period budget and a running spend
// total rather than subscriptions.Subscription's billing period.
package team

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("team: not found")
	ErrAlreadyExists = errors.New("team: already exists")
)

// ResetPeriod names how often a team's spend counter zeroes.
type ResetPeriod string

const (
	ResetDaily   ResetPeriod = "daily"
	ResetMonthly ResetPeriod = "monthly"
	ResetNever   ResetPeriod = "never"
)

// Budget is one team's spending cap and running ledger.
type Budget struct {
	Team           string      `json:"team"`
	PeriodLimit    int64       `json:"periodLimit"` // 0 = unbounded
	ResetPeriod    ResetPeriod `json:"resetPeriod"`
	PeriodSpent    int64       `json:"periodSpent"`
	LastResetDay   string      `json:"lastResetDay,omitempty"`   // YYYY-MM-DD UTC, for ResetDaily
	LastResetMonth string      `json:"lastResetMonth,omitempty"` // YYYY-MM UTC, for ResetMonthly
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// resetIfNeeded zeroes PeriodSpent when the configured period has rolled
// over, the same string-comparison pattern internal/quota uses.
func (b *Budget) resetIfNeeded(now time.Time) {
	now = now.UTC()
	switch b.ResetPeriod {
	case ResetDaily:
		today := now.Format("2006-01-02")
		if b.LastResetDay != today {
			b.PeriodSpent = 0
			b.LastResetDay = today
		}
	case ResetMonthly:
		month := now.Format("2006-01")
		if b.LastResetMonth != month {
			b.PeriodSpent = 0
			b.LastResetMonth = month
		}
	}
}

// Available reports the budget's remaining spend for the current period.
// A zero PeriodLimit means unbounded (returns a very large sentinel is
// avoided; callers should treat PeriodLimit == 0 as "always allowed").
func (b Budget) Available() int64 {
	if b.PeriodLimit == 0 {
		return b.PeriodLimit
	}
	remaining := b.PeriodLimit - b.PeriodSpent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Repository stores and mutates team budgets.
type Repository interface {
	// CheckAndRecord atomically resets stale counters, verifies amount
	// fits within the team's remaining period budget, and if so records
	// the spend. Teams with no configured budget (PeriodLimit == 0)
	// always allow. An unknown team always allows (no budget configured).
	CheckAndRecord(ctx context.Context, team string, amount int64) (allowed bool, reason string, err error)

	// Upsert creates or updates a team's budget configuration.
	Upsert(ctx context.Context, budget Budget) error

	// Get retrieves a team's current budget state.
	Get(ctx context.Context, team string) (Budget, error)

	// Close releases any resources the repository holds.
	Close() error
}
