package team

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/toolmeter/gateway/internal/config"
)

// PostgresRepository stores team budgets in a "team_budgets" table. The
// spend-then-check update runs in one transaction that locks the row with
// SELECT ... FOR UPDATE before the UPDATE, so
// concurrent evaluators across process instances can't both pass a check
// that only one team budget can actually cover.
type PostgresRepository struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresRepository opens a new connection pool against connectionString.
func NewPostgresRepository(connectionString string, pool config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("team: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("team: ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)
	return &PostgresRepository{db: db, ownsDB: true}, nil
}

// NewPostgresRepositoryWithDB shares an existing connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ownsDB: false}
}

// CheckAndRecord implements Repository.
func (r *PostgresRepository) CheckAndRecord(ctx context.Context, team string, amount int64) (bool, string, error) {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("team: begin tx: %w", err)
	}
	defer tx.Rollback()

	var limit, spent int64
	var resetPeriod, lastDay, lastMonth sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT period_limit, reset_period, period_spent, last_reset_day, last_reset_month
		 FROM team_budgets WHERE team = $1 FOR UPDATE`, team,
	).Scan(&limit, &resetPeriod, &spent, &lastDay, &lastMonth)
	if err == sql.ErrNoRows {
		return true, "", nil // no budget configured: always allow
	}
	if err != nil {
		return false, "", fmt.Errorf("team: query budget: %w", err)
	}
	if limit == 0 {
		return true, "", nil
	}

	switch ResetPeriod(resetPeriod.String) {
	case ResetDaily:
		if lastDay.String != today {
			spent = 0
			lastDay = sql.NullString{String: today, Valid: true}
		}
	case ResetMonthly:
		if lastMonth.String != month {
			spent = 0
			lastMonth = sql.NullString{String: month, Valid: true}
		}
	}

	if spent+amount > limit {
		if err := tx.Commit(); err != nil {
			return false, "", fmt.Errorf("team: commit: %w", err)
		}
		return false, fmt.Sprintf("team_budget_exceeded: limit %d", limit), nil
	}

	spent += amount
	_, err = tx.ExecContext(ctx,
		`UPDATE team_budgets SET period_spent = $1, last_reset_day = $2, last_reset_month = $3, updated_at = $4 WHERE team = $5`,
		spent, lastDay, lastMonth, now, team,
	)
	if err != nil {
		return false, "", fmt.Errorf("team: update spend: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("team: commit: %w", err)
	}
	return true, "", nil
}

// Upsert implements Repository.
func (r *PostgresRepository) Upsert(ctx context.Context, budget Budget) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO team_budgets (team, period_limit, reset_period, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (team) DO UPDATE SET period_limit = $2, reset_period = $3, updated_at = $4
	`, budget.Team, budget.PeriodLimit, string(budget.ResetPeriod), now)
	if err != nil {
		return fmt.Errorf("team: upsert: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, team string) (Budget, error) {
	var b Budget
	var resetPeriod string
	var lastDay, lastMonth sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT team, period_limit, reset_period, period_spent, last_reset_day, last_reset_month, created_at, updated_at
		FROM team_budgets WHERE team = $1
	`, team).Scan(&b.Team, &b.PeriodLimit, &resetPeriod, &b.PeriodSpent, &lastDay, &lastMonth, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Budget{}, ErrNotFound
	}
	if err != nil {
		return Budget{}, fmt.Errorf("team: get: %w", err)
	}
	b.ResetPeriod = ResetPeriod(resetPeriod)
	b.LastResetDay = lastDay.String
	b.LastResetMonth = lastMonth.String
	return b, nil
}

// Close closes the connection pool if this repository opened it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
