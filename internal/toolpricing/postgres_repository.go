package toolpricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/toolmeter/gateway/internal/config"
)

// PostgresRepository serves prices from a "tool_prices" table, for
// deployments that manage pricing outside the static YAML config.
type PostgresRepository struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresRepository opens a new connection pool against connectionString.
func NewPostgresRepository(connectionString string, pool config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("toolpricing: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("toolpricing: ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)
	return &PostgresRepository{db: db, ownsDB: true}, nil
}

// NewPostgresRepositoryWithDB shares an existing connection pool.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ownsDB: false}
}

// GetPrice looks up a single tool's price row.
func (r *PostgresRepository) GetPrice(ctx context.Context, tool string) (Price, error) {
	var p Price
	var metadataJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT tool, credits_per_call, rate_limit_per_min, metadata FROM tool_prices WHERE tool = $1`,
		tool,
	).Scan(&p.Tool, &p.CreditsPerCall, &p.RateLimitPerMin, &metadataJSON)
	if err == sql.ErrNoRows {
		return Price{}, ErrToolNotFound
	}
	if err != nil {
		return Price{}, fmt.Errorf("toolpricing: query price: %w", err)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &p.Metadata)
	}
	return p, nil
}

// ListPrices returns every row in tool_prices.
func (r *PostgresRepository) ListPrices(ctx context.Context) ([]Price, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tool, credits_per_call, rate_limit_per_min, metadata FROM tool_prices`)
	if err != nil {
		return nil, fmt.Errorf("toolpricing: list prices: %w", err)
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		var metadataJSON []byte
		if err := rows.Scan(&p.Tool, &p.CreditsPerCall, &p.RateLimitPerMin, &metadataJSON); err != nil {
			return nil, fmt.Errorf("toolpricing: scan price row: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &p.Metadata)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the connection pool if this repository opened it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
