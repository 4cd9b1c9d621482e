// Package toolpricing resolves the credit cost of a named tool. Repository
// implementations mirror the teacher's coupons repository family: a YAML-
// backed static source, an optional Postgres-backed source, and a
// read-through cache wrapping either.
package toolpricing

import (
	"context"
	"errors"
)

// ErrToolNotFound is returned when no price is configured for a tool.
var ErrToolNotFound = errors.New("toolpricing: tool not found")

// Price is the resolved cost and metadata for one tool. RateLimitPerMin is
// the per-tool sliding-window cap the Gate checks via the composite
// "<apiKey>:tool:<toolName>" rate-limiter key; zero means unlimited.
type Price struct {
	Tool            string            `json:"tool"`
	CreditsPerCall  int64             `json:"creditsPerCall"`
	RateLimitPerMin int64             `json:"rateLimitPerMin,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Repository resolves tool prices from some backing source.
type Repository interface {
	GetPrice(ctx context.Context, tool string) (Price, error)
	ListPrices(ctx context.Context) ([]Price, error)
	Close() error
}
