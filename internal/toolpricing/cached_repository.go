package toolpricing

import (
	"context"
	"sync"
	"time"

	"github.com/toolmeter/gateway/internal/cacheutil"
)

// CachedRepository wraps any Repository with a TTL-based read-through
// cache, the same shape as the teacher's coupons.CachedRepository.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration
	mu         sync.RWMutex
	cached     map[string]cacheutil.CachedValue[Price]
	cachedList cacheutil.CachedValue[[]Price]
}

// NewCachedRepository wraps underlying with a cacheTTL-bounded cache. A
// cacheTTL of 0 disables caching and every call passes straight through.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		cacheTTL:   cacheTTL,
		cached:     make(map[string]cacheutil.CachedValue[Price]),
	}
}

// GetPrice retrieves a tool's price, populating the cache on miss.
func (r *CachedRepository) GetPrice(ctx context.Context, tool string) (Price, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetPrice(ctx, tool)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Price, bool) {
			if entry, ok := r.cached[tool]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Price{}, false
		},
		func(now time.Time) (Price, error) {
			price, err := r.underlying.GetPrice(ctx, tool)
			if err != nil {
				return Price{}, err
			}
			r.cached[tool] = cacheutil.CachedValue[Price]{Value: price, FetchedAt: now}
			return price, nil
		},
	)
}

// ListPrices returns every price, caching the full list together.
func (r *CachedRepository) ListPrices(ctx context.Context) ([]Price, error) {
	if r.cacheTTL == 0 {
		return r.underlying.ListPrices(ctx)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) ([]Price, bool) {
			if r.cachedList.Value != nil && now.Sub(r.cachedList.FetchedAt) < r.cacheTTL {
				return r.cachedList.Value, true
			}
			return nil, false
		},
		func(now time.Time) ([]Price, error) {
			prices, err := r.underlying.ListPrices(ctx)
			if err != nil {
				return nil, err
			}
			r.cachedList = cacheutil.CachedValue[[]Price]{Value: prices, FetchedAt: now}
			return prices, nil
		},
	)
}

// InvalidateCache forces the next reads to refetch from the underlying repository.
func (r *CachedRepository) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = make(map[string]cacheutil.CachedValue[Price])
	r.cachedList = cacheutil.CachedValue[[]Price]{}
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
