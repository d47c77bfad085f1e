package database

import (
	"context"
	"fmt"
	"time"

	"github.com/foliotrack/valuation-service/internal/cache"
	"github.com/foliotrack/valuation-service/internal/models"
)

// CachedPriceProvider fronts the price_data table with the process-wide TTL
// cache so repeated series rebuilds within the TTL window skip the database.
// It satisfies valuation.PriceProvider.
type CachedPriceProvider struct {
	db    *DB
	cache *cache.TTLCache
	ttl   time.Duration
}

func NewCachedPriceProvider(db *DB, c *cache.TTLCache, ttl time.Duration) *CachedPriceProvider {
	if ttl <= 0 {
		ttl = cache.TTLQuote
	}
	return &CachedPriceProvider{db: db, cache: c, ttl: ttl}
}

// GetPrices returns daily bars for the range, served from cache when a
// previous call already loaded the same key.
func (p *CachedPriceProvider) GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceDataDaily, error) {
	key := fmt.Sprintf("prices:%s:%s:%s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))

	value, err := p.cache.GetOrLoad(key, p.ttl, func() (any, error) {
		return p.db.GetPrices(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	return value.([]models.PriceDataDaily), nil
}
