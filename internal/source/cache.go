package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Vladimir-Bulan/mercadolibre-price-monitor/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "pricemonitor:search:"

// CachedSource wraps another Source with a redis TTL cache keyed on the
// search parameters. Redis failures fall through to the inner source, so a
// dead cache never blocks searches.
type CachedSource struct {
	inner  Source
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedSource) Search(ctx context.Context, query string, limit int) ([]RawProduct, error) {
	key := cacheKey(query, limit)

	if payload, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var products []RawProduct
		if err := json.Unmarshal(payload, &products); err == nil {
			metrics.SearchCacheHitsTotal.Inc()
			if c.logger != nil {
				c.logger.Debug("search cache hit",
					slog.String("query", query),
					slog.Int("count", len(products)))
			}
			return products, nil
		}
		// Corrupted entry; drop it and fall through.
		_ = c.rdb.Del(ctx, key).Err()
	} else if err != redis.Nil && c.logger != nil {
		c.logger.Warn("search cache read failed", slog.String("error", err.Error()))
	}

	products, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(products); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Warn("search cache write failed", slog.String("error", err.Error()))
		}
	}
	return products, nil
}

func cacheKey(query string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, limit)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
