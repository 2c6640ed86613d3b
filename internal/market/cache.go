package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedFeed wraps a PriceFeed with a Redis quote cache. Candle history is
// not cached; quotes are, with a short TTL, so many traders watching the
// same symbol share one upstream lookup per interval.
type CachedFeed struct {
	inner  PriceFeed
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedFeed decorates inner with a Redis quote cache.
func NewCachedFeed(inner PriceFeed, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedFeed {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedFeed{inner: inner, client: client, ttl: ttl, logger: logger}
}

func quoteKey(symbol string) string {
	return fmt.Sprintf("papertrader:quote:%s", symbol)
}

// Quote serves from Redis when fresh, falling back to the inner feed.
// Cache failures degrade to the inner feed rather than failing the tick.
func (f *CachedFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	doc, err := f.client.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q Quote
		if err := json.Unmarshal(doc, &q); err == nil {
			return q, nil
		}
	} else if err != redis.Nil {
		f.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote cache read failed")
	}

	q, err := f.inner.Quote(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	if doc, err := json.Marshal(q); err == nil {
		if err := f.client.Set(ctx, quoteKey(symbol), doc, f.ttl).Err(); err != nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
		}
	}
	return q, nil
}

// Candles delegates to the inner feed.
func (f *CachedFeed) Candles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	return f.inner.Candles(ctx, symbol, limit)
}
