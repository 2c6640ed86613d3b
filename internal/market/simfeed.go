package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimFeed generates deterministic price series per symbol. The same symbol
// always yields the same history for a given anchor time, which keeps test
// runs and local demos reproducible.
type SimFeed struct {
	mu     sync.Mutex
	anchor time.Time
	series map[string][]Candle
}

// NewSimFeed creates a feed anchored at the given time. Candles are daily
// bars ending on the anchor's date.
func NewSimFeed(anchor time.Time) *SimFeed {
	return &SimFeed{
		anchor: anchor.Truncate(24 * time.Hour),
		series: make(map[string][]Candle),
	}
}

const simHistoryDays = 250

// Quote returns the latest simulated price.
func (f *SimFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, ErrUnknownSymbol
	}
	candles := f.history(symbol)
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	return Quote{
		Symbol:    symbol,
		Price:     last.Close,
		PrevClose: prev.Close,
		Time:      last.Time,
	}, nil
}

// Candles returns the most recent daily bars, oldest first.
func (f *SimFeed) Candles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if symbol == "" {
		return nil, ErrUnknownSymbol
	}
	candles := f.history(symbol)
	if limit <= 0 || limit > len(candles) {
		limit = len(candles)
	}
	out := make([]Candle, limit)
	copy(out, candles[len(candles)-limit:])
	return out, nil
}

// SetPrice overrides the latest close of a symbol. Used by tests and the
// demo mode to force specific scenarios.
func (f *SimFeed) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candles := f.historyLocked(symbol)
	last := &candles[len(candles)-1]
	last.Close = price
	last.High = math.Max(last.High, price)
	last.Low = math.Min(last.Low, price)
}

func (f *SimFeed) history(symbol string) []Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyLocked(symbol)
}

func (f *SimFeed) historyLocked(symbol string) []Candle {
	if candles, ok := f.series[symbol]; ok {
		return candles
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	// Geometric random walk with a symbol-specific drift and volatility.
	price := 20 + rng.Float64()*180
	drift := (rng.Float64() - 0.45) * 0.001
	vol := 0.008 + rng.Float64()*0.02

	candles := make([]Candle, simHistoryDays)
	day := f.anchor.AddDate(0, 0, -simHistoryDays+1)
	for i := range candles {
		open := price
		ret := drift + vol*rng.NormFloat64()
		price = open * math.Exp(ret)
		high := math.Max(open, price) * (1 + rng.Float64()*vol)
		low := math.Min(open, price) * (1 - rng.Float64()*vol)
		candles[i] = Candle{
			Time:   day,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: 1e5 + rng.Float64()*1e6,
		}
		day = day.AddDate(0, 0, 1)
	}
	f.series[symbol] = candles
	return candles
}
