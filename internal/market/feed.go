// Package market provides price data for the decision engine. The engine
// only sees the PriceFeed interface; behind it sits a deterministic
// simulated feed, optionally wrapped by a Redis quote cache.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownSymbol is returned for symbols the feed cannot price.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Quote is the latest price of one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close"`
	Time      time.Time `json:"time"`
}

// DayChangePct returns the percentage move against the previous close.
func (q Quote) DayChangePct() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Price - q.PrevClose) / q.PrevClose * 100
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceFeed supplies quotes and historical candles.
type PriceFeed interface {
	// Quote returns the latest price of one symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)
	// Candles returns up to limit daily candles ending at the most
	// recent bar, oldest first.
	Candles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}
