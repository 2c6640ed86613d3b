// Package signal contains the four signal sources and the aggregator that
// fuses their verdicts into a proposed trading decision.
package signal

import (
	"context"

	"paper-trader/internal/database"
	"paper-trader/internal/market"
)

// Verdict directions.
const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionNeutral = "neutral"
)

// Verdict is one source's opinion on one symbol. Score 0.5 is neutral,
// above is bullish, below is bearish.
type Verdict struct {
	Score      float64 `json:"score"`      // [0,1]
	Confidence float64 `json:"confidence"` // [0,1]
	Direction  string  `json:"direction"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Window is the input every source evaluates: recent candles plus the
// current quote. Sources must be pure functions of the window; evaluating
// the same window twice yields the same verdict.
type Window struct {
	Symbol  string
	Candles []market.Candle
	Quote   market.Quote
}

// Closes returns the close prices of the window, oldest first.
func (w *Window) Closes() []float64 {
	out := make([]float64, len(w.Candles))
	for i, c := range w.Candles {
		out[i] = c.Close
	}
	return out
}

// Source produces verdicts for symbols. A source that cannot serve a
// symbol returns (nil, nil); only infrastructure failures return errors.
type Source interface {
	Name() string
	Available() bool
	Evaluate(ctx context.Context, w *Window, portfolio *database.Portfolio) (*Verdict, error)
}

func directionOf(score float64) string {
	switch {
	case score > 0.5:
		return DirectionUp
	case score < 0.5:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
