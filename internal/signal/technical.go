package signal

import (
	"context"
	"fmt"

	"paper-trader/internal/database"
	"paper-trader/internal/indicators"
)

// TechnicalSource scores a symbol from EMA trend, RSI and MACD. Each
// indicator votes and the votes are blended into a single score around 0.5.
type TechnicalSource struct{}

// NewTechnicalSource creates the indicator-based source.
func NewTechnicalSource() *TechnicalSource { return &TechnicalSource{} }

func (s *TechnicalSource) Name() string    { return database.SourceTechnical }
func (s *TechnicalSource) Available() bool { return true }

func (s *TechnicalSource) Evaluate(ctx context.Context, w *Window, _ *database.Portfolio) (*Verdict, error) {
	closes := w.Closes()
	if len(closes) < 60 {
		return nil, nil
	}

	ema20, err := indicators.EMA(closes, 20)
	if err != nil {
		return nil, nil
	}
	ema50, err := indicators.EMA(closes, 50)
	if err != nil {
		return nil, nil
	}
	rsi, err := indicators.RSI(closes, 14)
	if err != nil {
		return nil, nil
	}
	macd, err := indicators.MACD(closes)
	if err != nil {
		return nil, nil
	}

	price := closes[len(closes)-1]
	score := 0.5
	votes := 0

	// Trend: fast EMA above slow EMA with price above both is bullish.
	switch {
	case ema20 > ema50 && price > ema20:
		score += 0.15
		votes++
	case ema20 < ema50 && price < ema20:
		score -= 0.15
		votes--
	}

	// Momentum: oversold supports buying, overbought supports selling.
	switch {
	case rsi < 30:
		score += 0.10
		votes++
	case rsi > 70:
		score -= 0.10
		votes--
	}

	// MACD histogram and crossovers.
	switch macd.Crossover {
	case "bullish":
		score += 0.15
		votes++
	case "bearish":
		score -= 0.15
		votes--
	default:
		if macd.Histogram > 0 {
			score += 0.05
		} else if macd.Histogram < 0 {
			score -= 0.05
		}
	}

	score = clamp01(score)

	// Confidence grows with indicator agreement.
	confidence := 0.5
	switch votes {
	case 3, -3:
		confidence = 0.9
	case 2, -2:
		confidence = 0.75
	case 1, -1:
		confidence = 0.6
	}

	return &Verdict{
		Score:      score,
		Confidence: confidence,
		Direction:  directionOf(score),
		Rationale: fmt.Sprintf("ema20=%.2f ema50=%.2f rsi=%.1f macd_hist=%.3f cross=%s",
			ema20, ema50, rsi, macd.Histogram, macd.Crossover),
	}, nil
}
