package signal

import (
	"context"
	"fmt"
	"hash/fnv"

	"paper-trader/internal/database"
)

// SentimentSource simulates an aggregated news and social sentiment score
// per symbol and day. The score is derived from a hash of (symbol, date)
// blended with recent price action, so it is stable within a trading day
// but drifts from day to day the way crowd sentiment does.
type SentimentSource struct{}

// NewSentimentSource creates the sentiment-based source.
func NewSentimentSource() *SentimentSource { return &SentimentSource{} }

func (s *SentimentSource) Name() string    { return database.SourceSentiment }
func (s *SentimentSource) Available() bool { return true }

func (s *SentimentSource) Evaluate(ctx context.Context, w *Window, _ *database.Portfolio) (*Verdict, error) {
	if len(w.Candles) < 6 {
		return nil, nil
	}

	day := w.Quote.Time.Format("2006-01-02")
	h := fnv.New64a()
	h.Write([]byte(w.Symbol + "|" + day))
	noise := float64(h.Sum64()%1000)/1000 - 0.5 // [-0.5, 0.5)

	closes := w.Closes()
	ret5 := closes[len(closes)-1]/closes[len(closes)-6] - 1

	// Sentiment chases recent performance with a daily mood swing on top.
	score := clamp01(0.5 + 4*ret5 + 0.3*noise)
	confidence := clamp01(0.5 + 0.6*abs(score-0.5))

	return &Verdict{
		Score:      score,
		Confidence: confidence,
		Direction:  directionOf(score),
		Rationale:  fmt.Sprintf("crowd=%.2f ret5=%.2f%%", score, ret5*100),
	}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
