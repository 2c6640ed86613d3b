package signal

import (
	"context"
	"fmt"
	"math"

	"paper-trader/internal/database"
	"paper-trader/internal/indicators"
)

// RLSource approximates a reward-trained policy: it favors trend-following
// entries when the risk-adjusted return of the recent window is positive
// and backs off in choppy regimes.
type RLSource struct{}

// NewRLSource creates the policy-based source.
func NewRLSource() *RLSource { return &RLSource{} }

func (s *RLSource) Name() string    { return database.SourceRL }
func (s *RLSource) Available() bool { return true }

func (s *RLSource) Evaluate(ctx context.Context, w *Window, _ *database.Portfolio) (*Verdict, error) {
	closes := w.Closes()
	if len(closes) < 31 {
		return nil, nil
	}

	last := closes[len(closes)-1]
	ret30 := last/closes[len(closes)-31] - 1

	vol, err := indicators.RealizedVol(closes, 30)
	if err != nil || vol == 0 {
		return nil, nil
	}

	// Annualized Sharpe-like ratio of the trailing month.
	sharpe := (ret30 * 12) / vol
	score := clamp01(0.5 + 0.12*sharpe)

	// The policy is less certain in high-volatility regimes.
	confidence := clamp01(0.8 - 0.5*math.Min(vol, 1))

	return &Verdict{
		Score:      score,
		Confidence: confidence,
		Direction:  directionOf(score),
		Rationale:  fmt.Sprintf("ret30=%.2f%% vol=%.2f sharpe=%.2f", ret30*100, vol, sharpe),
	}, nil
}
