package signal

import (
	"context"
	"fmt"
	"math"

	"paper-trader/internal/database"
)

// MLSource is a stand-in for a trained price model. It scores a symbol
// with a logistic blend of short-horizon momentum features, which gives a
// deterministic verdict per window without an external model server.
type MLSource struct{}

// NewMLSource creates the model-based source.
func NewMLSource() *MLSource { return &MLSource{} }

func (s *MLSource) Name() string    { return database.SourceML }
func (s *MLSource) Available() bool { return true }

func (s *MLSource) Evaluate(ctx context.Context, w *Window, _ *database.Portfolio) (*Verdict, error) {
	closes := w.Closes()
	if len(closes) < 21 {
		return nil, nil
	}

	last := closes[len(closes)-1]
	ret5 := last/closes[len(closes)-6] - 1
	ret20 := last/closes[len(closes)-21] - 1

	// Logistic over weighted momentum; short horizon dominates.
	z := 18*ret5 + 6*ret20
	score := 1 / (1 + math.Exp(-z))

	// Conviction scales with how far from neutral the model lands.
	confidence := clamp01(0.55 + 1.2*math.Abs(score-0.5))

	return &Verdict{
		Score:      score,
		Confidence: confidence,
		Direction:  directionOf(score),
		Rationale:  fmt.Sprintf("ret5=%.2f%% ret20=%.2f%%", ret5*100, ret20*100),
	}, nil
}
