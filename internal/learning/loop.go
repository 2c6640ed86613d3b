// Package learning adjusts per-trader signal weights from decision
// outcomes. It runs after market close and never touches the portfolio.
package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/database"
	"paper-trader/internal/signal"
)

// Result reasons.
const (
	ReasonAdjusted         = "adjusted"
	ReasonNoChange         = "no_change"
	ReasonInsufficientData = "insufficient_data"
	ReasonDisabled         = "disabled"
)

// Weight bounds applied after each step.
const (
	weightFloor = 0.05
	weightCeil  = 0.50
)

// Store is the persistence surface the loop needs.
type Store interface {
	GetTrader(ctx context.Context, id uuid.UUID) (*database.Trader, error)
	ListResolvedDecisionsSince(ctx context.Context, traderID uuid.UUID, since time.Time) ([]*database.Decision, error)
	UpdateTraderWeights(ctx context.Context, id uuid.UUID, weights map[string]float64, history *database.WeightHistory) error
}

// Loop computes accuracy-driven weight updates.
type Loop struct {
	store  Store
	logger zerolog.Logger
}

// New creates a learning loop.
func New(store Store, logger zerolog.Logger) *Loop {
	return &Loop{store: store, logger: logger.With().Str("component", "learning").Logger()}
}

// Result describes one learning pass over one trader.
type Result struct {
	Reason     string
	OldWeights map[string]float64
	NewWeights map[string]float64
	Accuracy   map[string]float64
	Resolved   int
}

// Run evaluates one trader and, when warranted, persists new weights plus
// a WeightHistory record. It is idempotent: running it twice on the same
// outcomes converges to the same weights.
func (l *Loop) Run(ctx context.Context, traderID uuid.UUID, now time.Time) (*Result, error) {
	trader, err := l.store.GetTrader(ctx, traderID)
	if err != nil {
		return nil, err
	}
	p := &trader.Personality
	if !p.Learning.Enabled || !p.Learning.UpdateWeights {
		return &Result{Reason: ReasonDisabled, OldWeights: p.Signals.Weights}, nil
	}

	since := now.AddDate(0, 0, -p.Learning.AccuracyWindowDays)
	decisions, err := l.store.ListResolvedDecisionsSince(ctx, traderID, since)
	if err != nil {
		return nil, err
	}
	if len(decisions) < p.Learning.MinTradesBeforeAdjust {
		return &Result{Reason: ReasonInsufficientData, OldWeights: p.Signals.Weights, Resolved: len(decisions)}, nil
	}

	accuracy := SourceAccuracy(decisions)
	newWeights := Step(p.Signals.Weights, accuracy, p.Learning.MaxWeightChange)

	result := &Result{
		OldWeights: copyWeights(p.Signals.Weights),
		NewWeights: newWeights,
		Accuracy:   accuracy,
		Resolved:   len(decisions),
	}

	maxDelta := 0.0
	for src, w := range newWeights {
		if d := math.Abs(w - p.Signals.Weights[src]); d > maxDelta {
			maxDelta = d
		}
	}
	if maxDelta < 0.01 {
		result.Reason = ReasonNoChange
		return result, nil
	}

	history := &database.WeightHistory{
		TraderID:   traderID,
		OldWeights: result.OldWeights,
		NewWeights: newWeights,
		Reason:     fmt.Sprintf("accuracy adjustment over %d resolved decisions", len(decisions)),
		Accuracy:   accuracy,
	}
	if err := l.store.UpdateTraderWeights(ctx, traderID, newWeights, history); err != nil {
		return nil, err
	}

	result.Reason = ReasonAdjusted
	l.logger.Info().
		Str("trader", traderID.String()).
		Interface("accuracy", accuracy).
		Interface("weights", newWeights).
		Msg("signal weights adjusted")
	return result, nil
}

// SourceAccuracy computes the hit rate of each source over the resolved
// decisions. A source scores a hit when its direction sided with the
// decision and the decision worked out, or it dissented and the decision
// failed.
func SourceAccuracy(decisions []*database.Decision) map[string]float64 {
	correct := map[string]int{}
	answered := map[string]int{}

	for _, d := range decisions {
		if d.Outcome == nil {
			continue
		}
		decisionDir := directionOfDecision(d.DecisionType)
		for src, score := range d.SourceScores {
			answered[src]++
			agreed := score.Direction == decisionDir
			if agreed == d.Outcome.WasCorrect {
				correct[src]++
			}
		}
	}

	accuracy := make(map[string]float64, len(answered))
	for src, n := range answered {
		if n > 0 {
			accuracy[src] = float64(correct[src]) / float64(n)
		}
	}
	return accuracy
}

func directionOfDecision(decisionType string) string {
	switch decisionType {
	case database.DecisionBuy:
		return signal.DirectionUp
	case database.DecisionSell, database.DecisionShort, database.DecisionClose:
		return signal.DirectionDown
	default:
		return signal.DirectionNeutral
	}
}

// Step moves each weight toward its accuracy-implied target by at most
// maxChange, clamps to [0.05, 0.5] and renormalizes to sum 1.
func Step(weights, accuracy map[string]float64, maxChange float64) map[string]float64 {
	scores := make(map[string]float64, len(weights))
	var scoreSum float64
	for src := range weights {
		score := math.Max(0.1, accuracy[src])
		scores[src] = score
		scoreSum += score
	}
	if scoreSum == 0 {
		return copyWeights(weights)
	}

	stepped := make(map[string]float64, len(weights))
	var sum float64
	for src, w := range weights {
		target := scores[src] / scoreSum
		delta := target - w
		if delta > maxChange {
			delta = maxChange
		} else if delta < -maxChange {
			delta = -maxChange
		}
		nw := w + delta
		if nw < weightFloor {
			nw = weightFloor
		} else if nw > weightCeil {
			nw = weightCeil
		}
		stepped[src] = nw
		sum += nw
	}

	for src := range stepped {
		stepped[src] /= sum
	}
	return stepped
}

// WasCorrect applies the outcome correctness policy for one decision type.
// Holds count as correct; controlled exits with a small loss count as
// correct risk management up to the personality's threshold.
func WasCorrect(decisionType string, pnl, smallLossThreshold float64) bool {
	switch decisionType {
	case database.DecisionBuy, database.DecisionShort:
		return pnl > 0
	case database.DecisionSell, database.DecisionClose:
		return pnl > 0 || math.Abs(pnl) < smallLossThreshold
	default: // hold, skip
		return true
	}
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
