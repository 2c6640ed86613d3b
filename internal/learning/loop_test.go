package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/database"
	"paper-trader/internal/signal"
)

type fakeStore struct {
	trader    *database.Trader
	decisions []*database.Decision

	savedWeights map[string]float64
	savedHistory *database.WeightHistory
}

func (f *fakeStore) GetTrader(ctx context.Context, id uuid.UUID) (*database.Trader, error) {
	return f.trader, nil
}

func (f *fakeStore) ListResolvedDecisionsSince(ctx context.Context, traderID uuid.UUID, since time.Time) ([]*database.Decision, error) {
	return f.decisions, nil
}

func (f *fakeStore) UpdateTraderWeights(ctx context.Context, id uuid.UUID, weights map[string]float64, history *database.WeightHistory) error {
	f.savedWeights = weights
	f.savedHistory = history
	return nil
}

func newTestTrader() *database.Trader {
	p := database.DefaultPersonality()
	return &database.Trader{ID: uuid.New(), Personality: p}
}

// resolvedDecision builds a correct buy decision where each listed source
// voted up and the others voted down.
func resolvedDecision(upSources ...string) *database.Decision {
	up := map[string]bool{}
	for _, s := range upSources {
		up[s] = true
	}
	scores := map[string]database.SourceScore{}
	for _, src := range database.KnownSources {
		dir := signal.DirectionDown
		if up[src] {
			dir = signal.DirectionUp
		}
		scores[src] = database.SourceScore{Score: 0.7, Confidence: 0.8, Direction: dir}
	}
	return &database.Decision{
		DecisionType: database.DecisionBuy,
		SourceScores: scores,
		Outcome:      &database.DecisionOutcome{Pnl: 500, WasCorrect: true},
	}
}

func TestStepMovesTowardAccuracyTargets(t *testing.T) {
	weights := map[string]float64{
		database.SourceML:        0.25,
		database.SourceRL:        0.25,
		database.SourceSentiment: 0.25,
		database.SourceTechnical: 0.25,
	}
	accuracy := map[string]float64{
		database.SourceML:        0.75,
		database.SourceRL:        0.50,
		database.SourceSentiment: 0.375,
		database.SourceTechnical: 0.625,
	}

	next := Step(weights, accuracy, 0.05)

	// ml and sentiment hit the 0.05 step cap; the others land on their
	// accuracy share directly.
	assert.InDelta(t, 0.30, next[database.SourceML], 1e-9)
	assert.InDelta(t, 0.50/2.25, next[database.SourceRL], 1e-9)
	assert.InDelta(t, 0.20, next[database.SourceSentiment], 1e-9)
	assert.InDelta(t, 0.625/2.25, next[database.SourceTechnical], 1e-9)

	sum := 0.0
	for _, w := range next {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestStepClampsToBounds(t *testing.T) {
	weights := map[string]float64{
		database.SourceML:        0.10,
		database.SourceRL:        0.30,
		database.SourceSentiment: 0.30,
		database.SourceTechnical: 0.30,
	}
	accuracy := map[string]float64{
		database.SourceML:        0.0,
		database.SourceRL:        1.0,
		database.SourceSentiment: 1.0,
		database.SourceTechnical: 1.0,
	}

	next := Step(weights, accuracy, 0.05)

	// ml bottoms out near the floor; no weight exceeds the ceiling.
	assert.Less(t, next[database.SourceML], 0.06)
	for _, w := range next {
		assert.LessOrEqual(t, w, 0.51)
	}
	sum := 0.0
	for _, w := range next {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestStepZeroAccuracyUsesScoreFloor(t *testing.T) {
	weights := map[string]float64{
		database.SourceML:        0.25,
		database.SourceRL:        0.25,
		database.SourceSentiment: 0.25,
		database.SourceTechnical: 0.25,
	}

	// No accuracy data at all: every score floors at 0.1, targets stay at
	// the current weights.
	next := Step(weights, map[string]float64{}, 0.05)
	for src, w := range weights {
		assert.InDelta(t, w, next[src], 1e-9)
	}
}

func TestSourceAccuracyCreditsDissent(t *testing.T) {
	// One failed buy: the dissenting source scores a hit, the agreeing one
	// a miss.
	d := resolvedDecision(database.SourceML)
	d.Outcome.WasCorrect = false
	d.Outcome.Pnl = -500

	accuracy := SourceAccuracy([]*database.Decision{d})

	assert.Equal(t, 0.0, accuracy[database.SourceML])
	assert.Equal(t, 1.0, accuracy[database.SourceRL])
}

func TestRunAdjustsWeights(t *testing.T) {
	store := &fakeStore{trader: newTestTrader()}

	// 40 correct buys with per-source agreement rates tuned to produce
	// accuracies {0.75, 0.50, 0.375, 0.625}.
	agreeCounts := map[string]int{
		database.SourceML:        30,
		database.SourceRL:        20,
		database.SourceSentiment: 15,
		database.SourceTechnical: 25,
	}
	for i := 0; i < 40; i++ {
		var ups []string
		for src, n := range agreeCounts {
			if i < n {
				ups = append(ups, src)
			}
		}
		store.decisions = append(store.decisions, resolvedDecision(ups...))
	}

	loop := New(store, zerolog.Nop())
	res, err := loop.Run(context.Background(), store.trader.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ReasonAdjusted, res.Reason)
	assert.InDelta(t, 0.30, res.NewWeights[database.SourceML], 1e-9)
	assert.InDelta(t, 0.20, res.NewWeights[database.SourceSentiment], 1e-9)
	require.NotNil(t, store.savedHistory)
	assert.Equal(t, res.NewWeights, store.savedWeights)
	assert.Equal(t, res.OldWeights, store.savedHistory.OldWeights)
}

func TestRunNoChangeSkipsPersist(t *testing.T) {
	store := &fakeStore{trader: newTestTrader()}
	for i := 0; i < 25; i++ {
		store.decisions = append(store.decisions, resolvedDecision(database.KnownSources...))
	}

	loop := New(store, zerolog.Nop())
	res, err := loop.Run(context.Background(), store.trader.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ReasonNoChange, res.Reason)
	assert.Nil(t, store.savedHistory)
}

func TestRunInsufficientData(t *testing.T) {
	store := &fakeStore{trader: newTestTrader()}
	for i := 0; i < 5; i++ {
		store.decisions = append(store.decisions, resolvedDecision(database.SourceML))
	}

	loop := New(store, zerolog.Nop())
	res, err := loop.Run(context.Background(), store.trader.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ReasonInsufficientData, res.Reason)
	assert.Equal(t, 5, res.Resolved)
	assert.Nil(t, store.savedHistory)
}

func TestRunDisabled(t *testing.T) {
	trader := newTestTrader()
	trader.Personality.Learning.UpdateWeights = false
	store := &fakeStore{trader: trader}

	loop := New(store, zerolog.Nop())
	res, err := loop.Run(context.Background(), trader.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ReasonDisabled, res.Reason)
}

func TestWasCorrect(t *testing.T) {
	tests := []struct {
		name         string
		decisionType string
		pnl          float64
		want         bool
	}{
		{"winning buy", database.DecisionBuy, 500, true},
		{"losing buy", database.DecisionBuy, -500, false},
		{"breakeven buy", database.DecisionBuy, 0, false},
		{"winning short", database.DecisionShort, 200, true},
		{"losing short", database.DecisionShort, -200, false},
		{"profitable close", database.DecisionClose, 300, true},
		{"small loss close", database.DecisionClose, -50, true},
		{"large loss close", database.DecisionClose, -150, false},
		{"small loss sell", database.DecisionSell, -99, true},
		{"hold", database.DecisionHold, -999, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WasCorrect(tt.decisionType, tt.pnl, 100))
		})
	}
}
