package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/database"
)

func balancedPersonality() *database.Personality {
	p := database.DefaultPersonality()
	p.Trading.MinConfidence = 0.6
	p.Signals.MinAgreement = 0.66
	return &p
}

func TestAggregateCleanBuy(t *testing.T) {
	p := balancedPersonality()
	verdicts := map[string]Verdict{
		database.SourceML:        {Score: 0.8, Confidence: 0.9, Direction: DirectionUp},
		database.SourceRL:        {Score: 0.75, Confidence: 0.85, Direction: DirectionUp},
		database.SourceSentiment: {Score: 0.7, Confidence: 0.8, Direction: DirectionUp},
		database.SourceTechnical: {Score: 0.4, Confidence: 0.6, Direction: DirectionDown},
	}

	agg := AggregateVerdicts(verdicts, p)

	assert.InDelta(t, 0.6625, agg.WeightedScore, 1e-9)
	assert.InDelta(t, 0.7875, agg.Confidence, 1e-9)
	assert.Equal(t, database.AgreementMajority, agg.Agreement)
	assert.Equal(t, database.DecisionBuy, agg.Decision)
}

func TestAggregateMissingSourceRenormalizes(t *testing.T) {
	p := balancedPersonality()
	verdicts := map[string]Verdict{
		database.SourceRL:        {Score: 0.9, Confidence: 0.9, Direction: DirectionUp},
		database.SourceSentiment: {Score: 0.85, Confidence: 0.8, Direction: DirectionUp},
		database.SourceTechnical: {Score: 0.8, Confidence: 0.7, Direction: DirectionUp},
	}

	agg := AggregateVerdicts(verdicts, p)

	assert.InDelta(t, 0.85, agg.WeightedScore, 1e-9)
	assert.Equal(t, database.AgreementFull, agg.Agreement)
	assert.Equal(t, database.DecisionBuy, agg.Decision)
}

func TestAggregateInsufficientSignals(t *testing.T) {
	p := balancedPersonality()
	verdicts := map[string]Verdict{
		database.SourceTechnical: {Score: 0.9, Confidence: 0.9, Direction: DirectionUp},
	}

	agg := AggregateVerdicts(verdicts, p)

	assert.Equal(t, database.DecisionSkip, agg.Decision)
	assert.Equal(t, ReasonInsufficientSignals, agg.SkipReason)
}

func TestAggregateScoreAtThresholdHolds(t *testing.T) {
	p := balancedPersonality() // epsilon = 0.1, so buy needs > 0.6
	verdicts := map[string]Verdict{
		database.SourceML:        {Score: 0.6, Confidence: 0.9, Direction: DirectionUp},
		database.SourceRL:        {Score: 0.6, Confidence: 0.9, Direction: DirectionUp},
		database.SourceSentiment: {Score: 0.6, Confidence: 0.9, Direction: DirectionUp},
		database.SourceTechnical: {Score: 0.6, Confidence: 0.9, Direction: DirectionUp},
	}

	agg := AggregateVerdicts(verdicts, p)

	assert.InDelta(t, 0.6, agg.WeightedScore, 1e-9)
	assert.Equal(t, database.DecisionHold, agg.Decision)
}

func TestAggregateNeutralContributesHalf(t *testing.T) {
	p := balancedPersonality()
	verdicts := map[string]Verdict{
		database.SourceML:        {Score: 0.5, Confidence: 1.0, Direction: DirectionNeutral},
		database.SourceRL:        {Score: 0.5, Confidence: 1.0, Direction: DirectionNeutral},
		database.SourceSentiment: {Score: 0.5, Confidence: 1.0, Direction: DirectionNeutral},
		database.SourceTechnical: {Score: 0.5, Confidence: 1.0, Direction: DirectionNeutral},
	}

	agg := AggregateVerdicts(verdicts, p)

	assert.InDelta(t, 0.5, agg.WeightedScore, 1e-9)
	assert.Equal(t, database.DecisionHold, agg.Decision)
}

func TestAggregateBearishShortSupport(t *testing.T) {
	p := balancedPersonality()
	verdicts := map[string]Verdict{
		database.SourceML:        {Score: 0.2, Confidence: 0.9, Direction: DirectionDown},
		database.SourceRL:        {Score: 0.25, Confidence: 0.85, Direction: DirectionDown},
		database.SourceSentiment: {Score: 0.3, Confidence: 0.8, Direction: DirectionDown},
		database.SourceTechnical: {Score: 0.35, Confidence: 0.7, Direction: DirectionDown},
	}

	p.Trading.ProductType = database.ProductStock
	agg := AggregateVerdicts(verdicts, p)
	require.Equal(t, database.DecisionSell, agg.Decision)

	p.Trading.ProductType = database.ProductCFD
	agg = AggregateVerdicts(verdicts, p)
	require.Equal(t, database.DecisionShort, agg.Decision)
}

func TestAgreementClassification(t *testing.T) {
	tests := []struct {
		name       string
		directions []string
		want       string
	}{
		{"all up", []string{DirectionUp, DirectionUp, DirectionUp, DirectionUp}, database.AgreementFull},
		{"three of four", []string{DirectionUp, DirectionUp, DirectionUp, DirectionDown}, database.AgreementMajority},
		{"two two tie", []string{DirectionUp, DirectionUp, DirectionDown, DirectionDown}, database.AgreementNone},
		{"plurality only", []string{DirectionUp, DirectionUp, DirectionDown, DirectionNeutral}, database.AgreementMixed},
		{"no majority three way", []string{DirectionUp, DirectionDown, DirectionNeutral}, database.AgreementNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdicts := map[string]Verdict{}
			for i, dir := range tt.directions {
				verdicts[database.KnownSources[i]] = Verdict{Score: 0.5, Confidence: 0.5, Direction: dir}
			}
			assert.Equal(t, tt.want, agreementOf(verdicts))
		})
	}
}

func TestAgreementStrictMajority(t *testing.T) {
	// 3 of 5 is a strict majority even with the remaining votes split.
	verdicts := map[string]Verdict{
		"a": {Direction: DirectionUp},
		"b": {Direction: DirectionUp},
		"c": {Direction: DirectionUp},
		"d": {Direction: DirectionDown},
		"e": {Direction: DirectionNeutral},
	}
	assert.Equal(t, database.AgreementMajority, agreementOf(verdicts))
}
