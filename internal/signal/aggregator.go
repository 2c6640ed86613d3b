package signal

import (
	"fmt"
	"sort"
	"strings"

	"paper-trader/internal/database"
)

// Skip reasons emitted by the aggregator.
const (
	ReasonInsufficientSignals = "insufficient_signals"
)

// Aggregate is the fused view over all present verdicts plus the proposed
// decision before risk checks.
type Aggregate struct {
	Verdicts      map[string]Verdict
	WeightedScore float64
	Confidence    float64
	Agreement     string
	Decision      string // buy, sell, short, hold, skip
	SkipReason    string
	Summary       string
}

// AgreementLevel maps an agreement label onto [0,1] for threshold checks.
func AgreementLevel(agreement string) float64 {
	switch agreement {
	case database.AgreementFull:
		return 1.0
	case database.AgreementMajority:
		return 0.66
	case database.AgreementMixed:
		return 0.33
	default:
		return 0
	}
}

// Aggregate fuses the present verdicts under the personality's weights.
//
// Weights are restricted to sources that answered and renormalized to sum
// to 1. If more than half the original weight mass is missing the symbol is
// skipped outright. The buy/sell margin is minConfidence - 0.5, so a
// personality demanding higher confidence also demands a stronger score.
func AggregateVerdicts(verdicts map[string]Verdict, p *database.Personality) Aggregate {
	agg := Aggregate{Verdicts: verdicts}

	presentMass := 0.0
	for src := range verdicts {
		presentMass += p.Signals.Weights[src]
	}
	if 1-presentMass > 0.5 {
		agg.Decision = database.DecisionSkip
		agg.SkipReason = ReasonInsufficientSignals
		agg.Agreement = database.AgreementNone
		agg.Summary = fmt.Sprintf("only %.0f%% of signal weight available", presentMass*100)
		return agg
	}

	for src, v := range verdicts {
		w := p.Signals.Weights[src] / presentMass
		agg.WeightedScore += w * v.Score
		agg.Confidence += w * v.Confidence
	}

	agg.Agreement = agreementOf(verdicts)
	agg.Summary = summarize(verdicts, agg)

	epsilon := p.Trading.MinConfidence - 0.5
	strongAgreement := agg.Agreement == database.AgreementFull || agg.Agreement == database.AgreementMajority

	switch {
	case agg.WeightedScore > 0.5+epsilon && strongAgreement:
		agg.Decision = database.DecisionBuy
	case agg.WeightedScore < 0.5-epsilon && strongAgreement:
		if p.SupportsShort() {
			agg.Decision = database.DecisionShort
		} else {
			agg.Decision = database.DecisionSell
		}
	default:
		agg.Decision = database.DecisionHold
	}
	return agg
}

// agreementOf buckets the verdict directions. Unanimity is full, a strict
// majority is majority, a tie for the lead is none, anything else mixed.
func agreementOf(verdicts map[string]Verdict) string {
	if len(verdicts) == 0 {
		return database.AgreementNone
	}
	counts := map[string]int{}
	for _, v := range verdicts {
		counts[v.Direction]++
	}

	total := len(verdicts)
	max, tiedForMax := 0, 0
	for _, n := range counts {
		if n > max {
			max, tiedForMax = n, 1
		} else if n == max {
			tiedForMax++
		}
	}

	switch {
	case max == total:
		return database.AgreementFull
	case tiedForMax > 1:
		return database.AgreementNone
	case max*2 > total:
		return database.AgreementMajority
	default:
		return database.AgreementMixed
	}
}

func summarize(verdicts map[string]Verdict, agg Aggregate) string {
	names := make([]string, 0, len(verdicts))
	for src := range verdicts {
		names = append(names, src)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, src := range names {
		v := verdicts[src]
		parts = append(parts, fmt.Sprintf("%s=%s(%.2f)", src, v.Direction, v.Score))
	}
	return fmt.Sprintf("score %.4f, agreement %s: %s",
		agg.WeightedScore, agg.Agreement, strings.Join(parts, " "))
}
