package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/database"
)

func passingInput(t *testing.T) GateInput {
	t.Helper()
	p := database.DefaultPersonality()
	cal, err := NewCalendar(p.Schedule)
	require.NoError(t, err)

	// Monday midday inside the trading window.
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, cal.Location)

	return GateInput{
		Personality:       &p,
		Calendar:          cal,
		Now:               now,
		Action:            database.DecisionBuy,
		Confidence:        0.7875,
		Agreement:         database.AgreementMajority,
		EstimatedNotional: 20000,
		EstimatedCost:     20010,
		Cash:              100000,
		PortfolioValue:    100000,
		PeakValue:         100000,
	}
}

func TestCheckPasses(t *testing.T) {
	res := Check(passingInput(t))
	assert.True(t, res.Allowed)
	assert.Empty(t, res.RejectedBy)
}

func TestCheckRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GateInput)
		want   string
	}{
		{
			"confidence exactly at floor",
			func(in *GateInput) { in.Confidence = 0.60 },
			RejectConfidenceFloor,
		},
		{
			"confidence below floor",
			func(in *GateInput) { in.Confidence = 0.55 },
			RejectConfidenceFloor,
		},
		{
			"mixed agreement below floor",
			func(in *GateInput) { in.Agreement = database.AgreementMixed },
			RejectAgreementFloor,
		},
		{
			"outside trading hours",
			func(in *GateInput) { in.Now = in.Now.Add(10 * time.Hour) },
			RejectMarketClosed,
		},
		{
			"loss cooldown active",
			func(in *GateInput) {
				in.ConsecutiveLosses = 3
				in.LastLossAt = in.Now.Add(-20 * time.Minute)
			},
			RejectLossCooldown,
		},
		{
			"daily loss limit breached",
			func(in *GateInput) { in.DayPnl = -5001 },
			RejectDailyLossLimit,
		},
		{
			"drawdown past limit",
			func(in *GateInput) { in.PortfolioValue = 75000; in.PeakValue = 100000 },
			RejectMaxDrawdown,
		},
		{
			"cash reserve violated",
			func(in *GateInput) { in.Cash = 25000 },
			RejectCashReserve,
		},
		{
			"too many open positions",
			func(in *GateInput) { in.OpenPositions = 5 },
			RejectMaxPositions,
		},
		{
			"symbol exposure cap",
			func(in *GateInput) { in.SymbolExposure = 6000 },
			RejectSymbolExposure,
		},
		{
			"total exposure cap",
			func(in *GateInput) { in.TotalExposure = 61000 },
			RejectTotalExposure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passingInput(t)
			tt.mutate(&in)
			res := Check(in)
			assert.False(t, res.Allowed)
			assert.Equal(t, tt.want, res.RejectedBy)
		})
	}
}

func TestCheckOrderFirstFailureWins(t *testing.T) {
	in := passingInput(t)
	in.Confidence = 0.55
	in.Agreement = database.AgreementNone
	in.OpenPositions = 10

	res := Check(in)
	assert.Equal(t, RejectConfidenceFloor, res.RejectedBy)
}

func TestCheckCooldownExpired(t *testing.T) {
	in := passingInput(t)
	in.ConsecutiveLosses = 3
	in.LastLossAt = in.Now.Add(-31 * time.Minute)

	res := Check(in)
	assert.True(t, res.Allowed)
}

func TestCheckCloseBypasses(t *testing.T) {
	in := passingInput(t)
	in.Action = database.DecisionClose
	in.Now = in.Now.Add(10 * time.Hour) // market closed
	in.ConsecutiveLosses = 5
	in.LastLossAt = in.Now.Add(-time.Minute)
	in.Cash = 0
	in.OpenPositions = 10
	in.SymbolExposure = 90000
	in.TotalExposure = 90000

	res := Check(in)
	assert.True(t, res.Allowed)
}

func TestCheckCloseStillSubjectToDailyLossLimit(t *testing.T) {
	in := passingInput(t)
	in.Action = database.DecisionClose
	in.DayPnl = -6000

	res := Check(in)
	assert.Equal(t, RejectDailyLossLimit, res.RejectedBy)
}

func TestCheckDrawdownAllowsClose(t *testing.T) {
	in := passingInput(t)
	in.Action = database.DecisionSell
	in.PortfolioValue = 70000
	in.PeakValue = 100000

	res := Check(in)
	assert.True(t, res.Allowed)
}
