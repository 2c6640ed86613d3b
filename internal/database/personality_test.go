package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPersonalityIsValid(t *testing.T) {
	p := DefaultPersonality()
	assert.NoError(t, p.Validate())
}

func TestPersonalityValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Personality)
	}{
		{"zero budget", func(p *Personality) { p.Capital.InitialBudget = 0 }},
		{"position percent above one", func(p *Personality) { p.Capital.MaxPositionPercent = 1.5 }},
		{"full cash reserve", func(p *Personality) { p.Capital.ReserveCashPercent = 1 }},
		{"zero stop loss", func(p *Personality) { p.Risk.StopLossPct = 0 }},
		{"confidence below half", func(p *Personality) { p.Trading.MinConfidence = 0.4 }},
		{"confidence above one", func(p *Personality) { p.Trading.MinConfidence = 1.1 }},
		{"no open positions allowed", func(p *Personality) { p.Trading.MaxOpenPositions = 0 }},
		{"unknown product", func(p *Personality) { p.Trading.ProductType = "option" }},
		{"unknown sizing method", func(p *Personality) { p.Trading.SizingMethod = "martingale" }},
		{"unknown weight source", func(p *Personality) { p.Signals.Weights["astrology"] = 0 }},
		{"weight out of range", func(p *Personality) { p.Signals.Weights[SourceML] = 1.2 }},
		{"weights do not sum to one", func(p *Personality) { p.Signals.Weights[SourceML] = 0.30 }},
		{"missing weight source", func(p *Personality) { delete(p.Signals.Weights, SourceRL) }},
		{"zero check interval", func(p *Personality) { p.Schedule.CheckIntervalMinutes = 0 }},
		{"bad timezone", func(p *Personality) { p.Schedule.Timezone = "Moon/Tranquility" }},
		{"bad trading start", func(p *Personality) { p.Schedule.TradingStart = "25:99" }},
		{"bad trading day", func(p *Personality) { p.Schedule.TradingDays = []string{"Monday"} }},
		{"negative avoid open", func(p *Personality) { p.Schedule.AvoidOpenMin = -1 }},
		{"max weight change too large", func(p *Personality) { p.Learning.MaxWeightChange = 0.6 }},
		{"zero min trades", func(p *Personality) { p.Learning.MinTradesBeforeAdjust = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPersonality()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestSupportsShort(t *testing.T) {
	p := DefaultPersonality()

	for product, want := range map[string]bool{
		ProductStock:    false,
		ProductWarrant:  false,
		ProductCFD:      true,
		ProductKnockout: true,
		ProductFactor:   true,
	} {
		p.Trading.ProductType = product
		assert.Equal(t, want, p.SupportsShort(), product)
	}
}
