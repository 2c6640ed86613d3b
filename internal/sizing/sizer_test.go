package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"paper-trader/internal/database"
)

func TestSizeFixed(t *testing.T) {
	p := database.DefaultPersonality()

	intent := Size(&p, database.SideLong, "AAPL", 100, 0.7875, 0)

	assert.Equal(t, 250.0, intent.Quantity)
	assert.Equal(t, 25000.0, intent.Notional)
	assert.InDelta(t, 95.0, intent.StopLoss, 1e-9)
	assert.InDelta(t, 110.0, intent.TakeProfit, 1e-9)
}

func TestSizeFixedScalesBelowFullConfidence(t *testing.T) {
	p := database.DefaultPersonality()
	p.Trading.MinConfidence = 0.8

	// 0.7 of the 0.8 floor commits 7/8 of the budget.
	intent := Size(&p, database.SideLong, "AAPL", 100, 0.7, 0)

	assert.InDelta(t, 218.0, intent.Quantity, 1e-9)
}

func TestSizeKelly(t *testing.T) {
	p := database.DefaultPersonality()
	p.Trading.SizingMethod = database.SizingKelly

	// b = 0.10/0.05 = 2, f = 0.5*(0.6*2 - 0.4)/2 = 0.2
	intent := Size(&p, database.SideLong, "AAPL", 100, 0.6, 0)
	assert.Equal(t, 200.0, intent.Quantity)

	// High confidence clamps at max position percent.
	intent = Size(&p, database.SideLong, "AAPL", 100, 0.95, 0)
	assert.Equal(t, 250.0, intent.Quantity)
}

func TestSizeKellyNegativeEdgeIsZero(t *testing.T) {
	p := database.DefaultPersonality()
	p.Trading.SizingMethod = database.SizingKelly

	// p*b - (1-p) = 0.3*2 - 0.7 < 0
	intent := Size(&p, database.SideLong, "AAPL", 100, 0.3, 0)
	assert.Zero(t, intent.Quantity)
}

func TestSizeVolatilityScaling(t *testing.T) {
	p := database.DefaultPersonality()
	p.Trading.SizingMethod = database.SizingVolatility
	p.Trading.TargetVolatility = 0.10

	tests := []struct {
		name        string
		realizedVol float64
		wantQty     float64
	}{
		{"calm market full size", 0.05, 250},
		{"at target full size", 0.10, 250},
		{"double target halves size", 0.20, 125},
		{"unknown vol full size", 0, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := Size(&p, database.SideLong, "AAPL", 100, 0.9, tt.realizedVol)
			assert.Equal(t, tt.wantQty, intent.Quantity)
		})
	}
}

func TestSizeStockFloorsToZero(t *testing.T) {
	p := database.DefaultPersonality()

	intent := Size(&p, database.SideLong, "BRK.A", 30000, 0.9, 0)

	assert.Zero(t, intent.Quantity)
	assert.Zero(t, intent.Notional)
}

func TestSizeFractionalForLeveragedProducts(t *testing.T) {
	p := database.DefaultPersonality()
	p.Trading.ProductType = database.ProductCFD

	intent := Size(&p, database.SideLong, "AAPL", 96, 0.9, 0)

	assert.InDelta(t, 25000.0/96.0, intent.Quantity, 1e-9)
}

func TestProtectiveLevelsShort(t *testing.T) {
	p := database.DefaultPersonality()

	sl, tp := ProtectiveLevels(&p, database.SideShort, 100)

	assert.InDelta(t, 105.0, sl, 1e-9)
	assert.InDelta(t, 90.0, tp, 1e-9)
}

func TestSizeInvalidPrice(t *testing.T) {
	p := database.DefaultPersonality()
	intent := Size(&p, database.SideLong, "AAPL", 0, 0.9, 0)
	assert.Zero(t, intent.Quantity)
}
