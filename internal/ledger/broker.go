// Package ledger is the single mutator of portfolios. Every operation
// computes its full effect in memory and hands the store one mutation, so
// a portfolio either moves entirely or not at all.
package ledger

import (
	"math"

	"paper-trader/internal/database"
)

// BrokerProfile bundles the commission formula, spreads, overnight rates
// and leverage caps of one simulated broker.
type BrokerProfile struct {
	Name string

	CommissionFlat float64 // per order
	CommissionPct  float64 // of notional
	CommissionMin  float64
	CommissionMax  float64

	SpreadPct         float64 // stocks, cfd, factor, warrants
	KnockoutSpreadPct float64 // knockouts trade commission-free on a wider spread

	OvernightLongRate  float64 // per night, of notional
	OvernightShortRate float64

	// Fraction of margin that may be lost before a leveraged position is
	// liquidated.
	LiquidationLevel float64

	MaxLeverage map[string]float64
}

var brokerProfiles = map[string]*BrokerProfile{
	"default": {
		Name:              "default",
		CommissionFlat:    4.95,
		CommissionPct:     0.001,
		CommissionMin:     4.95,
		CommissionMax:     59.90,
		SpreadPct:         0.0005,
		KnockoutSpreadPct: 0.0035,
		OvernightLongRate: 0.00012, OvernightShortRate: 0.00008,
		LiquidationLevel: 0.9,
		MaxLeverage: map[string]float64{
			database.ProductStock:    1,
			database.ProductCFD:      5,
			database.ProductKnockout: 20,
			database.ProductFactor:   10,
			database.ProductWarrant:  1,
		},
	},
	"flatrate": {
		Name:              "flatrate",
		CommissionFlat:    1.00,
		CommissionPct:     0,
		CommissionMin:     1.00,
		CommissionMax:     1.00,
		SpreadPct:         0.0012,
		KnockoutSpreadPct: 0.0045,
		OvernightLongRate: 0.00015, OvernightShortRate: 0.0001,
		LiquidationLevel: 0.85,
		MaxLeverage: map[string]float64{
			database.ProductStock:    1,
			database.ProductCFD:      5,
			database.ProductKnockout: 15,
			database.ProductFactor:   10,
			database.ProductWarrant:  1,
		},
	},
}

// Broker returns the named profile, falling back to the default.
func Broker(name string) *BrokerProfile {
	if p, ok := brokerProfiles[name]; ok {
		return p
	}
	return brokerProfiles["default"]
}

// TradeFee returns the cost of opening or closing a position of the given
// notional: commission where the product carries one, plus spread cost.
func (b *BrokerProfile) TradeFee(productType string, notional float64) float64 {
	var commission float64
	switch productType {
	case database.ProductStock, database.ProductCFD, database.ProductFactor:
		commission = b.CommissionFlat + b.CommissionPct*notional
		commission = math.Max(b.CommissionMin, math.Min(b.CommissionMax, commission))
	case database.ProductKnockout, database.ProductWarrant:
		commission = 0
	}

	spread := b.SpreadPct
	if productType == database.ProductKnockout {
		spread = b.KnockoutSpreadPct
	}
	return commission + spread*notional
}

// OvernightFee returns the nightly financing cost of one leveraged
// position. Stocks and warrants carry none.
func (b *BrokerProfile) OvernightFee(p *database.Position) float64 {
	switch p.ProductType {
	case database.ProductCFD, database.ProductKnockout, database.ProductFactor:
	default:
		return 0
	}
	rate := b.OvernightLongRate
	if p.Side == database.SideShort {
		rate = b.OvernightShortRate
	}
	return rate * exposure(p)
}

// ClampLeverage caps the requested leverage at the broker's product limit.
func (b *BrokerProfile) ClampLeverage(productType string, leverage float64) float64 {
	if leverage < 1 {
		leverage = 1
	}
	if max, ok := b.MaxLeverage[productType]; ok && leverage > max {
		return max
	}
	return leverage
}
