// Package sizing turns an approved trade intent into a quantity with
// protective stop-loss and take-profit levels.
package sizing

import (
	"math"

	"paper-trader/internal/database"
)

// Intent is a sized trade proposal ready for the ledger. A zero quantity
// means the position would be too small to open.
type Intent struct {
	Symbol     string
	Side       string // long or short
	Quantity   float64
	Price      float64
	Notional   float64
	StopLoss   float64
	TakeProfit float64
}

// Size computes the trade size for one approved decision.
//
// Fixed sizing commits the full per-position budget once confidence clears
// the personality's floor; Kelly and volatility sizing scale it down from
// there. realizedVol is annualized and only used by volatility sizing.
func Size(p *database.Personality, side, symbol string, price, confidence, realizedVol float64) Intent {
	intent := Intent{Symbol: symbol, Side: side, Price: price}
	if price <= 0 {
		return intent
	}

	budget := p.Capital.InitialBudget
	maxNotional := p.Capital.MaxPositionPercent * budget

	var notional float64
	switch p.Trading.SizingMethod {
	case database.SizingKelly:
		notional = budget * kellyFraction(p, confidence)
	case database.SizingVolatility:
		scale := 1.0
		if realizedVol > 0 && p.Trading.TargetVolatility > 0 {
			scale = math.Min(1, p.Trading.TargetVolatility/realizedVol)
		}
		notional = maxNotional * confidenceScale(p, confidence) * scale
	default: // fixed
		notional = maxNotional * confidenceScale(p, confidence)
	}

	if notional > maxNotional {
		notional = maxNotional
	}

	quantity := notional / price
	if p.Trading.ProductType == database.ProductStock {
		quantity = math.Floor(quantity)
	}
	if quantity <= 0 {
		return intent
	}

	intent.Quantity = quantity
	intent.Notional = quantity * price
	intent.StopLoss, intent.TakeProfit = ProtectiveLevels(p, side, price)
	return intent
}

// confidenceScale maps confidence onto a notional multiplier. Confidence
// at or above the personality's floor commits the full budget; the gate
// already rejected anything below it, so in practice this caps at 1.
func confidenceScale(p *database.Personality, confidence float64) float64 {
	if p.Trading.MinConfidence <= 0 {
		return 1
	}
	return math.Min(1, confidence/p.Trading.MinConfidence)
}

// kellyFraction computes the fractional Kelly bet size.
//
//	f = kellyFraction * (p*b - (1-p)) / b
//
// with p the weighted confidence and b the payoff ratio implied by the
// take-profit and stop-loss distances. Clamped to [0, maxPositionPercent].
func kellyFraction(pers *database.Personality, confidence float64) float64 {
	if pers.Risk.StopLossPct <= 0 {
		return 0
	}
	b := pers.Risk.TakeProfitPct / pers.Risk.StopLossPct
	if b <= 0 {
		return 0
	}
	f := pers.Trading.KellyFraction * (confidence*b - (1 - confidence)) / b
	if f < 0 {
		return 0
	}
	if f > pers.Capital.MaxPositionPercent {
		return pers.Capital.MaxPositionPercent
	}
	return f
}

// ProtectiveLevels returns the stop-loss and take-profit prices for an
// entry at the given price.
func ProtectiveLevels(p *database.Personality, side string, entry float64) (stopLoss, takeProfit float64) {
	if side == database.SideShort {
		return entry * (1 + p.Risk.StopLossPct), entry * (1 - p.Risk.TakeProfitPct)
	}
	return entry * (1 - p.Risk.StopLossPct), entry * (1 + p.Risk.TakeProfitPct)
}
