package ledger

import (
	"math"
	"time"

	"paper-trader/internal/database"
)

const (
	optionCall = "call"
	optionPut  = "put"
)

// WarrantTerms describes a warrant to be opened.
type WarrantTerms struct {
	Strike     float64
	OptionType string // call or put
	Ratio      float64
	ImpliedVol float64
	Expiry     time.Time
}

// intrinsicValue returns the per-warrant exercise value at the given
// underlying price.
func intrinsicValue(optionType string, strike, underlying, ratio float64) float64 {
	if ratio <= 0 {
		ratio = 1
	}
	var payoff float64
	if optionType == optionPut {
		payoff = strike - underlying
	} else {
		payoff = underlying - strike
	}
	if payoff < 0 {
		return 0
	}
	return payoff / ratio
}

// timeValue approximates the optionality premium per warrant. It scales
// with implied volatility and the square root of the remaining calendar
// time, the same shape an ATM Black-Scholes premium has, and fades as the
// warrant moves deep in or out of the money.
func timeValue(optionType string, strike, underlying, ratio, iv float64, now, expiry time.Time) float64 {
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if ratio <= 0 {
		ratio = 1
	}
	years := remaining.Hours() / 24 / 365
	atm := 0.4 * iv * underlying * math.Sqrt(years)

	// Moneyness damping: optionality is worth most at the money.
	if strike > 0 {
		m := math.Abs(underlying-strike) / strike
		atm *= math.Exp(-3 * m)
	}
	return atm / ratio
}

// warrantPrice values one warrant at the given underlying price and time.
func warrantPrice(p *database.Position, underlying float64, now time.Time) float64 {
	strike := deref(p.Strike)
	ratio := deref(p.Ratio)
	iv := deref(p.ImpliedVol)
	opt := optionCall
	if p.OptionType != nil {
		opt = *p.OptionType
	}
	var expiry time.Time
	if p.ExpiryDate != nil {
		expiry = *p.ExpiryDate
	}
	return intrinsicValue(opt, strike, underlying, ratio) +
		timeValue(opt, strike, underlying, ratio, iv, now, expiry)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
