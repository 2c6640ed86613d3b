package risk

import (
	"time"

	"paper-trader/internal/database"
	"paper-trader/internal/signal"
)

// Rejection tags, one per check, in pipeline order.
const (
	RejectConfidenceFloor = "confidence_floor"
	RejectAgreementFloor  = "agreement_floor"
	RejectMarketClosed    = "market_closed"
	RejectLossCooldown    = "loss_cooldown"
	RejectDailyLossLimit  = "daily_loss_limit"
	RejectMaxDrawdown     = "max_drawdown"
	RejectCashReserve     = "cash_reserve"
	RejectMaxPositions    = "max_positions"
	RejectSymbolExposure  = "symbol_exposure"
	RejectTotalExposure   = "total_exposure"
)

// GateInput is everything the check pipeline looks at. The engine fills it
// from the aggregate, the portfolio snapshot and the recent trade history.
type GateInput struct {
	Personality *database.Personality
	Calendar    *Calendar
	Now         time.Time

	Action     string // buy, sell, short, close
	Confidence float64
	Agreement  string

	// Trade shape. Zero for closes.
	EstimatedNotional float64
	EstimatedCost     float64 // margin plus fees debited on open

	// Portfolio snapshot.
	Cash           float64
	PortfolioValue float64
	PeakValue      float64
	DayPnl         float64
	OpenPositions  int
	SymbolExposure float64
	TotalExposure  float64

	// Recent history.
	ConsecutiveLosses int
	LastLossAt        time.Time
}

// Result is the gate's verdict. A zero RejectedBy means the trade passed.
type Result struct {
	Allowed    bool
	RejectedBy string
}

func reject(tag string) Result { return Result{RejectedBy: tag} }

// Check runs the ten checks in their fixed order and stops at the first
// failure. Close actions bypass trading hours, cooldown and the sizing
// checks: getting out of a position is always allowed.
func Check(in GateInput) Result {
	p := in.Personality
	isClose := in.Action == database.DecisionClose || in.Action == database.DecisionSell

	// 1. Confidence floor. Exactly at the threshold still rejects.
	if !(in.Confidence > p.Trading.MinConfidence) {
		return reject(RejectConfidenceFloor)
	}

	// 2. Agreement floor.
	if signal.AgreementLevel(in.Agreement) < p.Signals.MinAgreement {
		return reject(RejectAgreementFloor)
	}

	// 3. Trading hours.
	if !isClose && p.Schedule.TradingHoursOnly && !in.Calendar.InWindow(in.Now) {
		return reject(RejectMarketClosed)
	}

	// 4. Loss cooldown.
	if !isClose && p.Risk.CooldownLosses > 0 && in.ConsecutiveLosses >= p.Risk.CooldownLosses {
		cooldown := time.Duration(p.Risk.CooldownMinutes) * time.Minute
		if in.Now.Sub(in.LastLossAt) < cooldown {
			return reject(RejectLossCooldown)
		}
	}

	// 5. Daily loss limit.
	if in.DayPnl < -p.Risk.DailyLossPct*p.Capital.InitialBudget {
		return reject(RejectDailyLossLimit)
	}

	// 6. Max drawdown. Past the limit only closes go through.
	if in.PeakValue > 0 {
		drawdown := (in.PeakValue - in.PortfolioValue) / in.PeakValue
		if drawdown > p.Risk.MaxDrawdownPct && !isClose {
			return reject(RejectMaxDrawdown)
		}
	}

	if isClose {
		return Result{Allowed: true}
	}

	// 7. Cash reserve.
	if in.Cash-in.EstimatedCost < p.Capital.ReserveCashPercent*p.Capital.InitialBudget {
		return reject(RejectCashReserve)
	}

	// 8. Position count.
	if in.OpenPositions >= p.Trading.MaxOpenPositions {
		return reject(RejectMaxPositions)
	}

	// 9. Symbol exposure.
	if in.SymbolExposure+in.EstimatedNotional > p.Capital.MaxPositionPercent*p.Capital.InitialBudget {
		return reject(RejectSymbolExposure)
	}

	// 10. Total exposure.
	if in.TotalExposure+in.EstimatedNotional > p.Risk.TotalExposurePct*p.Capital.InitialBudget {
		return reject(RejectTotalExposure)
	}

	return Result{Allowed: true}
}
