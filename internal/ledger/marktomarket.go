package ledger

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"paper-trader/internal/database"
)

// MarkToMarket re-values every open position against the quotes and
// auto-closes the ones that hit a protective trigger. Triggers are checked
// in a fixed order per position: knockout barrier, stop-loss, take-profit,
// margin call. Positions without a quote are left untouched.
//
// It returns the positions it closed so the engine can publish events and
// backfill decision outcomes.
func (l *Ledger) MarkToMarket(ctx context.Context, portfolioID uuid.UUID, quotes map[string]float64, now time.Time) ([]*database.Position, error) {
	unlock := l.lock(portfolioID)
	defer unlock()

	portfolio, err := l.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	positions, err := l.store.ListOpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	broker := Broker(portfolio.BrokerProfile)

	m := &database.Mutation{Portfolio: portfolio}
	var closed []*database.Position

	for _, pos := range positions {
		price, ok := quotes[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}
		pos.CurrentPrice = price

		if reason := closeTrigger(pos, price, broker); reason != "" {
			closePrice := price
			if reason == database.CloseKnockout {
				closePrice = *pos.KnockoutLevel
			}
			l.closeInto(m, portfolio, pos, closePrice, reason, now)
			closed = append(closed, pos)
			continue
		}
		m.UpdatePositions = append(m.UpdatePositions, pos)
	}

	// Track the portfolio peak for drawdown checks.
	value := portfolio.CashBalance
	for _, pos := range positions {
		if pos.IsOpen() {
			value += PositionValue(pos, pos.CurrentPrice, now)
		}
	}
	if value > portfolio.PeakValue {
		portfolio.PeakValue = value
	}

	if err := l.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	return closed, nil
}

// closeTrigger returns the close reason a quote move triggers, or "".
func closeTrigger(pos *database.Position, price float64, broker *BrokerProfile) string {
	long := pos.Side == database.SideLong

	if pos.ProductType == database.ProductKnockout && pos.KnockoutLevel != nil {
		ko := *pos.KnockoutLevel
		if (long && price <= ko) || (!long && price >= ko) {
			return database.CloseKnockout
		}
	}

	if pos.StopLoss != nil {
		sl := *pos.StopLoss
		if (long && price <= sl) || (!long && price >= sl) {
			return database.CloseStopLoss
		}
	}

	if pos.TakeProfit != nil {
		tp := *pos.TakeProfit
		if (long && price >= tp) || (!long && price <= tp) {
			return database.CloseTakeProfit
		}
	}

	// Margin call on leveraged products when the loss eats through the
	// broker's liquidation share of margin.
	switch pos.ProductType {
	case database.ProductCFD, database.ProductKnockout:
		if loss := -leveragedPnl(pos, price); loss >= pos.MarginUsed*broker.LiquidationLevel {
			return database.CloseMarginCall
		}
	case database.ProductFactor:
		if r := factorReturn(pos, price); r <= -broker.LiquidationLevel {
			return database.CloseMarginCall
		}
	}
	return ""
}

// ApplyOvernightFees charges one night of financing on leveraged products
// and performs the daily reset of factor certificates. It is idempotent
// per call, not per day; the engine invokes it once per trading day.
func (l *Ledger) ApplyOvernightFees(ctx context.Context, portfolioID uuid.UUID, now time.Time) (float64, error) {
	unlock := l.lock(portfolioID)
	defer unlock()

	portfolio, err := l.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	positions, err := l.store.ListOpenPositions(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	broker := Broker(portfolio.BrokerProfile)

	m := &database.Mutation{Portfolio: portfolio}
	var total float64

	for _, pos := range positions {
		fee := broker.OvernightFee(pos)
		if fee > 0 {
			pos.FeesPaid += fee
			portfolio.CashBalance -= fee
			portfolio.TotalFeesPaid += fee
			total += fee
			m.Transactions = append(m.Transactions, &database.Transaction{
				PortfolioID: portfolioID, PositionID: &pos.ID,
				Kind: "overnight", Amount: -fee,
				Description: "overnight financing " + pos.Symbol,
				CreatedAt:   now,
			})
		}

		if pos.ProductType == database.ProductFactor {
			// Daily reset: fold the day's leveraged move into the
			// certificate value and rebase the reference price.
			delta := pos.MarginUsed * factorReturn(pos, pos.CurrentPrice)
			newValue := math.Max(0, pos.MarginUsed+delta)
			portfolio.RealizedPnl += newValue - pos.MarginUsed
			pos.MarginUsed = newValue
			pos.EntryPrice = pos.CurrentPrice

			if newValue <= 0 {
				l.closeInto(m, portfolio, pos, pos.CurrentPrice, database.CloseMarginCall, now)
				continue
			}
		}

		m.UpdatePositions = append(m.UpdatePositions, pos)
	}

	if err := l.store.Apply(ctx, m); err != nil {
		return 0, err
	}
	return total, nil
}

// SettleExpired closes warrants and dated knockouts whose expiry has
// passed, at intrinsic value.
func (l *Ledger) SettleExpired(ctx context.Context, portfolioID uuid.UUID, now time.Time) ([]*database.Position, error) {
	unlock := l.lock(portfolioID)
	defer unlock()

	portfolio, err := l.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	positions, err := l.store.ListOpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	m := &database.Mutation{Portfolio: portfolio}
	var closed []*database.Position

	for _, pos := range positions {
		if pos.ExpiryDate == nil || pos.ExpiryDate.After(now) {
			continue
		}
		l.closeInto(m, portfolio, pos, pos.CurrentPrice, database.CloseExpiry, now)
		closed = append(closed, pos)
	}

	if m.Empty() {
		return nil, nil
	}
	if err := l.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	return closed, nil
}
