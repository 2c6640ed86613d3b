package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Mutation is the full effect of one ledger operation. The ledger computes
// it in memory; Apply writes it in a single transaction so the portfolio
// either moves entirely or not at all.
type Mutation struct {
	Portfolio       *Portfolio
	InsertPositions []*Position
	UpdatePositions []*Position
	InsertOrders    []*Order
	UpdateOrders    []*Order
	Transactions    []*Transaction
}

// Empty reports whether the mutation carries no writes.
func (m *Mutation) Empty() bool {
	return m.Portfolio == nil &&
		len(m.InsertPositions) == 0 && len(m.UpdatePositions) == 0 &&
		len(m.InsertOrders) == 0 && len(m.UpdateOrders) == 0 &&
		len(m.Transactions) == 0
}

// Apply writes the mutation atomically. Positions are inserted before
// orders and transactions so foreign keys resolve.
func (r *Repository) Apply(ctx context.Context, m *Mutation) error {
	if m == nil || m.Empty() {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if m.Portfolio != nil {
		p := m.Portfolio
		tag, err := tx.Exec(ctx, `
			UPDATE portfolios SET
				cash_balance = $2, realized_pnl = $3, total_fees_paid = $4,
				peak_value = $5, updated_at = NOW()
			WHERE id = $1`,
			p.ID, p.CashBalance, p.RealizedPnl, p.TotalFeesPaid, p.PeakValue)
		if err != nil {
			return fmt.Errorf("update portfolio: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrPortfolioNotFound
		}
	}

	for _, p := range m.InsertPositions {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO positions (
				id, portfolio_id, symbol, product_type, side, quantity,
				entry_price, current_price, leverage, margin_used,
				stop_loss, take_profit, knockout_level,
				expiry_date, strike, option_type, ratio, implied_vol,
				fees_paid, opened_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			p.ID, p.PortfolioID, p.Symbol, p.ProductType, p.Side, p.Quantity,
			p.EntryPrice, p.CurrentPrice, p.Leverage, p.MarginUsed,
			p.StopLoss, p.TakeProfit, p.KnockoutLevel,
			p.ExpiryDate, p.Strike, p.OptionType, p.Ratio, p.ImpliedVol,
			p.FeesPaid, p.OpenedAt)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}

	for _, p := range m.UpdatePositions {
		tag, err := tx.Exec(ctx, `
			UPDATE positions SET
				quantity = $2, entry_price = $3, current_price = $4, margin_used = $5,
				stop_loss = $6, take_profit = $7, implied_vol = $8, fees_paid = $9,
				closed_at = $10, close_reason = $11, realized_pnl = $12
			WHERE id = $1`,
			p.ID, p.Quantity, p.EntryPrice, p.CurrentPrice, p.MarginUsed,
			p.StopLoss, p.TakeProfit, p.ImpliedVol, p.FeesPaid,
			p.ClosedAt, p.CloseReason, p.RealizedPnl)
		if err != nil {
			return fmt.Errorf("update position %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrPositionNotFound
		}
	}

	for _, o := range m.InsertOrders {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, portfolio_id, symbol, order_type, side, quantity,
				limit_price, stop_price, status, reserved_cash, position_id,
				created_at, filled_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			o.ID, o.PortfolioID, o.Symbol, o.Type, o.Side, o.Quantity,
			o.LimitPrice, o.StopPrice, o.Status, o.ReservedCash, o.PositionID,
			o.CreatedAt, o.FilledAt)
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.Symbol, err)
		}
	}

	for _, o := range m.UpdateOrders {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $2, reserved_cash = $3, position_id = $4, filled_at = $5
			WHERE id = $1`,
			o.ID, o.Status, o.ReservedCash, o.PositionID, o.FilledAt)
		if err != nil {
			return fmt.Errorf("update order %s: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
	}

	for _, t := range m.Transactions {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, portfolio_id, position_id, kind, amount, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			t.ID, t.PortfolioID, t.PositionID, t.Kind, t.Amount, t.Description, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	return tx.Commit(ctx)
}
