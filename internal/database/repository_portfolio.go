package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const portfolioColumns = `id, trader_id, broker_profile, cash_balance, initial_capital,
	realized_pnl, total_fees_paid, peak_value, created_at, updated_at`

func scanPortfolio(row pgx.Row) (*Portfolio, error) {
	var p Portfolio
	err := row.Scan(
		&p.ID, &p.TraderID, &p.BrokerProfile, &p.CashBalance, &p.InitialCapital,
		&p.RealizedPnl, &p.TotalFeesPaid, &p.PeakValue, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPortfolioNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetPortfolio loads a portfolio by id.
func (r *Repository) GetPortfolio(ctx context.Context, id uuid.UUID) (*Portfolio, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
	return scanPortfolio(row)
}

// GetPortfolioByTrader loads the single portfolio of a trader.
func (r *Repository) GetPortfolioByTrader(ctx context.Context, traderID uuid.UUID) (*Portfolio, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE trader_id = $1`, traderID)
	return scanPortfolio(row)
}

const positionColumns = `id, portfolio_id, symbol, product_type, side, quantity,
	entry_price, current_price, leverage, margin_used, stop_loss, take_profit,
	knockout_level, expiry_date, strike, option_type, ratio, implied_vol,
	fees_paid, opened_at, closed_at, close_reason, realized_pnl`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(
		&p.ID, &p.PortfolioID, &p.Symbol, &p.ProductType, &p.Side, &p.Quantity,
		&p.EntryPrice, &p.CurrentPrice, &p.Leverage, &p.MarginUsed,
		&p.StopLoss, &p.TakeProfit, &p.KnockoutLevel, &p.ExpiryDate,
		&p.Strike, &p.OptionType, &p.Ratio, &p.ImpliedVol,
		&p.FeesPaid, &p.OpenedAt, &p.ClosedAt, &p.CloseReason, &p.RealizedPnl,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*Position, error) {
	defer rows.Close()
	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPosition loads one position by id.
func (r *Repository) GetPosition(ctx context.Context, id uuid.UUID) (*Position, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

// ListOpenPositions returns the open positions of a portfolio, oldest first.
func (r *Repository) ListOpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE portfolio_id = $1 AND closed_at IS NULL
		ORDER BY opened_at`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	return scanPositions(rows)
}

// ListPositions returns all positions of a portfolio, newest first.
func (r *Repository) ListPositions(ctx context.Context, portfolioID uuid.UUID, limit int) ([]*Position, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE portfolio_id = $1
		ORDER BY opened_at DESC LIMIT $2`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	return scanPositions(rows)
}

// ListPositionsClosedBetween returns positions closed in [from, to).
func (r *Repository) ListPositionsClosedBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE portfolio_id = $1 AND closed_at >= $2 AND closed_at < $3
		ORDER BY closed_at`, portfolioID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	return scanPositions(rows)
}

// CountPositionsOpenedBetween counts positions opened in [from, to).
func (r *Repository) CountPositionsOpenedBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM positions
		WHERE portfolio_id = $1 AND opened_at >= $2 AND opened_at < $3`,
		portfolioID, from, to).Scan(&n)
	return n, err
}

const orderColumns = `id, portfolio_id, symbol, order_type, side, quantity,
	limit_price, stop_price, status, reserved_cash, position_id, created_at, filled_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.PortfolioID, &o.Symbol, &o.Type, &o.Side, &o.Quantity,
		&o.LimitPrice, &o.StopPrice, &o.Status, &o.ReservedCash,
		&o.PositionID, &o.CreatedAt, &o.FilledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetOrder loads one order by id.
func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// ListPendingOrders returns the unfilled orders of a portfolio.
func (r *Repository) ListPendingOrders(ctx context.Context, portfolioID uuid.UUID) ([]*Order, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE portfolio_id = $1 AND status = 'pending'
		ORDER BY created_at`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTransactions returns recent cash movements, newest first.
func (r *Repository) ListTransactions(ctx context.Context, portfolioID uuid.UUID, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, portfolio_id, position_id, kind, amount, description, created_at
		FROM transactions WHERE portfolio_id = $1
		ORDER BY created_at DESC LIMIT $2`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.PositionID, &t.Kind, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SumFeesBetween returns the fees charged to a portfolio in [from, to).
func (r *Repository) SumFeesBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) (float64, error) {
	var sum float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(-amount), 0) FROM transactions
		WHERE portfolio_id = $1 AND kind IN ('fee', 'overnight')
		AND created_at >= $2 AND created_at < $3`,
		portfolioID, from, to).Scan(&sum)
	return sum, err
}
