package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Sentinel errors shared across the engine.
var (
	ErrTraderNotFound    = errors.New("trader not found")
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")
)

// Repository provides access to all persisted engine state.
type Repository struct {
	db *DB
}

// NewRepository creates a repository on top of the connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateTrader persists a new trader together with its portfolio in one
// transaction. The portfolio starts with the personality's initial budget.
func (r *Repository) CreateTrader(ctx context.Context, trader *Trader, brokerProfile string) (*Portfolio, error) {
	personality, err := json.Marshal(trader.Personality)
	if err != nil {
		return nil, fmt.Errorf("marshal personality: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if trader.ID == uuid.Nil {
		trader.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO traders (id, name, personality, state)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		trader.ID, trader.Name, personality, TraderStopped,
	).Scan(&trader.CreatedAt, &trader.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert trader: %w", err)
	}
	trader.State = TraderStopped

	portfolio := &Portfolio{
		ID:             uuid.New(),
		TraderID:       trader.ID,
		BrokerProfile:  brokerProfile,
		CashBalance:    trader.Personality.Capital.InitialBudget,
		InitialCapital: trader.Personality.Capital.InitialBudget,
		PeakValue:      trader.Personality.Capital.InitialBudget,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO portfolios (id, trader_id, broker_profile, cash_balance, initial_capital, peak_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		portfolio.ID, portfolio.TraderID, portfolio.BrokerProfile,
		portfolio.CashBalance, portfolio.InitialCapital, portfolio.PeakValue,
	).Scan(&portfolio.CreatedAt, &portfolio.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert portfolio: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return portfolio, nil
}

const traderColumns = `id, name, personality, state, COALESCE(status_message, ''),
	total_decisions, total_trades, wins, losses, total_pnl, best_trade, worst_trade,
	current_streak, max_drawdown, created_at, updated_at`

func scanTrader(row pgx.Row) (*Trader, error) {
	var t Trader
	var personality []byte
	err := row.Scan(
		&t.ID, &t.Name, &personality, &t.State, &t.StatusMessage,
		&t.TotalDecisions, &t.TotalTrades, &t.Wins, &t.Losses,
		&t.TotalPnl, &t.BestTrade, &t.WorstTrade,
		&t.CurrentStreak, &t.MaxDrawdown, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTraderNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(personality, &t.Personality); err != nil {
		return nil, fmt.Errorf("unmarshal personality: %w", err)
	}
	return &t, nil
}

// GetTrader loads one trader by id.
func (r *Repository) GetTrader(ctx context.Context, id uuid.UUID) (*Trader, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+traderColumns+` FROM traders WHERE id = $1`, id)
	return scanTrader(row)
}

// ListTraders returns all traders, newest first.
func (r *Repository) ListTraders(ctx context.Context) ([]*Trader, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+traderColumns+` FROM traders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query traders: %w", err)
	}
	defer rows.Close()

	var traders []*Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// UpdateTraderState transitions a trader's lifecycle state.
func (r *Repository) UpdateTraderState(ctx context.Context, id uuid.UUID, state, statusMessage string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE traders SET state = $2, status_message = $3, updated_at = NOW()
		WHERE id = $1`,
		id, state, statusMessage)
	if err != nil {
		return fmt.Errorf("update trader state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraderNotFound
	}
	return nil
}

// UpdateTraderPersonality replaces the personality document.
func (r *Repository) UpdateTraderPersonality(ctx context.Context, id uuid.UUID, p Personality) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal personality: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE traders SET personality = $2, updated_at = NOW() WHERE id = $1`,
		id, doc)
	if err != nil {
		return fmt.Errorf("update personality: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraderNotFound
	}
	return nil
}

// UpdateTraderWeights rewrites only the signal weights inside the stored
// personality and records the change in weight_history, atomically.
func (r *Repository) UpdateTraderWeights(ctx context.Context, id uuid.UUID, weights map[string]float64, history *WeightHistory) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT personality FROM traders WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTraderNotFound
		}
		return fmt.Errorf("load personality: %w", err)
	}

	var p Personality
	if err := json.Unmarshal(doc, &p); err != nil {
		return fmt.Errorf("unmarshal personality: %w", err)
	}
	p.Signals.Weights = weights
	updated, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal personality: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE traders SET personality = $2, updated_at = NOW() WHERE id = $1`,
		id, updated); err != nil {
		return fmt.Errorf("update personality: %w", err)
	}

	if history != nil {
		oldW, _ := json.Marshal(history.OldWeights)
		newW, _ := json.Marshal(history.NewWeights)
		acc, _ := json.Marshal(history.Accuracy)
		if history.ID == uuid.Nil {
			history.ID = uuid.New()
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO weight_history (id, trader_id, old_weights, new_weights, reason, accuracy)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			history.ID, id, oldW, newW, history.Reason, acc,
		).Scan(&history.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert weight history: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateTraderStats rewrites the derived performance counters.
func (r *Repository) UpdateTraderStats(ctx context.Context, t *Trader) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE traders SET
			total_decisions = $2, total_trades = $3, wins = $4, losses = $5,
			total_pnl = $6, best_trade = $7, worst_trade = $8,
			current_streak = $9, max_drawdown = $10, updated_at = NOW()
		WHERE id = $1`,
		t.ID, t.TotalDecisions, t.TotalTrades, t.Wins, t.Losses,
		t.TotalPnl, t.BestTrade, t.WorstTrade, t.CurrentStreak, t.MaxDrawdown)
	if err != nil {
		return fmt.Errorf("update trader stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraderNotFound
	}
	return nil
}

// DeleteTrader removes a trader and everything attached to it.
func (r *Repository) DeleteTrader(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM traders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trader: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTraderNotFound
	}
	return nil
}

// ListWeightHistory returns recent weight adjustments, newest first.
func (r *Repository) ListWeightHistory(ctx context.Context, traderID uuid.UUID, limit int) ([]*WeightHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trader_id, old_weights, new_weights, reason, accuracy, created_at
		FROM weight_history WHERE trader_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query weight history: %w", err)
	}
	defer rows.Close()

	var out []*WeightHistory
	for rows.Next() {
		var wh WeightHistory
		var oldW, newW, acc []byte
		if err := rows.Scan(&wh.ID, &wh.TraderID, &oldW, &newW, &wh.Reason, &acc, &wh.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(oldW, &wh.OldWeights); err != nil {
			return nil, fmt.Errorf("unmarshal old weights: %w", err)
		}
		if err := json.Unmarshal(newW, &wh.NewWeights); err != nil {
			return nil, fmt.Errorf("unmarshal new weights: %w", err)
		}
		if err := json.Unmarshal(acc, &wh.Accuracy); err != nil {
			return nil, fmt.Errorf("unmarshal accuracy: %w", err)
		}
		out = append(out, &wh)
	}
	return out, rows.Err()
}

// TouchTrader bumps updated_at; used by the scheduler heartbeat.
func (r *Repository) TouchTrader(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE traders SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}
