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

// ErrDecisionNotFound is returned when a decision id does not exist.
var ErrDecisionNotFound = errors.New("decision not found")

// SaveDecision persists one decision record.
func (r *Repository) SaveDecision(ctx context.Context, d *Decision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	symbols, err := json.Marshal(d.SymbolsAnalyzed)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	scores, err := json.Marshal(d.SourceScores)
	if err != nil {
		return fmt.Errorf("marshal source scores: %w", err)
	}
	market, err := json.Marshal(d.MarketContext)
	if err != nil {
		return fmt.Errorf("marshal market context: %w", err)
	}
	snapshot, err := json.Marshal(d.PortfolioSnapshot)
	if err != nil {
		return fmt.Errorf("marshal portfolio snapshot: %w", err)
	}
	var outcome []byte
	if d.Outcome != nil {
		outcome, err = json.Marshal(d.Outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
	}

	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO decisions (
			id, trader_id, symbol, symbols_analyzed, decision_type, executed,
			rejected_by, execution_error, position_id, order_id,
			source_scores, weighted_score, confidence, agreement, summary,
			market_context, portfolio_snapshot, outcome
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at`,
		d.ID, d.TraderID, d.Symbol, symbols, d.DecisionType, d.Executed,
		d.RejectedBy, d.ExecutionError, d.PositionID, d.OrderID,
		scores, d.WeightedScore, d.Confidence, d.Agreement, d.Summary,
		market, snapshot, outcome,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

const decisionColumns = `id, trader_id, symbol, symbols_analyzed, decision_type, executed,
	COALESCE(rejected_by, ''), COALESCE(execution_error, ''), position_id, order_id,
	source_scores, weighted_score, confidence, agreement, COALESCE(summary, ''),
	market_context, portfolio_snapshot, outcome, created_at`

func scanDecision(row pgx.Row) (*Decision, error) {
	var d Decision
	var symbols, scores, market, snapshot, outcome []byte
	err := row.Scan(
		&d.ID, &d.TraderID, &d.Symbol, &symbols, &d.DecisionType, &d.Executed,
		&d.RejectedBy, &d.ExecutionError, &d.PositionID, &d.OrderID,
		&scores, &d.WeightedScore, &d.Confidence, &d.Agreement, &d.Summary,
		&market, &snapshot, &outcome, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(symbols, &d.SymbolsAnalyzed); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	if err := json.Unmarshal(scores, &d.SourceScores); err != nil {
		return nil, fmt.Errorf("unmarshal source scores: %w", err)
	}
	if err := json.Unmarshal(market, &d.MarketContext); err != nil {
		return nil, fmt.Errorf("unmarshal market context: %w", err)
	}
	if err := json.Unmarshal(snapshot, &d.PortfolioSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal portfolio snapshot: %w", err)
	}
	if len(outcome) > 0 {
		d.Outcome = &DecisionOutcome{}
		if err := json.Unmarshal(outcome, d.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	return &d, nil
}

// GetDecision loads one decision by id.
func (r *Repository) GetDecision(ctx context.Context, id uuid.UUID) (*Decision, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	return scanDecision(row)
}

// ListDecisions returns recent decisions of a trader, newest first.
func (r *Repository) ListDecisions(ctx context.Context, traderID uuid.UUID, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE trader_id = $1
		ORDER BY created_at DESC LIMIT $2`, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return collectDecisions(rows)
}

// ListUnresolvedDecisions returns executed decisions whose outcome has not
// been backfilled yet.
func (r *Repository) ListUnresolvedDecisions(ctx context.Context, traderID uuid.UUID) ([]*Decision, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE trader_id = $1 AND executed AND outcome IS NULL
		ORDER BY created_at`, traderID)
	if err != nil {
		return nil, fmt.Errorf("query unresolved decisions: %w", err)
	}
	return collectDecisions(rows)
}

// ListResolvedDecisionsSince returns decisions with a backfilled outcome
// created on or after the cutoff, oldest first.
func (r *Repository) ListResolvedDecisionsSince(ctx context.Context, traderID uuid.UUID, since time.Time) ([]*Decision, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE trader_id = $1 AND outcome IS NOT NULL AND created_at >= $2
		ORDER BY created_at`, traderID, since)
	if err != nil {
		return nil, fmt.Errorf("query resolved decisions: %w", err)
	}
	return collectDecisions(rows)
}

// CountDecisionsBetween counts decisions made in [from, to).
func (r *Repository) CountDecisionsBetween(ctx context.Context, traderID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM decisions
		WHERE trader_id = $1 AND created_at >= $2 AND created_at < $3`,
		traderID, from, to).Scan(&n)
	return n, err
}

func collectDecisions(rows pgx.Rows) ([]*Decision, error) {
	defer rows.Close()
	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDecisionOutcome backfills the outcome of one decision.
func (r *Repository) SetDecisionOutcome(ctx context.Context, id uuid.UUID, outcome *DecisionOutcome) error {
	doc, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE decisions SET outcome = $2 WHERE id = $1 AND outcome IS NULL`,
		id, doc)
	if err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

// SaveDailyReport upserts a trader's report for one date.
func (r *Repository) SaveDailyReport(ctx context.Context, report *DailyReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	accuracy, err := json.Marshal(report.SourceAccuracy)
	if err != nil {
		return fmt.Errorf("marshal source accuracy: %w", err)
	}
	insights, err := json.Marshal(report.Insights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}
	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO daily_reports (
			id, trader_id, report_date, start_value, end_value, pnl, fees_paid,
			trades_opened, trades_closed, wins, losses, win_rate,
			best_trade, worst_trade, source_accuracy, insights
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (trader_id, report_date) DO UPDATE SET
			start_value = EXCLUDED.start_value, end_value = EXCLUDED.end_value,
			pnl = EXCLUDED.pnl, fees_paid = EXCLUDED.fees_paid,
			trades_opened = EXCLUDED.trades_opened, trades_closed = EXCLUDED.trades_closed,
			wins = EXCLUDED.wins, losses = EXCLUDED.losses, win_rate = EXCLUDED.win_rate,
			best_trade = EXCLUDED.best_trade, worst_trade = EXCLUDED.worst_trade,
			source_accuracy = EXCLUDED.source_accuracy, insights = EXCLUDED.insights
		RETURNING created_at`,
		report.ID, report.TraderID, report.Date, report.StartValue, report.EndValue,
		report.Pnl, report.FeesPaid, report.TradesOpened, report.TradesClosed,
		report.Wins, report.Losses, report.WinRate,
		report.BestTrade, report.WorstTrade, accuracy, insights,
	).Scan(&report.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert daily report: %w", err)
	}
	return nil
}

// ListDailyReports returns recent reports of a trader, newest first.
func (r *Repository) ListDailyReports(ctx context.Context, traderID uuid.UUID, limit int) ([]*DailyReport, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trader_id, report_date, start_value, end_value, pnl, fees_paid,
			trades_opened, trades_closed, wins, losses, win_rate,
			best_trade, worst_trade, source_accuracy, insights, created_at
		FROM daily_reports WHERE trader_id = $1
		ORDER BY report_date DESC LIMIT $2`, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query daily reports: %w", err)
	}
	defer rows.Close()

	var out []*DailyReport
	for rows.Next() {
		var rep DailyReport
		var accuracy, insights []byte
		if err := rows.Scan(
			&rep.ID, &rep.TraderID, &rep.Date, &rep.StartValue, &rep.EndValue,
			&rep.Pnl, &rep.FeesPaid, &rep.TradesOpened, &rep.TradesClosed,
			&rep.Wins, &rep.Losses, &rep.WinRate,
			&rep.BestTrade, &rep.WorstTrade, &accuracy, &insights, &rep.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(accuracy, &rep.SourceAccuracy); err != nil {
			return nil, fmt.Errorf("unmarshal source accuracy: %w", err)
		}
		if err := json.Unmarshal(insights, &rep.Insights); err != nil {
			return nil, fmt.Errorf("unmarshal insights: %w", err)
		}
		out = append(out, &rep)
	}
	return out, rows.Err()
}
