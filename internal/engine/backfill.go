package engine

import (
	"context"
	"time"

	"paper-trader/internal/database"
	"paper-trader/internal/learning"
)

// backfillOutcomes fills in the outcome of every executed decision whose
// linked position has closed since the last pass.
func (e *Engine) backfillOutcomes(ctx context.Context, trader *database.Trader) error {
	unresolved, err := e.store.ListUnresolvedDecisions(ctx, trader.ID)
	if err != nil {
		return err
	}

	threshold := trader.Personality.Risk.SmallLossThreshold
	for _, d := range unresolved {
		if d.PositionID == nil {
			continue
		}
		pos, err := e.store.GetPosition(ctx, *d.PositionID)
		if err != nil || pos.IsOpen() || pos.RealizedPnl == nil {
			continue
		}

		pnl := *pos.RealizedPnl
		cost := pos.MarginUsed
		if cost <= 0 {
			cost = pos.Quantity * pos.EntryPrice
		}
		pnlPct := 0.0
		if cost > 0 {
			pnlPct = pnl / cost * 100
		}

		closedAt := time.Now()
		if pos.ClosedAt != nil {
			closedAt = *pos.ClosedAt
		}
		holdingDays := int(closedAt.Sub(pos.OpenedAt).Hours() / 24)

		outcome := &database.DecisionOutcome{
			Pnl:         pnl,
			PnlPct:      pnlPct,
			HoldingDays: holdingDays,
			WasCorrect:  learning.WasCorrect(d.DecisionType, pnl, threshold),
			ResolvedAt:  closedAt,
		}
		if err := e.store.SetDecisionOutcome(ctx, d.ID, outcome); err != nil {
			e.logger.Warn().Err(err).Str("decision", d.ID.String()).Msg("outcome backfill write failed")
		}
	}
	return nil
}

// recomputeCounters rebuilds the trader's cumulative counters from the
// stored decisions and closed positions so they never drift.
func (e *Engine) recomputeCounters(ctx context.Context, trader *database.Trader) error {
	decisions, err := e.store.ListDecisions(ctx, trader.ID, 10000)
	if err != nil {
		return err
	}
	portfolio, err := e.store.GetPortfolioByTrader(ctx, trader.ID)
	if err != nil {
		return err
	}
	closed, err := e.store.ListPositionsClosedBetween(ctx, portfolio.ID, time.Time{}, time.Now())
	if err != nil {
		return err
	}

	trader.TotalDecisions = len(decisions)
	trader.TotalTrades = 0
	trader.Wins, trader.Losses = 0, 0
	trader.TotalPnl, trader.BestTrade, trader.WorstTrade = 0, 0, 0
	trader.CurrentStreak = 0

	for _, d := range decisions {
		if d.Executed {
			trader.TotalTrades++
		}
	}
	for _, p := range closed {
		if p.RealizedPnl == nil {
			continue
		}
		pnl := *p.RealizedPnl
		trader.TotalPnl += pnl
		if pnl > trader.BestTrade {
			trader.BestTrade = pnl
		}
		if pnl < trader.WorstTrade {
			trader.WorstTrade = pnl
		}
		if pnl > 0 {
			trader.Wins++
			if trader.CurrentStreak >= 0 {
				trader.CurrentStreak++
			} else {
				trader.CurrentStreak = 1
			}
		} else {
			trader.Losses++
			if trader.CurrentStreak <= 0 {
				trader.CurrentStreak--
			} else {
				trader.CurrentStreak = -1
			}
		}
	}

	if portfolio.PeakValue > 0 {
		positions, err := e.store.ListOpenPositions(ctx, portfolio.ID)
		if err == nil {
			value := e.snapshot(portfolio, positions, time.Now()).Value
			dd := (portfolio.PeakValue - value) / portfolio.PeakValue
			if dd > trader.MaxDrawdown {
				trader.MaxDrawdown = dd
			}
		}
	}

	return e.store.UpdateTraderStats(ctx, trader)
}
