package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"paper-trader/internal/database"
	"paper-trader/internal/events"
	"paper-trader/internal/indicators"
	"paper-trader/internal/ledger"
	"paper-trader/internal/market"
	"paper-trader/internal/risk"
	"paper-trader/internal/signal"
	"paper-trader/internal/sizing"
)

// Skip reasons the engine itself produces.
const (
	reasonPriceUnavailable = "price_unavailable"
	reasonSizeTooSmall     = "size_too_small"
)

// tick runs one full evaluation cycle for one trader. Order is fixed:
// mark-to-market, settlement, outcome backfill, then the symbol loop.
// Nothing in here aborts the tick except store unavailability; per-symbol
// failures are recorded on the decision and the loop continues.
func (e *Engine) tick(ctx context.Context, w *traderWorker) error {
	now := time.Now()

	trader, err := e.store.GetTrader(ctx, w.traderID)
	if err != nil {
		if errors.Is(err, database.ErrTraderNotFound) {
			e.workers.Delete(w.traderID)
			go w.stop()
			return nil
		}
		return err
	}
	if trader.State == database.TraderStopped {
		e.workers.Delete(w.traderID)
		go w.stop()
		return nil
	}

	portfolio, err := e.store.GetPortfolioByTrader(ctx, trader.ID)
	if err != nil {
		return err
	}

	symbols := e.watchedSymbols(trader)
	quotes, err := e.collectQuotes(ctx, portfolio.ID, symbols)
	if err != nil {
		return err
	}

	// 1. Re-value open positions; protective closes fire here.
	closed, err := e.ledger.MarkToMarket(ctx, portfolio.ID, quotes, now)
	if err != nil {
		return err
	}
	e.publishClosed(ctx, trader, closed)

	if filled, err := e.ledger.FillPendingOrders(ctx, portfolio.ID, quotes, &trader.Personality, now); err != nil {
		e.logger.Warn().Err(err).Msg("order fill sweep failed")
	} else {
		for _, o := range filled {
			e.bus.Publish(events.Event{TraderID: trader.ID, Type: events.TypeTradeExecuted, Data: o})
		}
	}

	expired, err := e.ledger.SettleExpired(ctx, portfolio.ID, now)
	if err != nil {
		return err
	}
	e.publishClosed(ctx, trader, expired)

	// 2. Attribute outcomes to decisions whose positions have closed.
	if err := e.backfillOutcomes(ctx, trader); err != nil {
		e.logger.Warn().Err(err).Msg("outcome backfill failed")
	}

	e.maybeCatchUpLearning(ctx, trader, w.calendar, now)

	defer e.publishLiveStatus(ctx, trader, now, w.interval)

	// Paused traders maintain their book but never open.
	if trader.State == database.TraderPaused {
		return nil
	}

	if trader.Personality.Schedule.TradingHoursOnly && !w.calendar.InWindow(now) {
		msg := "Waiting for market hours"
		_ = e.store.UpdateTraderState(ctx, trader.ID, trader.State, msg)
		e.publishStatus(trader.ID, trader.State, msg)
		return nil
	}
	_ = e.store.UpdateTraderState(ctx, trader.ID, trader.State, "")

	// 3. Evaluate each watchlist symbol sequentially. The worker is
	// cancellable between symbols; a cancelled symbol records nothing.
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			e.bus.Publish(events.Event{
				TraderID: trader.ID, Type: events.TypeError,
				Data: map[string]string{"error": "tick abandoned: " + ctx.Err().Error()},
			})
			return nil
		}
		e.evaluateSymbol(ctx, trader, w.calendar, symbol, symbols, now)
	}

	if err := e.recomputeCounters(ctx, trader); err != nil {
		e.logger.Warn().Err(err).Msg("counter recompute failed")
	}
	return nil
}

// collectQuotes fetches quotes for the watchlist plus every open position
// so mark-to-market covers positions no longer on the list.
// watchedSymbols resolves the symbols a trader scans this tick. Personal
// picks come first; use_full_watchlist extends them with the engine-wide
// default universe.
func (e *Engine) watchedSymbols(trader *database.Trader) []string {
	symbols := trader.Personality.Watchlist.Symbols
	if !trader.Personality.Watchlist.UseFullWatchlist {
		return symbols
	}

	seen := make(map[string]bool, len(symbols))
	merged := make([]string, 0, len(symbols)+len(e.cfg.DefaultWatchlist))
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	for _, s := range e.cfg.DefaultWatchlist {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	return merged
}

func (e *Engine) collectQuotes(ctx context.Context, portfolioID uuid.UUID, watchlist []string) (map[string]float64, error) {
	want := map[string]bool{}
	for _, s := range watchlist {
		want[s] = true
	}
	positions, err := e.store.ListOpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		want[p.Symbol] = true
	}

	quotes := make(map[string]float64, len(want))
	for symbol := range want {
		qctx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
		q, err := e.feed.Quote(qctx, symbol)
		cancel()
		if err != nil {
			e.logger.Debug().Err(err).Str("symbol", symbol).Msg("quote unavailable")
			continue
		}
		quotes[symbol] = q.Price
	}
	return quotes, nil
}

// evaluateSymbol runs the full decision pipeline for one symbol and always
// persists a Decision, even for holds and skips; outcome learning depends
// on the full record.
func (e *Engine) evaluateSymbol(ctx context.Context, trader *database.Trader, calendar *risk.Calendar, symbol string, allSymbols []string, now time.Time) {
	p := &trader.Personality

	e.bus.Publish(events.Event{
		TraderID: trader.ID, Type: events.TypeAnalyzing,
		Data: map[string]string{"symbol": symbol},
	})

	decision := &database.Decision{
		TraderID:        trader.ID,
		Symbol:          symbol,
		SymbolsAnalyzed: allSymbols,
		SourceScores:    map[string]database.SourceScore{},
	}

	window, quote, err := e.loadWindow(ctx, symbol)
	if err != nil {
		decision.DecisionType = database.DecisionSkip
		decision.RejectedBy = reasonPriceUnavailable
		e.persistDecision(ctx, decision)
		return
	}

	portfolio, err := e.store.GetPortfolioByTrader(ctx, trader.ID)
	if err != nil {
		return
	}
	positions, err := e.store.ListOpenPositions(ctx, portfolio.ID)
	if err != nil {
		return
	}

	// Query every available source under its own deadline.
	verdicts := map[string]signal.Verdict{}
	for _, src := range e.sources {
		if !src.Available() {
			continue
		}
		if src.Name() == database.SourceSentiment && !p.Sentiment.Enabled {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout)
		v, err := src.Evaluate(sctx, window, portfolio)
		cancel()
		if err != nil || v == nil {
			continue
		}
		if src.Name() == database.SourceSentiment && v.Score < p.Sentiment.MinScore {
			continue
		}
		verdicts[src.Name()] = *v
		decision.SourceScores[src.Name()] = database.SourceScore{
			Score: v.Score, Confidence: v.Confidence, Direction: v.Direction, Rationale: v.Rationale,
		}
	}

	agg := signal.AggregateVerdicts(verdicts, p)
	decision.WeightedScore = agg.WeightedScore
	decision.Confidence = agg.Confidence
	decision.Agreement = agg.Agreement
	decision.Summary = agg.Summary

	realizedVol, _ := indicators.RealizedVol(window.Closes(), 30)
	decision.MarketContext = database.MarketContext{
		Price:       quote.Price,
		QuoteTime:   quote.Time,
		DayChange:   quote.DayChangePct(),
		RealizedVol: realizedVol,
	}
	decision.PortfolioSnapshot = e.snapshot(portfolio, positions, now)

	if agg.Decision == database.DecisionSkip {
		decision.DecisionType = database.DecisionSkip
		decision.RejectedBy = agg.SkipReason
		e.persistDecision(ctx, decision)
		return
	}

	openPos := openPositionFor(positions, symbol)

	// A bearish call against an existing long becomes a close intent.
	action := agg.Decision
	if openPos != nil {
		switch {
		case openPos.Side == database.SideLong && (action == database.DecisionSell || action == database.DecisionShort):
			action = database.DecisionClose
		case openPos.Side == database.SideShort && action == database.DecisionBuy:
			action = database.DecisionClose
		case action == database.DecisionBuy || action == database.DecisionShort:
			// Already positioned in this direction; nothing to add.
			action = database.DecisionHold
		}
	} else if action == database.DecisionSell {
		// Nothing to sell without a position.
		action = database.DecisionHold
	}
	decision.DecisionType = action

	if action == database.DecisionHold {
		e.persistDecision(ctx, decision)
		return
	}

	// Size first so the gate sees the real cash demand.
	var intent sizing.Intent
	var estCost float64
	if action == database.DecisionBuy || action == database.DecisionShort {
		side := database.SideLong
		if action == database.DecisionShort {
			side = database.SideShort
		}
		intent = sizing.Size(p, side, symbol, quote.Price, agg.Confidence, realizedVol)
		broker := ledger.Broker(portfolio.BrokerProfile)
		leverage := broker.ClampLeverage(p.Trading.ProductType, p.Trading.Leverage)
		estCost = intent.Notional/leverage + broker.TradeFee(p.Trading.ProductType, intent.Notional)
	}

	losses, lastLossAt := e.recentLossStreak(ctx, portfolio.ID, now)
	gateIn := risk.GateInput{
		Personality:       p,
		Calendar:          calendar,
		Now:               now,
		Action:            action,
		Confidence:        agg.Confidence,
		Agreement:         agg.Agreement,
		EstimatedNotional: intent.Notional,
		EstimatedCost:     estCost,
		Cash:              portfolio.CashBalance,
		PortfolioValue:    decision.PortfolioSnapshot.Value,
		PeakValue:         portfolio.PeakValue,
		DayPnl:            decision.PortfolioSnapshot.DayPnl,
		OpenPositions:     len(positions),
		SymbolExposure:    symbolExposure(positions, symbol),
		TotalExposure:     totalExposure(positions),
		ConsecutiveLosses: losses,
		LastLossAt:        lastLossAt,
	}
	if result := risk.Check(gateIn); !result.Allowed {
		decision.DecisionType = database.DecisionSkip
		decision.RejectedBy = result.RejectedBy
		e.persistDecision(ctx, decision)
		return
	}

	switch action {
	case database.DecisionClose:
		e.executeClose(ctx, trader, decision, openPos, quote.Price, now)
	default:
		if intent.Quantity <= 0 {
			decision.DecisionType = database.DecisionSkip
			decision.RejectedBy = reasonSizeTooSmall
			e.persistDecision(ctx, decision)
			return
		}
		e.executeOpen(ctx, trader, portfolio, decision, intent, now)
	}
}

func (e *Engine) loadWindow(ctx context.Context, symbol string) (*signal.Window, market.Quote, error) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
	defer cancel()

	candles, err := e.feed.Candles(pctx, symbol, 200)
	if err != nil {
		return nil, market.Quote{}, err
	}
	quote, err := e.feed.Quote(pctx, symbol)
	if err != nil {
		return nil, market.Quote{}, err
	}
	return &signal.Window{Symbol: symbol, Candles: candles, Quote: quote}, quote, nil
}

// executeOpen applies a sized intent through the ledger. Ledger failures
// land on the decision, never on the tick.
func (e *Engine) executeOpen(ctx context.Context, trader *database.Trader, portfolio *database.Portfolio, decision *database.Decision, intent sizing.Intent, now time.Time) {
	p := &trader.Personality

	req := ledger.OpenRequest{
		PortfolioID: portfolio.ID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Quantity:    intent.Quantity,
		Price:       intent.Price,
		ProductType: p.Trading.ProductType,
		Leverage:    p.Trading.Leverage,
		StopLoss:    intent.StopLoss,
		TakeProfit:  intent.TakeProfit,
	}
	if p.Trading.ProductType == database.ProductWarrant {
		req.Warrant = &ledger.WarrantTerms{
			Strike:     intent.Price,
			OptionType: "call",
			Ratio:      10,
			ImpliedVol: 0.3,
			Expiry:     now.AddDate(0, 6, 0),
		}
		if intent.Side == database.SideShort {
			req.Warrant.OptionType = "put"
			req.Side = database.SideLong // short exposure via puts
		}
	}

	pos, err := e.ledger.OpenPosition(ctx, req, now)
	if err != nil {
		decision.Executed = false
		decision.ExecutionError = err.Error()
		e.persistDecision(ctx, decision)
		e.bus.Publish(events.Event{
			TraderID: trader.ID, Type: events.TypeError,
			Data: map[string]string{"symbol": intent.Symbol, "error": err.Error()},
		})
		return
	}

	decision.Executed = true
	decision.PositionID = &pos.ID
	e.persistDecision(ctx, decision)
	e.bus.Publish(events.Event{TraderID: trader.ID, Type: events.TypeTradeExecuted, Data: pos})
}

func (e *Engine) executeClose(ctx context.Context, trader *database.Trader, decision *database.Decision, pos *database.Position, price float64, now time.Time) {
	closed, err := e.ledger.ClosePosition(ctx, pos.ID, price, database.CloseUser, now)
	if err != nil {
		decision.Executed = false
		decision.ExecutionError = err.Error()
		e.persistDecision(ctx, decision)
		e.bus.Publish(events.Event{
			TraderID: trader.ID, Type: events.TypeError,
			Data: map[string]string{"symbol": pos.Symbol, "error": err.Error()},
		})
		return
	}
	decision.Executed = true
	decision.PositionID = &closed.ID
	e.persistDecision(ctx, decision)
	e.bus.Publish(events.Event{TraderID: trader.ID, Type: events.TypePositionClosed, Data: closed})
}

func (e *Engine) persistDecision(ctx context.Context, d *database.Decision) {
	if err := e.store.SaveDecision(ctx, d); err != nil {
		e.logger.Error().Err(err).Str("symbol", d.Symbol).Msg("could not persist decision")
		return
	}
	e.bus.Publish(events.Event{TraderID: d.TraderID, Type: events.TypeDecisionMade, Data: d})
}

func (e *Engine) publishClosed(ctx context.Context, trader *database.Trader, closed []*database.Position) {
	for _, pos := range closed {
		e.bus.Publish(events.Event{TraderID: trader.ID, Type: events.TypePositionClosed, Data: pos})
	}
}

func openPositionFor(positions []*database.Position, symbol string) *database.Position {
	for _, p := range positions {
		if p.Symbol == symbol && p.IsOpen() {
			return p
		}
	}
	return nil
}

func symbolExposure(positions []*database.Position, symbol string) float64 {
	var sum float64
	for _, p := range positions {
		if p.Symbol == symbol && p.IsOpen() {
			sum += ledger.Exposure(p)
		}
	}
	return sum
}

func totalExposure(positions []*database.Position) float64 {
	var sum float64
	for _, p := range positions {
		if p.IsOpen() {
			sum += ledger.Exposure(p)
		}
	}
	return sum
}

// snapshot captures the portfolio state attached to a decision.
func (e *Engine) snapshot(portfolio *database.Portfolio, positions []*database.Position, now time.Time) database.PortfolioSnapshot {
	value := portfolio.CashBalance
	var unrealized float64
	open := 0
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		open++
		v := ledger.PositionValue(p, p.CurrentPrice, now)
		value += v
		unrealized += v - p.MarginUsed
	}
	return database.PortfolioSnapshot{
		Cash:          portfolio.CashBalance,
		Value:         value,
		OpenPositions: open,
		DayPnl:        unrealized + e.realizedToday(portfolio, now),
	}
}

func (e *Engine) realizedToday(portfolio *database.Portfolio, now time.Time) float64 {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	closed, err := e.store.ListPositionsClosedBetween(context.Background(), portfolio.ID, dayStart, now)
	if err != nil {
		return 0
	}
	var sum float64
	for _, p := range closed {
		if p.RealizedPnl != nil {
			sum += *p.RealizedPnl
		}
	}
	return sum
}

// recentLossStreak counts trailing consecutive losing closes in the last
// 24 hours and the time of the most recent one.
func (e *Engine) recentLossStreak(ctx context.Context, portfolioID uuid.UUID, now time.Time) (int, time.Time) {
	closed, err := e.store.ListPositionsClosedBetween(ctx, portfolioID, now.Add(-24*time.Hour), now)
	if err != nil {
		return 0, time.Time{}
	}
	streak := 0
	var lastLoss time.Time
	for i := len(closed) - 1; i >= 0; i-- {
		p := closed[i]
		if p.RealizedPnl == nil || *p.RealizedPnl >= 0 {
			break
		}
		streak++
		if p.ClosedAt != nil && p.ClosedAt.After(lastLoss) {
			lastLoss = *p.ClosedAt
		}
	}
	return streak, lastLoss
}

// publishLiveStatus mirrors the volatile trader state into Redis.
func (e *Engine) publishLiveStatus(ctx context.Context, trader *database.Trader, now time.Time, interval time.Duration) {
	if e.live == nil {
		return
	}
	portfolio, err := e.store.GetPortfolioByTrader(ctx, trader.ID)
	if err != nil {
		return
	}
	positions, err := e.store.ListOpenPositions(ctx, portfolio.ID)
	if err != nil {
		return
	}
	snap := e.snapshot(portfolio, positions, now)
	_ = e.live.Publish(ctx, &database.TraderStatus{
		TraderID:      trader.ID,
		State:         trader.State,
		StatusMessage: trader.StatusMessage,
		LastTickAt:    now,
		NextTickAt:    now.Add(interval),
		PortfolioVal:  snap.Value,
		OpenPositions: snap.OpenPositions,
	})
}
