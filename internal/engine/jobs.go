package engine

import (
	"context"
	"sync"
	"time"

	"paper-trader/internal/database"
	"paper-trader/internal/risk"
)

// jobRunner schedules the daily off-hours work: overnight fees, the
// market-close job (learning plus daily reports), and the hourly outcome
// backfill sweep.
type jobRunner struct {
	engine   *Engine
	location *time.Location

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newJobRunner(e *Engine) *jobRunner {
	loc, err := time.LoadLocation(e.cfg.JobTimezone)
	if err != nil {
		loc = time.UTC
	}
	return &jobRunner{engine: e, location: loc, stopChan: make(chan struct{})}
}

func (j *jobRunner) start() {
	j.wg.Add(3)
	go j.dailyLoop(j.engine.cfg.OvernightFeesAt, j.runOvernightFees)
	go j.dailyLoop(j.engine.cfg.MarketCloseJobAt, j.runMarketClose)
	go j.backfillLoop()
}

func (j *jobRunner) stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
	j.wg.Wait()
}

// dailyLoop fires the job once per day at the configured local HH:MM.
func (j *jobRunner) dailyLoop(at string, job func(context.Context)) {
	defer j.wg.Done()
	for {
		wait := untilNext(at, j.location, time.Now())
		timer := time.NewTimer(wait)
		select {
		case <-j.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		job(ctx)
		cancel()
	}
}

func untilNext(at string, loc *time.Location, now time.Time) time.Duration {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return time.Hour
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (j *jobRunner) backfillLoop() {
	defer j.wg.Done()
	every := j.engine.cfg.OutcomeBackfillEvery
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			j.runBackfill(ctx)
			cancel()
		}
	}
}

func (j *jobRunner) runBackfill(ctx context.Context) {
	traders, err := j.engine.store.ListTraders(ctx)
	if err != nil {
		j.engine.logger.Error().Err(err).Msg("backfill job: list traders")
		return
	}
	for _, t := range traders {
		if err := j.engine.backfillOutcomes(ctx, t); err != nil {
			j.engine.logger.Warn().Err(err).Str("trader", t.Name).Msg("backfill job failed")
		}
	}
}

// runOvernightFees charges financing and performs daily resets for every
// trader with open positions.
func (j *jobRunner) runOvernightFees(ctx context.Context) {
	traders, err := j.engine.store.ListTraders(ctx)
	if err != nil {
		j.engine.logger.Error().Err(err).Msg("overnight job: list traders")
		return
	}
	now := time.Now()
	for _, t := range traders {
		portfolio, err := j.engine.store.GetPortfolioByTrader(ctx, t.ID)
		if err != nil {
			continue
		}
		total, err := j.engine.ledger.ApplyOvernightFees(ctx, portfolio.ID, now)
		if err != nil {
			j.engine.logger.Warn().Err(err).Str("trader", t.Name).Msg("overnight fees failed")
			continue
		}
		if total > 0 {
			j.engine.logger.Info().Str("trader", t.Name).Float64("fees", total).Msg("overnight fees applied")
		}
	}
}

// runMarketClose settles expiries, backfills outcomes, runs the learning
// loop and writes the daily report for every trader.
func (j *jobRunner) runMarketClose(ctx context.Context) {
	traders, err := j.engine.store.ListTraders(ctx)
	if err != nil {
		j.engine.logger.Error().Err(err).Msg("market close job: list traders")
		return
	}
	now := time.Now()
	for _, t := range traders {
		portfolio, err := j.engine.store.GetPortfolioByTrader(ctx, t.ID)
		if err != nil {
			continue
		}
		if expired, err := j.engine.ledger.SettleExpired(ctx, portfolio.ID, now); err == nil {
			j.engine.publishClosed(ctx, t, expired)
		}
		if err := j.engine.backfillOutcomes(ctx, t); err != nil {
			j.engine.logger.Warn().Err(err).Str("trader", t.Name).Msg("close job backfill failed")
		}
		if _, err := j.engine.RunLearning(ctx, t.ID); err != nil {
			j.engine.logger.Warn().Err(err).Str("trader", t.Name).Msg("learning failed")
		}
		if err := j.engine.writeDailyReport(ctx, t, now); err != nil {
			j.engine.logger.Warn().Err(err).Str("trader", t.Name).Msg("daily report failed")
		}
	}
}

// maybeCatchUpLearning runs learning on the first tick after a gap, e.g.
// Monday morning after the Friday close job or a restart over a holiday.
func (e *Engine) maybeCatchUpLearning(ctx context.Context, trader *database.Trader, calendar *risk.Calendar, now time.Time) {
	if !trader.Personality.Learning.Enabled {
		return
	}
	if !calendar.IsTradingDay(now) {
		return
	}
	e.mu.Lock()
	last, ok := e.lastLearningAt[trader.ID]
	e.mu.Unlock()
	if ok && now.Sub(last) < 40*time.Hour {
		return
	}
	// Catch-up only matters right after a non-trading day.
	if calendar.IsTradingDay(now.AddDate(0, 0, -1)) && ok {
		return
	}
	if _, err := e.RunLearning(ctx, trader.ID); err != nil {
		e.logger.Warn().Err(err).Str("trader", trader.Name).Msg("catch-up learning failed")
	}
}

// writeDailyReport summarizes the trading day.
func (e *Engine) writeDailyReport(ctx context.Context, trader *database.Trader, now time.Time) error {
	portfolio, err := e.store.GetPortfolioByTrader(ctx, trader.ID)
	if err != nil {
		return err
	}
	loc := now.Location()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	closed, err := e.store.ListPositionsClosedBetween(ctx, portfolio.ID, dayStart, now)
	if err != nil {
		return err
	}
	opened, err := e.store.CountPositionsOpenedBetween(ctx, portfolio.ID, dayStart, now)
	if err != nil {
		return err
	}
	fees, err := e.store.SumFeesBetween(ctx, portfolio.ID, dayStart, now)
	if err != nil {
		return err
	}

	report := &database.DailyReport{
		TraderID: trader.ID,
		Date:     dayStart,
		FeesPaid: fees,
	}

	var dayPnl float64
	for _, p := range closed {
		if p.RealizedPnl == nil {
			continue
		}
		pnl := *p.RealizedPnl
		dayPnl += pnl
		report.TradesClosed++
		if pnl > 0 {
			report.Wins++
		} else {
			report.Losses++
		}
		if pnl > report.BestTrade {
			report.BestTrade = pnl
		}
		if pnl < report.WorstTrade {
			report.WorstTrade = pnl
		}
	}
	report.TradesOpened = opened
	if report.TradesClosed > 0 {
		report.WinRate = float64(report.Wins) / float64(report.TradesClosed)
	}

	positions, err := e.store.ListOpenPositions(ctx, portfolio.ID)
	if err != nil {
		return err
	}
	endValue := e.snapshot(portfolio, positions, now).Value
	report.EndValue = endValue
	report.StartValue = endValue - dayPnl
	report.Pnl = dayPnl

	resolved, err := e.store.ListResolvedDecisionsSince(ctx, trader.ID, dayStart)
	if err == nil {
		report.SourceAccuracy = sourceAccuracyOf(resolved)
	}
	report.Insights = buildInsights(report)

	return e.store.SaveDailyReport(ctx, report)
}

func sourceAccuracyOf(decisions []*database.Decision) map[string]float64 {
	correct, answered := map[string]int{}, map[string]int{}
	for _, d := range decisions {
		if d.Outcome == nil {
			continue
		}
		for src := range d.SourceScores {
			answered[src]++
			if d.Outcome.WasCorrect {
				correct[src]++
			}
		}
	}
	out := map[string]float64{}
	for src, n := range answered {
		out[src] = float64(correct[src]) / float64(n)
	}
	return out
}

// buildInsights produces advisory observations for the report. They are
// informational only; weight changes come exclusively from the learning
// loop.
func buildInsights(r *database.DailyReport) []string {
	var insights []string
	if r.TradesClosed == 0 {
		insights = append(insights, "no trades closed today")
		return insights
	}
	if r.WinRate >= 0.6 {
		insights = append(insights, "strong day: win rate above 60%")
	} else if r.WinRate < 0.4 {
		insights = append(insights, "weak day: win rate below 40%")
	}
	if r.FeesPaid > 0 && r.Pnl > 0 && r.FeesPaid > r.Pnl/2 {
		insights = append(insights, "fees consumed more than half of gross profit")
	}
	for src, acc := range r.SourceAccuracy {
		if acc >= 0.7 {
			insights = append(insights, src+" signals were highly accurate today")
		} else if acc <= 0.3 {
			insights = append(insights, src+" signals were mostly wrong today")
		}
	}
	return insights
}
