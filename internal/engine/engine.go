// Package engine owns the per-trader workers, the daily jobs and the
// event bus. Lifecycle is explicit: New builds it, Start spins up workers
// for traders already marked running, Stop drains everything.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/config"
	"paper-trader/internal/database"
	"paper-trader/internal/events"
	"paper-trader/internal/learning"
	"paper-trader/internal/ledger"
	"paper-trader/internal/market"
	"paper-trader/internal/risk"
	"paper-trader/internal/signal"
)

// Store is the persistence surface the engine reads and writes. The
// ledger holds its own narrower view of the same repository.
type Store interface {
	GetTrader(ctx context.Context, id uuid.UUID) (*database.Trader, error)
	ListTraders(ctx context.Context) ([]*database.Trader, error)
	UpdateTraderState(ctx context.Context, id uuid.UUID, state, statusMessage string) error
	UpdateTraderStats(ctx context.Context, t *database.Trader) error

	UpdateTraderWeights(ctx context.Context, id uuid.UUID, weights map[string]float64, history *database.WeightHistory) error

	GetPortfolio(ctx context.Context, id uuid.UUID) (*database.Portfolio, error)
	GetPortfolioByTrader(ctx context.Context, traderID uuid.UUID) (*database.Portfolio, error)
	ListOpenPositions(ctx context.Context, portfolioID uuid.UUID) ([]*database.Position, error)
	GetPosition(ctx context.Context, id uuid.UUID) (*database.Position, error)
	ListPositionsClosedBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) ([]*database.Position, error)
	CountPositionsOpenedBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) (int, error)
	SumFeesBetween(ctx context.Context, portfolioID uuid.UUID, from, to time.Time) (float64, error)

	SaveDecision(ctx context.Context, d *database.Decision) error
	ListDecisions(ctx context.Context, traderID uuid.UUID, limit int) ([]*database.Decision, error)
	ListUnresolvedDecisions(ctx context.Context, traderID uuid.UUID) ([]*database.Decision, error)
	ListResolvedDecisionsSince(ctx context.Context, traderID uuid.UUID, since time.Time) ([]*database.Decision, error)
	SetDecisionOutcome(ctx context.Context, id uuid.UUID, outcome *database.DecisionOutcome) error

	SaveDailyReport(ctx context.Context, report *database.DailyReport) error
}

// Engine drives all running traders.
type Engine struct {
	cfg      config.EngineConfig
	store    Store
	ledger   *ledger.Ledger
	feed     market.PriceFeed
	bus      *events.Bus
	learning *learning.Loop
	live     *database.LiveState
	sources  []signal.Source
	logger   zerolog.Logger

	workers sync.Map // uuid.UUID -> *traderWorker
	jobs    *jobRunner

	mu             sync.Mutex
	lastLearningAt map[uuid.UUID]time.Time

	started bool
}

// New wires an engine. live may be nil when Redis is disabled.
func New(cfg config.EngineConfig, store Store, ldg *ledger.Ledger, feed market.PriceFeed, bus *events.Bus, live *database.LiveState, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    store,
		ledger:   ldg,
		feed:     feed,
		bus:      bus,
		live:     live,
		logger:   logger.With().Str("component", "engine").Logger(),
		sources:  defaultSources(),
		learning: learning.New(store, logger),

		lastLearningAt: make(map[uuid.UUID]time.Time),
	}
	e.jobs = newJobRunner(e)
	return e
}

func defaultSources() []signal.Source {
	return []signal.Source{
		signal.NewMLSource(),
		signal.NewRLSource(),
		signal.NewSentimentSource(),
		signal.NewTechnicalSource(),
	}
}

// Start resumes workers for traders persisted as running and launches the
// daily jobs.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	e.started = true

	traders, err := e.store.ListTraders(ctx)
	if err != nil {
		return fmt.Errorf("list traders: %w", err)
	}
	for _, t := range traders {
		if t.State == database.TraderRunning || t.State == database.TraderPaused {
			if err := e.spawnWorker(t); err != nil {
				e.logger.Error().Err(err).Str("trader", t.Name).Msg("could not resume trader")
				_ = e.store.UpdateTraderState(ctx, t.ID, database.TraderPaused, err.Error())
			}
		}
	}

	e.jobs.start()
	e.logger.Info().Msg("engine started")
	return nil
}

// Stop drains all workers and jobs. Blocks until in-flight ticks finish.
func (e *Engine) Stop() {
	e.jobs.stop()
	e.workers.Range(func(key, value interface{}) bool {
		value.(*traderWorker).stop()
		return true
	})
	e.logger.Info().Msg("engine stopped")
}

// StartTrader validates the personality and spins up a worker.
func (e *Engine) StartTrader(ctx context.Context, traderID uuid.UUID) error {
	trader, err := e.store.GetTrader(ctx, traderID)
	if err != nil {
		return err
	}
	if _, ok := e.workers.Load(traderID); ok {
		// Already running; a paused worker resumes through ResumeTrader.
		return e.ResumeTrader(ctx, traderID)
	}
	if err := trader.Personality.Validate(); err != nil {
		return fmt.Errorf("invalid personality: %w", err)
	}

	if err := e.store.UpdateTraderState(ctx, traderID, database.TraderRunning, "starting"); err != nil {
		return err
	}
	trader.State = database.TraderRunning
	if err := e.spawnWorker(trader); err != nil {
		_ = e.store.UpdateTraderState(ctx, traderID, database.TraderStopped, err.Error())
		return err
	}
	e.publishStatus(trader.ID, database.TraderRunning, "started")
	return nil
}

func (e *Engine) spawnWorker(trader *database.Trader) error {
	calendar, err := risk.NewCalendar(trader.Personality.Schedule)
	if err != nil {
		return fmt.Errorf("trading calendar: %w", err)
	}
	w := newTraderWorker(e, trader.ID, calendar, trader.Personality.Schedule.CheckIntervalMinutes)
	if _, loaded := e.workers.LoadOrStore(trader.ID, w); loaded {
		return nil
	}
	w.start()
	return nil
}

// StopTrader cancels the worker cooperatively; an in-flight symbol
// evaluation completes before the worker exits.
func (e *Engine) StopTrader(ctx context.Context, traderID uuid.UUID) error {
	if v, ok := e.workers.LoadAndDelete(traderID); ok {
		v.(*traderWorker).stop()
	}
	if err := e.store.UpdateTraderState(ctx, traderID, database.TraderStopped, ""); err != nil {
		return err
	}
	if e.live != nil {
		_ = e.live.Clear(ctx, traderID)
	}
	e.publishStatus(traderID, database.TraderStopped, "stopped")
	return nil
}

// PauseTrader suppresses new openings; mark-to-market and outcome
// attribution continue.
func (e *Engine) PauseTrader(ctx context.Context, traderID uuid.UUID) error {
	if err := e.store.UpdateTraderState(ctx, traderID, database.TraderPaused, "paused"); err != nil {
		return err
	}
	e.publishStatus(traderID, database.TraderPaused, "paused")
	return nil
}

// ResumeTrader returns a paused trader to running.
func (e *Engine) ResumeTrader(ctx context.Context, traderID uuid.UUID) error {
	trader, err := e.store.GetTrader(ctx, traderID)
	if err != nil {
		return err
	}
	if err := trader.Personality.Validate(); err != nil {
		return fmt.Errorf("invalid personality: %w", err)
	}
	if err := e.store.UpdateTraderState(ctx, traderID, database.TraderRunning, ""); err != nil {
		return err
	}
	if _, ok := e.workers.Load(traderID); !ok {
		trader.State = database.TraderRunning
		if err := e.spawnWorker(trader); err != nil {
			return err
		}
	}
	e.publishStatus(traderID, database.TraderRunning, "resumed")
	return nil
}

// RunLearning triggers one learning pass for a trader, used by the daily
// job and the manual API endpoint.
func (e *Engine) RunLearning(ctx context.Context, traderID uuid.UUID) (*learning.Result, error) {
	result, err := e.learning.Run(ctx, traderID, time.Now())
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastLearningAt[traderID] = time.Now()
	e.mu.Unlock()
	return result, nil
}

// Bus exposes the event bus for API subscriptions.
func (e *Engine) Bus() *events.Bus { return e.bus }

// ClosePositionManually closes one position at the current quote.
func (e *Engine) ClosePositionManually(ctx context.Context, positionID uuid.UUID) (*database.Position, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	quote, err := e.feed.Quote(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	closed, err := e.ledger.ClosePosition(ctx, positionID, quote.Price, database.CloseUser, time.Now())
	if err != nil {
		return nil, err
	}

	ev := events.Event{Type: events.TypePositionClosed, Data: closed}
	if portfolio, err := e.store.GetPortfolio(ctx, closed.PortfolioID); err == nil {
		ev.TraderID = portfolio.TraderID
	}
	e.bus.Publish(ev)
	return closed, nil
}

func (e *Engine) publishStatus(traderID uuid.UUID, state, message string) {
	e.bus.Publish(events.Event{
		TraderID: traderID,
		Type:     events.TypeStatusChanged,
		Data:     map[string]string{"state": state, "message": message},
	})
}
