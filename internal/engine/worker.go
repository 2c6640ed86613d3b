package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/risk"
)

// traderWorker is the cooperative loop of one trader. Its ticks never
// overlap: the loop runs them one at a time and stop waits for the
// in-flight tick to finish.
type traderWorker struct {
	engine   *Engine
	traderID uuid.UUID
	calendar *risk.Calendar
	interval time.Duration
	logger   zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newTraderWorker(e *Engine, traderID uuid.UUID, calendar *risk.Calendar, checkIntervalMinutes int) *traderWorker {
	if checkIntervalMinutes < 1 {
		checkIntervalMinutes = 15
	}
	return &traderWorker{
		engine:   e,
		traderID: traderID,
		calendar: calendar,
		interval: time.Duration(checkIntervalMinutes) * time.Minute,
		logger:   e.logger.With().Str("trader", traderID.String()).Logger(),
		stopChan: make(chan struct{}),
	}
}

func (w *traderWorker) start() {
	w.wg.Add(1)
	go w.run()
}

// stop signals the loop and waits for the in-flight tick to complete.
func (w *traderWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

func (w *traderWorker) run() {
	defer w.wg.Done()
	w.logger.Info().Dur("interval", w.interval).Msg("trader worker started")

	// First tick right away so a freshly started trader acts immediately.
	w.tickWithTimeout()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopChan:
			w.logger.Info().Msg("trader worker stopped")
			return
		case <-ticker.C:
			w.tickWithTimeout()
		}
	}
}

// tickWithTimeout bounds a tick by the engine's tick timeout and ties its
// context to the worker's stop signal for cooperative cancellation.
func (w *traderWorker) tickWithTimeout() {
	timeout := w.engine.cfg.TickTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-done:
		}
	}()
	defer close(done)

	if err := w.engine.tick(ctx, w); err != nil {
		w.logger.Error().Err(err).Msg("tick failed")
	}
}
