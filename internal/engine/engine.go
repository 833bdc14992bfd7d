// Package engine implements the position lifecycle core: signal ranking, the
// acceptance gate, position opening, the trailing profit-floor monitor, and
// position closing. The same engine drives both the live venue and the
// paper-trading simulation; only the domain.Venue implementation differs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Engine wires the pipeline together and supervises the two long-lived
// loops: signal collection/opening and position monitoring.
type Engine struct {
	set       Settings
	venue     domain.Venue
	portfolio *Portfolio
	stats     *Stats
	gate      *Gate
	opener    *Opener
	monitor   *Monitor
	closer    *Closer

	signals <-chan []domain.Signal
	alerter Alerter
	logger  *slog.Logger
	running atomic.Bool
}

// New constructs an Engine and all of its components. signals delivers
// batches of candidate signals from the external generator; trades, bus, and
// alerter are fire-and-forget collaborators and may be nil.
func New(
	venue domain.Venue,
	trades domain.TradeStore,
	bus domain.SignalBus,
	alerter Alerter,
	set Settings,
	signals <-chan []domain.Signal,
	logger *slog.Logger,
) *Engine {
	portfolio := NewPortfolio()
	stats := NewStats()
	closer := NewCloser(venue, portfolio, trades, bus, alerter, set, logger)

	return &Engine{
		set:       set,
		venue:     venue,
		portfolio: portfolio,
		stats:     stats,
		gate:      NewGate(set.MinConfidence, stats, logger),
		opener:    NewOpener(venue, portfolio, stats, set, logger),
		monitor:   NewMonitor(venue, portfolio, closer, set, logger),
		closer:    closer,
		signals:   signals,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// Run starts the engine and blocks until ctx is cancelled. A failed startup
// balance check is fatal: the engine halts before any position is opened.
// On shutdown every remaining open position is closed best-effort; a position
// left open with no monitor running is an unacceptable end state.
func (e *Engine) Run(ctx context.Context) error {
	bal, err := e.venue.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("engine: startup balance check: %w", err)
	}
	e.logger.Info("engine starting",
		slog.Float64("balance_total", bal.Total),
		slog.Float64("balance_available", bal.Available),
		slog.Int("max_positions", e.set.MaxPositions),
		slog.Float64("stake_amount", e.set.StakeAmount),
		slog.Float64("leverage", e.set.Leverage),
	)

	e.running.Store(true)
	defer e.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.monitor.Run(gctx) })
	g.Go(func() error { return e.collect(gctx) })

	runErr := g.Wait()

	// Loops are down; close whatever is still open under a fresh deadline so
	// shutdown cannot hang on a slow venue.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e.CloseAll(shutdownCtx, "engine_shutdown")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// collect consumes ranked signal batches and offers each eligible candidate
// to the opener, best expected profit first. Failures on one signal never
// abort the batch.
func (e *Engine) collect(ctx context.Context) error {
	e.logger.Info("signal collection started")
	defer e.logger.Info("signal collection stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-e.signals:
			if !ok {
				return nil
			}
			e.handleBatch(ctx, batch)
		}
	}
}

func (e *Engine) handleBatch(ctx context.Context, batch []domain.Signal) {
	ranked := Rank(batch, e.set.StakeAmount, e.set.Leverage, time.Now())
	for _, sig := range ranked {
		if !e.gate.Accept(sig) {
			continue
		}
		outcome := e.opener.Open(ctx, sig)
		switch outcome.Kind {
		case OutcomeOpened:
			if e.alerter != nil {
				msg := fmt.Sprintf("%s %s entry=%.4f qty=%v",
					sig.Symbol, sig.Direction, outcome.Position.EntryPrice, outcome.Position.Quantity)
				if err := e.alerter.Notify(ctx, "position_opened", "Position opened", msg); err != nil {
					e.logger.Warn("open notification failed", slog.String("error", err.Error()))
				}
			}
		case OutcomeFailed:
			e.logger.Error("open attempt failed",
				slog.String("symbol", sig.Symbol),
				slog.String("error", outcome.Err.Error()),
			)
			if e.alerter != nil {
				_ = e.alerter.Notify(ctx, "engine_error", "Open failed",
					fmt.Sprintf("%s: %v", sig.Symbol, outcome.Err))
			}
		}
	}
}

// CloseAll closes every open position with the given reason, best-effort.
func (e *Engine) CloseAll(ctx context.Context, reason string) {
	for _, id := range e.portfolio.OpenIDs() {
		if _, err := e.closer.Close(ctx, id, reason); err != nil {
			e.logger.Error("shutdown close failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ClosePosition closes a single position by id. Unknown or already-closed
// ids return domain.ErrNotFound without touching the venue.
func (e *Engine) ClosePosition(ctx context.Context, id, reason string) (domain.RealizedTrade, error) {
	return e.closer.Close(ctx, id, reason)
}

// Status reports the engine's current operational summary.
func (e *Engine) Status() domain.EngineStatus {
	total, winning, totalPnL, dailyPnL := e.portfolio.Counters()
	st := domain.EngineStatus{
		Running:       e.running.Load(),
		OpenPositions: e.portfolio.OpenCount(),
		TotalTrades:   total,
		WinningTrades: winning,
		TotalPnL:      totalPnL,
		DailyPnL:      dailyPnL,
		Stats:         e.stats.Snapshot(),
	}
	if total > 0 {
		st.WinRate = float64(winning) / float64(total) * 100
	}
	return st
}

// ActivePositions returns value copies of every open position.
func (e *Engine) ActivePositions() []domain.Position {
	return e.portfolio.Snapshot()
}
