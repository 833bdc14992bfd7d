package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Monitor is the trailing engine: a periodic loop that refreshes every open
// position, ratchets the trailing profit floor upward in fixed dollar steps,
// and hands positions that hit a close condition to the Closer.
//
// The floor is a discrete step function, not a continuous trail: once
// trailing has activated the position can never give back more than one
// increment of its peak profit, while the upside runs uncapped until the hard
// cap. Per-position failures are contained to that position and tick.
type Monitor struct {
	venue     domain.Venue
	portfolio *Portfolio
	closer    *Closer
	set       Settings
	logger    *slog.Logger
	now       func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(venue domain.Venue, portfolio *Portfolio, closer *Closer, set Settings, logger *slog.Logger) *Monitor {
	return &Monitor{
		venue:     venue,
		portfolio: portfolio,
		closer:    closer,
		set:       set,
		logger:    logger.With(slog.String("component", "monitor")),
		now:       time.Now,
	}
}

// Run executes the monitor loop until ctx is cancelled. The loop itself
// never fails: all per-position errors are logged and retried next tick.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started",
		slog.Duration("interval", m.set.MonitorInterval),
	)
	defer m.logger.Info("position monitor stopped")

	ticker := time.NewTicker(m.set.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every open position once. Each position's work is
// independently awaitable under a per-tick timeout so one slow symbol cannot
// starve the others.
func (m *Monitor) Tick(ctx context.Context) {
	ids := m.portfolio.OpenIDs()
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			tickCtx := gctx
			if m.set.TickTimeout > 0 {
				var cancel context.CancelFunc
				tickCtx, cancel = context.WithTimeout(gctx, m.set.TickTimeout)
				defer cancel()
			}
			m.evaluate(tickCtx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// evaluate runs one position through the tick pipeline: price refresh, PnL
// update, floor ratchet, then the close decision. The ratchet always applies
// before the decision reads the floor.
func (m *Monitor) evaluate(ctx context.Context, id string) {
	pos, ok := m.portfolio.Get(id)
	if !ok {
		return
	}
	log := m.logger.With(
		slog.String("position_id", id),
		slog.String("symbol", pos.Symbol),
	)

	price, err := m.venue.GetPrice(ctx, pos.Symbol)
	if err != nil || price <= 0 {
		// Skip this position this tick; never fail the whole loop.
		log.Warn("price unavailable, skipping tick",
			slog.String("error", errString(err)),
		)
		return
	}

	gross := pos.GrossPnL(price)
	basis := gross
	if m.set.TrailingBasis == TrailingNet {
		basis = gross - m.set.TakerFeeRate*(pos.Notional()+price*pos.Quantity)
	}

	updated, ok := m.portfolio.Update(id, func(p *domain.Position) {
		p.CurrentPrice = price
		p.UnrealizedPnL = gross
		if n := p.Notional(); n > 0 {
			p.UnrealizedPnLPct = gross / n * 100
		}

		if basis > p.HighestProfitEver {
			p.HighestProfitEver = basis
		}

		// Discrete ratchet: the floor jumps a full increment only once the
		// peak exceeds it by at least that increment, clamped to the cap.
		for p.HighestProfitEver-p.TrailingFloor >= m.set.FloorIncrement && p.TrailingFloor < m.set.CapDollars {
			p.TrailingFloor += m.set.FloorIncrement
			if p.TrailingFloor > m.set.CapDollars {
				p.TrailingFloor = m.set.CapDollars
			}
		}

		// One-way activation.
		if !p.FloorActivated && p.HighestProfitEver >= m.set.FloorStart {
			p.FloorActivated = true
		}
	})
	if !ok {
		return
	}

	// Close decision, first match wins.
	switch {
	case basis >= m.set.CapDollars:
		m.requestClose(ctx, id, "tp_cap_hit", log)

	case updated.FloorActivated && basis <= updated.TrailingFloor:
		reason := "trailing_floor_$" + strconv.FormatFloat(updated.TrailingFloor, 'f', -1, 64) + "_hit"
		m.requestClose(ctx, id, reason, log)

	case m.now().Sub(updated.EntryTime) >= m.set.CloseGrace:
		// Only after the grace period: a just-opened position may not be
		// visible on the venue yet, and a false "not found" would corrupt
		// the PnL accounting.
		vp, posErr := m.venue.GetPosition(ctx, pos.Symbol)
		if posErr == nil && vp.Quantity == 0 {
			if _, err := m.closer.MarkClosedExternally(ctx, id, "closed_externally"); err != nil {
				log.Warn("mark closed externally failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Monitor) requestClose(ctx context.Context, id, reason string, log *slog.Logger) {
	log.Info("close condition met", slog.String("reason", reason))
	if _, err := m.closer.Close(ctx, id, reason); err != nil {
		// The closer released its claim; the next tick retries.
		log.Warn("close failed, retrying next tick",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func errString(err error) string {
	if err == nil {
		return "non-positive price"
	}
	return err.Error()
}
