package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Opener turns an accepted signal into an open position. It re-validates the
// capital-aware gates, sizes the order, resolves a trustworthy fill price,
// derives the take-profit and stop-loss levels, and inserts the position into
// the portfolio. Any failure before insertion aborts cleanly with no partial
// state.
type Opener struct {
	venue     domain.Venue
	portfolio *Portfolio
	stats     *Stats
	set       Settings
	logger    *slog.Logger
	now       func() time.Time
}

// NewOpener creates an Opener.
func NewOpener(venue domain.Venue, portfolio *Portfolio, stats *Stats, set Settings, logger *slog.Logger) *Opener {
	return &Opener{
		venue:     venue,
		portfolio: portfolio,
		stats:     stats,
		set:       set,
		logger:    logger.With(slog.String("component", "opener")),
		now:       time.Now,
	}
}

// Open attempts to open a position for the signal and reports the outcome.
// Skips are recorded and may succeed on a later poll; failures increment the
// error counter and never leave a partially created position behind.
func (o *Opener) Open(ctx context.Context, sig domain.Signal) OpenOutcome {
	log := o.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)

	// The gate blocks zero entry prices, but the opener is the last line of
	// defense for the no-zero-price invariant.
	if sig.EntryPrice <= 0 {
		o.stats.Error()
		return failed(fmt.Errorf("opener: %s signal entry price: %w", sig.Symbol, domain.ErrNoPrice))
	}

	// Open-time gates. These depend on mutable engine state and therefore run
	// here, not in the acceptance gate.
	if age := sig.Age(o.now()); age > o.set.MaxSignalAge {
		o.stats.Skip(ReasonStaleSignal)
		log.Info("signal skipped: stale",
			slog.Duration("age", age),
			slog.Duration("max_age", o.set.MaxSignalAge),
		)
		return skipped(ReasonStaleSignal)
	}
	if o.portfolio.HasSymbol(sig.Symbol) {
		o.stats.Skip(ReasonSymbolExists)
		log.Info("signal skipped: symbol already open")
		return skipped(ReasonSymbolExists)
	}
	if open := o.portfolio.OpenCount(); open >= o.set.MaxPositions {
		o.stats.Skip(ReasonMaxPositions)
		log.Info("signal skipped: at capacity",
			slog.Int("open", open),
			slog.Int("max", o.set.MaxPositions),
		)
		return skipped(ReasonMaxPositions)
	}

	notional := o.set.notional()
	quantity := roundToStep(notional/sig.EntryPrice, o.set.stepFor(sig.Symbol))
	if quantity*sig.EntryPrice < o.set.MinNotionalUSD {
		o.stats.Skip(ReasonMinNotional)
		log.Info("signal skipped: below minimum notional",
			slog.Float64("notional", quantity*sig.EntryPrice),
			slog.Float64("min_notional", o.set.MinNotionalUSD),
		)
		return skipped(ReasonMinNotional)
	}

	if o.set.PriceDriftPct > 0 {
		live, err := o.venue.GetPrice(ctx, sig.Symbol)
		if err == nil && live > 0 {
			drift := math.Abs(live-sig.EntryPrice) / sig.EntryPrice * 100
			if drift > o.set.PriceDriftPct {
				o.stats.Skip(ReasonPriceDrift)
				log.Info("signal skipped: price drifted from signal entry",
					slog.Float64("live_price", live),
					slog.Float64("signal_entry", sig.EntryPrice),
					slog.Float64("drift_pct", drift),
					slog.Float64("max_drift_pct", o.set.PriceDriftPct),
				)
				return skipped(ReasonPriceDrift)
			}
		}
	}

	// Leverage is advisory: a failure here must not block the open since the
	// venue keeps the previously configured value.
	if err := o.venue.SetLeverage(ctx, sig.Symbol, int(o.set.Leverage)); err != nil {
		log.Warn("set leverage failed, continuing with venue default",
			slog.String("error", err.Error()),
		)
	}

	ack, err := o.venue.PlaceMarketOrder(ctx, sig.Symbol, sig.Direction.EntryOrder(), quantity, false)
	if err != nil {
		o.stats.Error()
		log.Error("entry order failed", slog.String("error", err.Error()))
		return failed(fmt.Errorf("opener: place entry order %s: %w", sig.Symbol, err))
	}

	fillPrice, err := o.resolveFillPrice(ctx, sig, ack)
	if err != nil {
		// A zero entry price would poison every later PnL computation, so a
		// position must never be created from this order.
		o.stats.Error()
		log.Error("no usable fill price, aborting open",
			slog.String("order_id", ack.OrderID),
			slog.String("error", err.Error()),
		)
		return failed(fmt.Errorf("opener: resolve fill price %s: %w", sig.Symbol, err))
	}

	tp, sl := o.riskLevels(sig, fillPrice, quantity)

	pos := &domain.Position{
		ID:              uuid.New().String(),
		Symbol:          sig.Symbol,
		Side:            sig.Direction,
		EntryPrice:      fillPrice,
		Quantity:        quantity,
		StakeAmount:     o.set.StakeAmount,
		Leverage:        o.set.Leverage,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		TrailingFloor:   o.set.FloorStart,
		CurrentPrice:    fillPrice,
		EntryTime:       o.now(),
		Status:          domain.PositionStatusOpen,
	}

	// Protective reduce-only stop on the venue. Best-effort: the monitor's
	// percentage stop still covers the position when the order is refused.
	if stopAck, stopErr := o.venue.PlaceStopOrder(ctx, sig.Symbol, sig.Direction.ExitOrder(), quantity, sl, true); stopErr != nil {
		log.Warn("protective stop order failed",
			slog.Float64("trigger", sl),
			slog.String("error", stopErr.Error()),
		)
	} else {
		pos.StopOrderID = stopAck.OrderID
	}

	if err := o.portfolio.Insert(pos); err != nil {
		// Lost a race for the symbol slot after the order filled; unwind the
		// exposure rather than track a duplicate.
		o.stats.Error()
		log.Error("portfolio insert failed after fill, unwinding",
			slog.String("error", err.Error()),
		)
		if _, unwindErr := o.venue.PlaceMarketOrder(ctx, sig.Symbol, sig.Direction.ExitOrder(), quantity, true); unwindErr != nil {
			log.Error("unwind order failed, manual intervention required",
				slog.String("error", unwindErr.Error()),
			)
		}
		return failed(fmt.Errorf("opener: insert position %s: %w", sig.Symbol, err))
	}

	o.stats.Success()
	log.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.Float64("entry_price", fillPrice),
		slog.Float64("quantity", quantity),
		slog.Float64("take_profit", tp),
		slog.Float64("stop_loss", sl),
	)
	return opened(pos)
}

// resolveFillPrice walks the strict fallback chain for a trustworthy entry
// price. It never returns zero or a negative value: when every source fails
// it returns domain.ErrNoPrice and the open attempt must abort.
func (o *Opener) resolveFillPrice(ctx context.Context, sig domain.Signal, ack domain.OrderAck) (float64, error) {
	if ack.AvgFillPrice > 0 {
		return ack.AvgFillPrice, nil
	}
	if ack.Price > 0 {
		return ack.Price, nil
	}
	if p := weightedFillPrice(ack.Fills); p > 0 {
		return p, nil
	}

	if top, err := o.venue.GetBookTop(ctx, sig.Symbol); err == nil {
		// Side-aware: an entry buy crosses the ask, an entry sell the bid.
		if sig.Direction == domain.SideLong && top.Ask > 0 {
			return top.Ask, nil
		}
		if sig.Direction == domain.SideShort && top.Bid > 0 {
			return top.Bid, nil
		}
	}

	if p, err := o.venue.GetPrice(ctx, sig.Symbol); err == nil && p > 0 {
		return p, nil
	}

	if sig.EntryPrice > 0 {
		return sig.EntryPrice, nil
	}

	return 0, domain.ErrNoPrice
}

// riskLevels derives the take-profit and stop-loss prices for the fill. The
// take-profit converts the fixed-dollar cap into a price via the quantity;
// the stop-loss is a percentage of entry. Both are pushed away from entry by
// at least max(tick, entry*0.0002) so rounding or micro-volatility cannot
// trigger them instantly.
func (o *Opener) riskLevels(sig domain.Signal, fill, quantity float64) (tp, sl float64) {
	perUnit := o.set.CapDollars / quantity
	slMove := fill * o.set.StopLossPct / 100
	gap := math.Max(o.set.tickFor(sig.Symbol), fill*0.0002)

	if sig.Direction == domain.SideShort {
		tp = fill - perUnit
		sl = fill + slMove
		tp = math.Min(tp, fill-gap)
		sl = math.Max(sl, fill+gap)
		return tp, sl
	}
	tp = fill + perUnit
	sl = fill - slMove
	tp = math.Max(tp, fill+gap)
	sl = math.Min(sl, fill-gap)
	return tp, sl
}

// weightedFillPrice returns the quantity-weighted average price of the fill
// events, or zero when there are none.
func weightedFillPrice(fills []domain.Fill) float64 {
	var notional, qty float64
	for _, f := range fills {
		if f.Price <= 0 || f.Quantity <= 0 {
			continue
		}
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// roundToStep floors a quantity to the venue's step size. A zero step leaves
// the quantity untouched.
func roundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	return math.Floor(quantity/step) * step
}
