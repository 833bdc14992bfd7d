package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Alerter delivers operator notifications for position lifecycle events.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Closer finalizes positions: it executes the close against the venue (or
// marks an externally closed position locally), settles realized PnL and
// fees, removes the position from the portfolio, and appends the realized
// trade to the persistence sink. Closing an unknown or already-closed id is a
// no-op returning domain.ErrNotFound, never a duplicate venue order.
type Closer struct {
	venue     domain.Venue
	portfolio *Portfolio
	trades    domain.TradeStore
	bus       domain.SignalBus
	alerter   Alerter
	set       Settings
	logger    *slog.Logger
	now       func() time.Time
}

// NewCloser creates a Closer. trades, bus, and alerter may be nil; the close
// path treats them as fire-and-forget collaborators.
func NewCloser(venue domain.Venue, portfolio *Portfolio, trades domain.TradeStore, bus domain.SignalBus, alerter Alerter, set Settings, logger *slog.Logger) *Closer {
	return &Closer{
		venue:     venue,
		portfolio: portfolio,
		trades:    trades,
		bus:       bus,
		alerter:   alerter,
		set:       set,
		logger:    logger.With(slog.String("component", "closer")),
		now:       time.Now,
	}
}

// Close executes a market close for the position and finalizes it. When the
// venue rejects the close order the claim is released and the caller should
// retry on the next tick; the position is never dropped from tracking while
// still economically open.
func (c *Closer) Close(ctx context.Context, id, reason string) (domain.RealizedTrade, error) {
	pos, ok := c.portfolio.BeginClose(id)
	if !ok {
		return domain.RealizedTrade{}, fmt.Errorf("closer: position %q: %w", id, domain.ErrNotFound)
	}

	// Outstanding exit orders must not double-fire after the market close.
	// Cancellation is best-effort and never blocks the close itself.
	if pos.StopOrderID != "" {
		if err := c.venue.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			c.logger.Warn("cancel protective stop failed",
				slog.String("position_id", id),
				slog.String("order_id", pos.StopOrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	ack, err := c.venue.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.ExitOrder(), pos.Quantity, true)
	if err != nil {
		c.portfolio.AbortClose(id)
		c.logger.Error("close order rejected, will retry next tick",
			slog.String("position_id", id),
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.RealizedTrade{}, fmt.Errorf("closer: close order %s: %w", pos.Symbol, err)
	}

	exitPrice := c.resolveExitPrice(ctx, pos, ack)
	return c.finalize(ctx, pos, exitPrice, reason)
}

// MarkClosedExternally finalizes a position the venue reports as already flat
// (a venue-side TP/SL fill) without issuing another order. This is the
// idempotent counterpart of the historical double-close failure mode.
func (c *Closer) MarkClosedExternally(ctx context.Context, id, reason string) (domain.RealizedTrade, error) {
	pos, ok := c.portfolio.BeginClose(id)
	if !ok {
		return domain.RealizedTrade{}, fmt.Errorf("closer: position %q: %w", id, domain.ErrNotFound)
	}

	exitPrice := pos.CurrentPrice
	if p, err := c.venue.GetPrice(ctx, pos.Symbol); err == nil && p > 0 {
		exitPrice = p
	}
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}
	return c.finalize(ctx, pos, exitPrice, reason)
}

// finalize settles PnL, removes the position from both indexes atomically,
// and hands the realized trade to the persistence and notification
// collaborators. Persistence failure is logged, never rolled back: the
// position is already economically closed.
func (c *Closer) finalize(ctx context.Context, pos domain.Position, exitPrice float64, reason string) (domain.RealizedTrade, error) {
	gross := pos.GrossPnL(exitPrice)
	fees := c.set.TakerFeeRate * (pos.Notional() + exitPrice*pos.Quantity)
	realized := gross - fees

	closed, err := c.portfolio.CompleteClose(pos.ID, exitPrice, realized, c.now(), reason)
	if err != nil {
		return domain.RealizedTrade{}, fmt.Errorf("closer: complete close %q: %w", pos.ID, err)
	}

	trade := domain.RealizedTrade{
		Symbol:     closed.Symbol,
		Side:       closed.Side,
		EntryPrice: closed.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   closed.Quantity,
		PnL:        realized,
		EntryTime:  closed.EntryTime,
		ExitTime:   closed.ExitTime,
		ExitReason: reason,
	}
	if n := closed.Notional(); n > 0 {
		trade.PnLPct = realized / n * 100
	}

	c.logger.Info("position closed",
		slog.String("position_id", closed.ID),
		slog.String("symbol", closed.Symbol),
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized),
		slog.Float64("fees", fees),
	)

	if c.trades != nil {
		if err := c.trades.Insert(ctx, trade); err != nil {
			c.logger.Warn("trade persist failed",
				slog.String("symbol", trade.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	c.publishClose(ctx, closed, trade)

	if c.alerter != nil {
		msg := fmt.Sprintf("%s %s exit=%.4f pnl=%.2f (%s)",
			trade.Symbol, trade.Side, exitPrice, realized, reason)
		if err := c.alerter.Notify(ctx, "position_closed", "Position closed", msg); err != nil {
			c.logger.Warn("close notification failed", slog.String("error", err.Error()))
		}
	}

	return trade, nil
}

// resolveExitPrice applies the same never-zero fallback discipline as the
// opener, with the book side flipped: closing a long hits the bid, closing a
// short the ask. The entry price is the final resort and is itself never zero.
func (c *Closer) resolveExitPrice(ctx context.Context, pos domain.Position, ack domain.OrderAck) float64 {
	if ack.AvgFillPrice > 0 {
		return ack.AvgFillPrice
	}
	if ack.Price > 0 {
		return ack.Price
	}
	if p := weightedFillPrice(ack.Fills); p > 0 {
		return p
	}
	if top, err := c.venue.GetBookTop(ctx, pos.Symbol); err == nil {
		if pos.Side == domain.SideLong && top.Bid > 0 {
			return top.Bid
		}
		if pos.Side == domain.SideShort && top.Ask > 0 {
			return top.Ask
		}
	}
	if p, err := c.venue.GetPrice(ctx, pos.Symbol); err == nil && p > 0 {
		return p
	}
	if pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	return pos.EntryPrice
}

// publishClose emits the close event on the bus and appends it to the durable
// trade stream. Both are fire-and-forget.
func (c *Closer) publishClose(ctx context.Context, pos domain.Position, trade domain.RealizedTrade) {
	if c.bus == nil {
		return
	}
	evt, err := json.Marshal(map[string]any{
		"event":        "position_closed",
		"position_id":  pos.ID,
		"symbol":       trade.Symbol,
		"side":         string(trade.Side),
		"entry_price":  trade.EntryPrice,
		"exit_price":   trade.ExitPrice,
		"quantity":     trade.Quantity,
		"pnl":          trade.PnL,
		"pnl_pct":      trade.PnLPct,
		"exit_reason":  trade.ExitReason,
		"held_seconds": trade.Duration().Seconds(),
	})
	if err != nil {
		return
	}
	if pubErr := c.bus.Publish(ctx, "positions", evt); pubErr != nil {
		c.logger.Warn("publish close event failed", slog.String("error", pubErr.Error()))
	}
	if streamErr := c.bus.StreamAppend(ctx, "trades", evt); streamErr != nil {
		c.logger.Warn("trade stream append failed", slog.String("error", streamErr.Error()))
	}
}
