// Package sim implements a paper-trading domain.Venue. Orders fill instantly
// at the cached mark price with configurable slippage; no capital leaves the
// process.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Config tunes the simulated fill model.
type Config struct {
	// StartingBalance is the paper wallet balance in USDT.
	StartingBalance float64
	// SlippageBps is the adverse price movement applied to every market
	// fill, in basis points.
	SlippageBps float64
	// SpreadBps is the synthetic bid/ask spread around the mark price.
	SpreadBps float64
}

type stopOrder struct {
	symbol   string
	side     domain.OrderSide
	quantity float64
	trigger  float64
}

// Venue is an in-memory venue backed by the shared price cache. It mirrors
// the live venue closely enough that the engine cannot tell them apart: stop
// orders trigger against the cached price, and a triggered stop leaves the
// symbol flat so the monitor's external-closure detection fires exactly as it
// would in production.
type Venue struct {
	prices domain.PriceCache
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]float64 // signed quantity per symbol
	leverage  map[string]int
	stops     map[string]stopOrder
	nextID    int64
}

// New creates a paper venue reading prices from the given cache.
func New(prices domain.PriceCache, cfg Config, logger *slog.Logger) *Venue {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 10_000
	}
	return &Venue{
		prices:    prices,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sim")),
		positions: make(map[string]float64),
		leverage:  make(map[string]int),
		stops:     make(map[string]stopOrder),
	}
}

// GetPrice returns the cached mark price for the symbol.
func (v *Venue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	price, _, err := v.prices.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("sim: price %s: %w", symbol, err)
	}
	return price, nil
}

// GetBookTop synthesizes a book from the mark price and the configured spread.
func (v *Venue) GetBookTop(ctx context.Context, symbol string) (domain.BookTop, error) {
	price, err := v.GetPrice(ctx, symbol)
	if err != nil {
		return domain.BookTop{}, err
	}
	half := price * v.cfg.SpreadBps / 10_000 / 2
	return domain.BookTop{Bid: price - half, Ask: price + half}, nil
}

// PlaceMarketOrder fills immediately at the mark price moved against the
// taker by the configured slippage.
func (v *Venue) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (domain.OrderAck, error) {
	price, err := v.GetPrice(ctx, symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}

	slip := price * v.cfg.SlippageBps / 10_000
	fill := price + slip
	if side == domain.OrderSideSell {
		fill = price - slip
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	delta := quantity
	if side == domain.OrderSideSell {
		delta = -quantity
	}
	v.positions[symbol] += delta
	// Reduce-only orders never flip the position through zero.
	if reduceOnly && samePositionSign(v.positions[symbol], delta) {
		v.positions[symbol] = 0
	}

	v.nextID++
	id := "sim-" + strconv.FormatInt(v.nextID, 10)
	v.logger.Debug("paper fill",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("quantity", quantity),
		slog.Float64("fill_price", fill),
	)
	return domain.OrderAck{
		OrderID:      id,
		AvgFillPrice: fill,
		Fills:        []domain.Fill{{Price: fill, Quantity: quantity}},
	}, nil
}

// samePositionSign reports whether a reduce-only fill overshot: the residual
// position points the same way as the closing delta.
func samePositionSign(residual, delta float64) bool {
	return (residual > 0 && delta > 0) || (residual < 0 && delta < 0)
}

// PlaceStopOrder records a trigger that fires lazily when GetPosition next
// observes the mark price beyond it.
func (v *Venue) PlaceStopOrder(_ context.Context, symbol string, side domain.OrderSide, quantity, triggerPrice float64, _ bool) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	id := "sim-stop-" + strconv.FormatInt(v.nextID, 10)
	v.stops[id] = stopOrder{
		symbol:   symbol,
		side:     side,
		quantity: quantity,
		trigger:  triggerPrice,
	}
	return domain.OrderAck{OrderID: id}, nil
}

// CancelOrder removes a pending stop. Unknown ids are a no-op, matching the
// live venue's behavior for already-filled orders closely enough for the
// closer's best-effort cancel.
func (v *Venue) CancelOrder(_ context.Context, _, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.stops, orderID)
	return nil
}

// GetPosition returns the simulated position, first firing any stop whose
// trigger the current mark price has crossed.
func (v *Venue) GetPosition(ctx context.Context, symbol string) (domain.VenuePosition, error) {
	price, _, err := v.prices.GetPrice(ctx, symbol)
	if err != nil {
		price = 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if price > 0 {
		v.fireTriggeredStopsLocked(symbol, price)
	}
	return domain.VenuePosition{Symbol: symbol, Quantity: v.positions[symbol]}, nil
}

// fireTriggeredStopsLocked simulates venue-side stop execution: a sell stop
// fires when price drops to its trigger, a buy stop when price rises to it.
func (v *Venue) fireTriggeredStopsLocked(symbol string, price float64) {
	for id, stop := range v.stops {
		if stop.symbol != symbol {
			continue
		}
		triggered := (stop.side == domain.OrderSideSell && price <= stop.trigger) ||
			(stop.side == domain.OrderSideBuy && price >= stop.trigger)
		if !triggered {
			continue
		}

		delta := stop.quantity
		if stop.side == domain.OrderSideSell {
			delta = -stop.quantity
		}
		v.positions[symbol] += delta
		if samePositionSign(v.positions[symbol], delta) {
			v.positions[symbol] = 0
		}
		delete(v.stops, id)
		v.logger.Info("paper stop triggered",
			slog.String("symbol", symbol),
			slog.String("order_id", id),
			slog.Float64("trigger", stop.trigger),
			slog.Float64("price", price),
		)
	}
}

// GetBalance returns the configured paper balance. Realized PnL accounting
// lives in the engine's portfolio, not here.
func (v *Venue) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{
		Total:     v.cfg.StartingBalance,
		Available: v.cfg.StartingBalance,
	}, nil
}

// SetLeverage records the requested leverage.
func (v *Venue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)
