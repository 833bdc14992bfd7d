package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		StakeAmount:     100,
		Leverage:        10,
		SizingMode:      SizingMargin,
		MaxPositions:    3,
		MinConfidence:   0.5,
		MaxSignalAge:    90 * time.Second,
		MinNotionalUSD:  5,
		StepSize:        0.001,
		TickSize:        0.01,
		FloorStart:      15,
		FloorIncrement:  10,
		CapDollars:      100,
		StopLossPct:     2,
		TrailingBasis:   TrailingGross,
		TakerFeeRate:    0.0005,
		MonitorInterval: 10 * time.Millisecond,
		TickTimeout:     time.Second,
		CloseGrace:      10 * time.Second,
	}
}

func boolPtr(b bool) *bool { return &b }

type placedOrder struct {
	symbol     string
	side       domain.OrderSide
	quantity   float64
	reduceOnly bool
}

type stopOrder struct {
	symbol     string
	side       domain.OrderSide
	quantity   float64
	trigger    float64
	reduceOnly bool
}

// fakeVenue is an in-memory domain.Venue for engine tests with controllable
// prices, errors, and order acknowledgements.
type fakeVenue struct {
	mu sync.Mutex

	prices   map[string]float64
	priceErr error

	books   map[string]domain.BookTop
	bookErr error

	marketAck  domain.OrderAck
	marketErr  error
	stopAckSeq int
	stopErr    error

	marketOrders []placedOrder
	stopOrders   []stopOrder
	cancelled    []string
	cancelErr    error

	venuePositions map[string]float64
	venuePosErr    error

	balance    domain.Balance
	balanceErr error

	leverage map[string]int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		prices:         make(map[string]float64),
		books:          make(map[string]domain.BookTop),
		venuePositions: make(map[string]float64),
		balance:        domain.Balance{Total: 10_000, Available: 10_000},
		leverage:       make(map[string]int),
	}
}

func (v *fakeVenue) setPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

func (v *fakeVenue) marketOrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.marketOrders)
}

func (v *fakeVenue) GetPrice(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.priceErr != nil {
		return 0, v.priceErr
	}
	return v.prices[symbol], nil
}

func (v *fakeVenue) GetBookTop(_ context.Context, symbol string) (domain.BookTop, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bookErr != nil {
		return domain.BookTop{}, v.bookErr
	}
	return v.books[symbol], nil
}

func (v *fakeVenue) PlaceMarketOrder(_ context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.marketErr != nil {
		return domain.OrderAck{}, v.marketErr
	}
	v.marketOrders = append(v.marketOrders, placedOrder{symbol, side, quantity, reduceOnly})
	ack := v.marketAck
	if ack.OrderID == "" {
		ack.OrderID = "mkt-1"
	}
	if ack.AvgFillPrice == 0 && ack.Price == 0 && len(ack.Fills) == 0 {
		ack.AvgFillPrice = v.prices[symbol]
	}
	return ack, nil
}

func (v *fakeVenue) PlaceStopOrder(_ context.Context, symbol string, side domain.OrderSide, quantity, trigger float64, reduceOnly bool) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopErr != nil {
		return domain.OrderAck{}, v.stopErr
	}
	v.stopAckSeq++
	v.stopOrders = append(v.stopOrders, stopOrder{symbol, side, quantity, trigger, reduceOnly})
	return domain.OrderAck{OrderID: "stop-1"}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancelErr != nil {
		return v.cancelErr
	}
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) GetPosition(_ context.Context, symbol string) (domain.VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.venuePosErr != nil {
		return domain.VenuePosition{}, v.venuePosErr
	}
	return domain.VenuePosition{Symbol: symbol, Quantity: v.venuePositions[symbol]}, nil
}

func (v *fakeVenue) GetBalance(_ context.Context) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balanceErr != nil {
		return domain.Balance{}, v.balanceErr
	}
	return v.balance, nil
}

func (v *fakeVenue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}

// fakeTradeStore records inserted trades.
type fakeTradeStore struct {
	mu        sync.Mutex
	trades    []domain.RealizedTrade
	insertErr error
}

func (s *fakeTradeStore) Insert(_ context.Context, trade domain.RealizedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.trades = append(s.trades, trade)
	return nil
}

func (s *fakeTradeStore) ListRecent(_ context.Context, limit int) ([]domain.RealizedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.trades) {
		limit = len(s.trades)
	}
	return append([]domain.RealizedTrade(nil), s.trades[len(s.trades)-limit:]...), nil
}

func (s *fakeTradeStore) SumPnL(_ context.Context, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, t := range s.trades {
		if t.ExitTime.After(since) {
			sum += t.PnL
		}
	}
	return sum, nil
}

func (s *fakeTradeStore) recorded() []domain.RealizedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RealizedTrade(nil), s.trades...)
}

// openTestPosition inserts a position directly into the portfolio, bypassing
// the opener, for monitor and closer tests.
func openTestPosition(p *Portfolio, id, symbol string, side domain.Side, entry, quantity float64, set Settings) *domain.Position {
	pos := &domain.Position{
		ID:            id,
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    entry,
		Quantity:      quantity,
		StakeAmount:   set.StakeAmount,
		Leverage:      set.Leverage,
		TrailingFloor: set.FloorStart,
		CurrentPrice:  entry,
		EntryTime:     time.Now().Add(-time.Minute),
		Status:        domain.PositionStatusOpen,
	}
	if err := p.Insert(pos); err != nil {
		panic(err)
	}
	return pos
}

func validSignal(symbol string, side domain.Side, entry float64) domain.Signal {
	tp := entry * 1.02
	sl := entry * 0.98
	if side == domain.SideShort {
		tp = entry * 0.98
		sl = entry * 1.02
	}
	return domain.Signal{
		Symbol:     symbol,
		Direction:  side,
		EntryPrice: entry,
		TakeProfit: tp,
		StopLoss:   sl,
		Confidence: 0.8,
		RiskReward: 2,
		Volatility: 1,
		Timestamp:  time.Now().Unix(),
	}
}
