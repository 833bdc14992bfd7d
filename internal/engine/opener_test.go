package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func newTestOpener(venue *fakeVenue, set Settings) (*Opener, *Portfolio, *Stats) {
	portfolio := NewPortfolio()
	stats := NewStats()
	return NewOpener(venue, portfolio, stats, set, testLogger()), portfolio, stats
}

func TestOpenHappyPath(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	venue.setPrice("BTCUSDT", 50000)
	opener, portfolio, stats := newTestOpener(venue, testSettings())

	out := opener.Open(context.Background(), validSignal("BTCUSDT", domain.SideLong, 50000))
	require.Equal(t, OutcomeOpened, out.Kind)
	require.NotNil(t, out.Position)

	pos := *out.Position
	assert.Greater(t, pos.EntryPrice, 0.0)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.InDelta(t, 0.02, pos.Quantity, 1e-9) // 1000 notional / 50000, step 0.001
	assert.Greater(t, pos.TakeProfitPrice, pos.EntryPrice)
	assert.Less(t, pos.StopLossPrice, pos.EntryPrice)
	assert.Equal(t, testSettings().FloorStart, pos.TrailingFloor)
	assert.False(t, pos.FloorActivated)

	assert.True(t, portfolio.HasSymbol("BTCUSDT"))
	assert.Equal(t, 1, portfolio.OpenCount())
	assert.Equal(t, 1, stats.Snapshot().Successes)

	// Entry order plus a protective reduce-only stop.
	require.Len(t, venue.marketOrders, 1)
	assert.Equal(t, domain.OrderSideBuy, venue.marketOrders[0].side)
	assert.False(t, venue.marketOrders[0].reduceOnly)
	require.Len(t, venue.stopOrders, 1)
	assert.True(t, venue.stopOrders[0].reduceOnly)
	assert.Equal(t, domain.OrderSideSell, venue.stopOrders[0].side)
	assert.Equal(t, "stop-1", pos.StopOrderID)
}

func TestOpenShortRiskLevels(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	venue.setPrice("ETHUSDT", 2000)
	opener, _, _ := newTestOpener(venue, testSettings())

	out := opener.Open(context.Background(), validSignal("ETHUSDT", domain.SideShort, 2000))
	require.Equal(t, OutcomeOpened, out.Kind)

	pos := *out.Position
	assert.Less(t, pos.TakeProfitPrice, pos.EntryPrice)
	assert.Greater(t, pos.StopLossPrice, pos.EntryPrice)
}

func TestOpenSkipReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(set *Settings, venue *fakeVenue, portfolio *Portfolio)
		mutate func(sig *domain.Signal)
		reason string
	}{
		{
			name:   "stale_signal",
			setup:  func(*Settings, *fakeVenue, *Portfolio) {},
			mutate: func(sig *domain.Signal) { sig.Timestamp = time.Now().Add(-5 * time.Minute).Unix() },
			reason: ReasonStaleSignal,
		},
		{
			name: "symbol_exists",
			setup: func(set *Settings, _ *fakeVenue, portfolio *Portfolio) {
				openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, *set)
			},
			mutate: func(*domain.Signal) {},
			reason: ReasonSymbolExists,
		},
		{
			name: "max_positions",
			setup: func(set *Settings, _ *fakeVenue, portfolio *Portfolio) {
				set.MaxPositions = 1
				openTestPosition(portfolio, "p1", "ETHUSDT", domain.SideLong, 2000, 0.5, *set)
			},
			mutate: func(*domain.Signal) {},
			reason: ReasonMaxPositions,
		},
		{
			name: "min_notional",
			setup: func(set *Settings, _ *fakeVenue, _ *Portfolio) {
				set.MinNotionalUSD = 5000 // stake 100 x lev 10 = 1000 notional
			},
			mutate: func(*domain.Signal) {},
			reason: ReasonMinNotional,
		},
		{
			name: "price_drift",
			setup: func(set *Settings, venue *fakeVenue, _ *Portfolio) {
				set.PriceDriftPct = 0.5
				venue.setPrice("BTCUSDT", 51000) // 2% away from signal entry
			},
			mutate: func(*domain.Signal) {},
			reason: ReasonPriceDrift,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			venue := newFakeVenue()
			venue.setPrice("BTCUSDT", 50000)
			set := testSettings()
			portfolio := NewPortfolio()
			stats := NewStats()
			tt.setup(&set, venue, portfolio)
			opener := NewOpener(venue, portfolio, stats, set, testLogger())

			sig := validSignal("BTCUSDT", domain.SideLong, 50000)
			tt.mutate(&sig)

			before := venue.marketOrderCount()
			out := opener.Open(context.Background(), sig)

			assert.Equal(t, OutcomeSkipped, out.Kind)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, before, venue.marketOrderCount(), "skips must not place orders")

			snap := stats.Snapshot()
			var total int
			for _, n := range snap.Skips {
				total += n
			}
			assert.Equal(t, 1, total)
			assert.Equal(t, 1, snap.Skips[tt.reason])
		})
	}
}

func TestFillPriceFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ack      domain.OrderAck
		setup    func(venue *fakeVenue)
		expected float64
	}{
		{
			name:     "avg_fill_price_first",
			ack:      domain.OrderAck{OrderID: "1", AvgFillPrice: 50010, Price: 50020},
			setup:    func(*fakeVenue) {},
			expected: 50010,
		},
		{
			name:     "order_price_second",
			ack:      domain.OrderAck{OrderID: "1", Price: 50020},
			setup:    func(*fakeVenue) {},
			expected: 50020,
		},
		{
			name: "weighted_fills_third",
			ack: domain.OrderAck{OrderID: "1", Fills: []domain.Fill{
				{Price: 50000, Quantity: 0.01},
				{Price: 50100, Quantity: 0.01},
			}},
			setup:    func(*fakeVenue) {},
			expected: 50050,
		},
		{
			name: "side_aware_book_fourth",
			ack:  domain.OrderAck{OrderID: "1"},
			setup: func(venue *fakeVenue) {
				venue.books["BTCUSDT"] = domain.BookTop{Bid: 49990, Ask: 50005}
			},
			expected: 50005, // long entry crosses the ask
		},
		{
			name: "ticker_fifth",
			ack:  domain.OrderAck{OrderID: "1"},
			setup: func(venue *fakeVenue) {
				venue.bookErr = errors.New("book unavailable")
				venue.setPrice("BTCUSDT", 50003)
			},
			expected: 50003,
		},
		{
			name: "signal_entry_last_resort",
			ack:  domain.OrderAck{OrderID: "1"},
			setup: func(venue *fakeVenue) {
				venue.bookErr = errors.New("book unavailable")
				venue.priceErr = errors.New("ticker unavailable")
			},
			expected: 50000,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			venue := newFakeVenue()
			tt.setup(venue)
			opener, _, _ := newTestOpener(venue, testSettings())

			sig := validSignal("BTCUSDT", domain.SideLong, 50000)
			got, err := opener.resolveFillPrice(context.Background(), sig, tt.ack)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
			assert.Greater(t, got, 0.0, "resolved fill price must never be zero")
		})
	}
}

func TestFillPriceAllSourcesDead(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	venue.bookErr = errors.New("down")
	venue.priceErr = errors.New("down")
	opener, portfolio, stats := newTestOpener(venue, testSettings())

	sig := validSignal("BTCUSDT", domain.SideLong, 50000)
	sig.EntryPrice = 0

	// The gate normally blocks a zero entry price; the opener must still
	// refuse to fabricate a position when offered one directly.
	out := opener.Open(context.Background(), sig)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrNoPrice)
	assert.Zero(t, portfolio.OpenCount(), "a zero-price position must never be created")
	assert.Equal(t, 1, stats.Snapshot().Errors)
}

func TestMinGapGuard(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	// Huge quantity makes the cap-per-unit distance collapse below the gap.
	set.StakeAmount = 100000
	set.TickSize = 0.5
	venue.setPrice("BTCUSDT", 50000)
	opener, _, _ := newTestOpener(venue, set)

	out := opener.Open(context.Background(), validSignal("BTCUSDT", domain.SideLong, 50000))
	require.Equal(t, OutcomeOpened, out.Kind)

	pos := *out.Position
	gap := pos.EntryPrice * 0.0002 // 10 > tick 0.5
	assert.GreaterOrEqual(t, pos.TakeProfitPrice, pos.EntryPrice+gap)
	assert.LessOrEqual(t, pos.StopLossPrice, pos.EntryPrice-gap)
}

func TestOpenEntryOrderFailure(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	venue.setPrice("BTCUSDT", 50000)
	venue.marketErr = errors.New("venue rejected")
	opener, portfolio, stats := newTestOpener(venue, testSettings())

	out := opener.Open(context.Background(), validSignal("BTCUSDT", domain.SideLong, 50000))
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Zero(t, portfolio.OpenCount())
	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.Errors)
	assert.Zero(t, snap.Successes)
}

func TestOpenStopOrderFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	venue.setPrice("BTCUSDT", 50000)
	venue.stopErr = errors.New("stop refused")
	opener, portfolio, _ := newTestOpener(venue, testSettings())

	out := opener.Open(context.Background(), validSignal("BTCUSDT", domain.SideLong, 50000))
	require.Equal(t, OutcomeOpened, out.Kind)
	assert.Empty(t, out.Position.StopOrderID)
	assert.Equal(t, 1, portfolio.OpenCount())
}

func TestRoundToStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		quantity float64
		step     float64
		expected float64
	}{
		{0.0237, 0.001, 0.023},
		{1.999, 0.01, 1.99},
		{5, 1, 5},
		{0.5, 0, 0.5}, // zero step leaves quantity untouched
	}
	for _, tt := range tests {
		tt := tt
		assert.InDelta(t, tt.expected, roundToStep(tt.quantity, tt.step), 1e-9)
	}
}
