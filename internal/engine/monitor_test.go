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

func newTestMonitor(venue *fakeVenue, set Settings) (*Monitor, *Portfolio, *fakeTradeStore) {
	portfolio := NewPortfolio()
	store := &fakeTradeStore{}
	closer := NewCloser(venue, portfolio, store, nil, nil, set, testLogger())
	return NewMonitor(venue, portfolio, closer, set, testLogger()), portfolio, store
}

// priceForProfit returns the mark price at which a long position opened at
// entry with the given quantity shows the target gross profit.
func priceForProfit(entry, quantity, profit float64) float64 {
	return entry + profit/quantity
}

func TestFloorRatchetsInWholeIncrements(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02

	// Peak profit of $37 from a $15 start: two full $10 steps fit, the
	// remaining $2 does not move the floor.
	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 37))
	monitor.Tick(context.Background())

	pos, ok := portfolio.Get("p1")
	require.True(t, ok, "position must survive a profitable tick")
	assert.InDelta(t, 37, pos.HighestProfitEver, 1e-9)
	assert.InDelta(t, 35, pos.TrailingFloor, 1e-9)
	assert.True(t, pos.FloorActivated)
	assert.InDelta(t, 37, pos.UnrealizedPnL, 1e-9)
}

func TestFloorNeverRetreats(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02

	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 37))
	monitor.Tick(context.Background())

	// Profit retreats but stays above the floor: the floor and peak hold.
	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 36))
	monitor.Tick(context.Background())

	pos, ok := portfolio.Get("p1")
	require.True(t, ok)
	assert.InDelta(t, 37, pos.HighestProfitEver, 1e-9)
	assert.InDelta(t, 35, pos.TrailingFloor, 1e-9)
}

func TestFloorClampedAtCap(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	set.CapDollars = 40
	monitor, portfolio, store := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02

	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 95))
	monitor.Tick(context.Background())

	// Profit beyond the cap closes the position at the cap reason; the
	// ratchet never pushed the floor past the cap first.
	assert.Zero(t, portfolio.OpenCount())
	trades := store.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, "tp_cap_hit", trades[0].ExitReason)
}

func TestCapTakesPrecedenceOverFloor(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, store := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02

	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 120))
	monitor.Tick(context.Background())

	assert.Zero(t, portfolio.OpenCount())
	trades := store.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, "tp_cap_hit", trades[0].ExitReason)
}

func TestTrailingFloorClose(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, store := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02
	ctx := context.Background()

	// Below the activation threshold: nothing trails yet.
	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 12))
	monitor.Tick(ctx)
	pos, ok := portfolio.Get("p1")
	require.True(t, ok)
	assert.False(t, pos.FloorActivated)
	assert.InDelta(t, set.FloorStart, pos.TrailingFloor, 1e-9)

	// Peak at $37 ratchets the floor to $35 and activates trailing.
	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, 37))
	monitor.Tick(ctx)
	pos, ok = portfolio.Get("p1")
	require.True(t, ok)
	assert.True(t, pos.FloorActivated)
	assert.InDelta(t, 35, pos.TrailingFloor, 1e-9)

	// Retreat to $34 breaches the $35 floor: close, locking the floor in.
	exitPrice := priceForProfit(50000, 0.02, 34)
	venue.setPrice("BTCUSDT", exitPrice)
	monitor.Tick(ctx)

	assert.Zero(t, portfolio.OpenCount())
	require.Len(t, venue.marketOrders, 1)
	assert.True(t, venue.marketOrders[0].reduceOnly)
	assert.Equal(t, domain.OrderSideSell, venue.marketOrders[0].side)

	trades := store.recorded()
	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, "trailing_floor_$35_hit", trade.ExitReason)
	assert.InDelta(t, exitPrice, trade.ExitPrice, 1e-9)
	fees := set.TakerFeeRate * (50000*0.02 + exitPrice*0.02)
	assert.InDelta(t, 34-fees, trade.PnL, 1e-9)
}

func TestNoCloseBeforeActivation(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	set.CloseGrace = time.Hour // keep the external-closure branch quiet
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.venuePositions["BTCUSDT"] = 0.02
	ctx := context.Background()

	// A losing position with no activated floor stays open; the stop-loss
	// order on the venue is its protection.
	venue.setPrice("BTCUSDT", priceForProfit(50000, 0.02, -20))
	monitor.Tick(ctx)

	pos, ok := portfolio.Get("p1")
	require.True(t, ok)
	assert.False(t, pos.FloorActivated)
	assert.InDelta(t, -20, pos.UnrealizedPnL, 1e-9)
	assert.Zero(t, venue.marketOrderCount())
}

func TestPriceFailureSkipsTick(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.priceErr = errors.New("feed down")

	monitor.Tick(context.Background())

	pos, ok := portfolio.Get("p1")
	require.True(t, ok, "price failures never close a position")
	assert.InDelta(t, 50000, pos.CurrentPrice, 1e-9)
	assert.Zero(t, pos.HighestProfitEver)
	assert.Zero(t, venue.marketOrderCount())
}

func TestExternalClosureAfterGrace(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, store := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.setPrice("BTCUSDT", 50000)
	// The venue reports the symbol flat: its stop or TP already filled.
	venue.venuePositions["BTCUSDT"] = 0

	monitor.Tick(context.Background())

	assert.Zero(t, portfolio.OpenCount())
	assert.Zero(t, venue.marketOrderCount(), "external closure must not place another order")
	trades := store.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, "closed_externally", trades[0].ExitReason)
}

func TestNoExternalClosureWithinGrace(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	set.CloseGrace = 5 * time.Minute // position is one minute old
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "BTCUSDT", domain.SideLong, 50000, 0.02, set)
	venue.setPrice("BTCUSDT", 50000)
	venue.venuePositions["BTCUSDT"] = 0

	monitor.Tick(context.Background())

	assert.Equal(t, 1, portfolio.OpenCount(),
		"a just-opened position may not be visible on the venue yet")
}

func TestShortPositionTrailing(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	set := testSettings()
	monitor, portfolio, _ := newTestMonitor(venue, set)

	openTestPosition(portfolio, "p1", "ETHUSDT", domain.SideShort, 2000, 0.5, set)
	venue.venuePositions["ETHUSDT"] = -0.5

	// Short profit grows as price falls: $37 profit at 2000 - 37/0.5.
	venue.setPrice("ETHUSDT", 2000-37/0.5)
	monitor.Tick(context.Background())

	pos, ok := portfolio.Get("p1")
	require.True(t, ok)
	assert.InDelta(t, 37, pos.HighestProfitEver, 1e-9)
	assert.InDelta(t, 35, pos.TrailingFloor, 1e-9)
	assert.True(t, pos.FloorActivated)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	venue := newFakeVenue()
	monitor, _, _ := newTestMonitor(venue, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
