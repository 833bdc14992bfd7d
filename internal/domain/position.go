package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is a single perpetual-futures position tracked by the engine.
// While open it is owned exclusively by the position monitor; live fields are
// refreshed every monitor tick and may be stale between ticks.
type Position struct {
	ID     string
	Symbol string
	Side   Side

	EntryPrice  float64 // never zero for a successfully opened position
	Quantity    float64
	StakeAmount float64
	Leverage    float64

	TakeProfitPrice float64
	StopLossPrice   float64
	// StopOrderID is the venue id of the protective reduce-only stop order,
	// empty when none was placed.
	StopOrderID string

	// Trailing state. HighestProfitEver and TrailingFloor are monotonically
	// non-decreasing; FloorActivated transitions false -> true exactly once.
	HighestProfitEver float64
	TrailingFloor     float64
	FloorActivated    bool

	CurrentPrice     float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64

	EntryTime   time.Time
	Status      PositionStatus
	ExitPrice   float64
	ExitTime    time.Time
	RealizedPnL float64
	ExitReason  string
}

// Notional returns the dollar exposure of the position at entry.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// GrossPnL returns the unrealized gross profit at the given price.
func (p Position) GrossPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}
