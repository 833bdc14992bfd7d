package domain

import "time"

// RealizedTrade is the persisted record of a closed position.
type RealizedTrade struct {
	ID         int64
	Symbol     string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	PnLPct     float64
	EntryTime  time.Time
	ExitTime   time.Time
	ExitReason string
}

// Duration returns how long the position was held.
func (t RealizedTrade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
