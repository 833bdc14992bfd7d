package domain

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide is the direction of a venue order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// EntryOrder returns the order side that opens a position in this direction.
func (s Side) EntryOrder() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrder returns the order side that closes a position in this direction.
func (s Side) ExitOrder() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Signal is a directional trading candidate produced by the external signal
// generator. It is immutable once received; optional flags use pointers so
// "absent" can be distinguished from an explicit false.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Direction  Side    `json:"direction"`
	EntryPrice float64 `json:"entry_price"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
	Confidence float64 `json:"confidence"`
	RiskReward float64 `json:"risk_reward"`
	Volatility float64 `json:"volatility"`
	// Timestamp is the generator-side creation time in epoch seconds.
	Timestamp int64 `json:"signal_timestamp"`
	// Tradable defaults to true when absent.
	Tradable *bool `json:"tradable,omitempty"`
	// RealData blocks execution only when explicitly false.
	RealData *bool `json:"is_real_data,omitempty"`
	// ExpectedProfit, when positive, overrides the derived expected profit
	// used for ranking.
	ExpectedProfit float64 `json:"expected_profit,omitempty"`
	Source         string  `json:"source,omitempty"`
}

// IsTradable reports whether the signal is flagged tradable (default true).
func (s Signal) IsTradable() bool {
	return s.Tradable == nil || *s.Tradable
}

// IsRealData reports whether the signal is backed by real market data.
// Only an explicit false blocks execution.
func (s Signal) IsRealData() bool {
	return s.RealData == nil || *s.RealData
}

// Age returns how old the signal is relative to now.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.Timestamp, 0))
}
