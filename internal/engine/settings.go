package engine

import "time"

// SizingMode selects how the order notional is derived from the stake.
type SizingMode string

const (
	// SizingMargin treats the stake as margin: notional = stake * leverage.
	SizingMargin SizingMode = "margin"
	// SizingNotional treats the stake as the notional itself.
	SizingNotional SizingMode = "notional"
)

// TrailingBasis selects the PnL figure fed to the trailing-floor logic.
type TrailingBasis string

const (
	TrailingGross TrailingBasis = "gross"
	TrailingNet   TrailingBasis = "net"
)

// Settings holds every tunable the engine needs. All thresholds are
// deployment configuration, never hardcoded in the components.
type Settings struct {
	StakeAmount float64
	Leverage    float64
	SizingMode  SizingMode

	MaxPositions   int
	MinConfidence  float64
	MaxSignalAge   time.Duration
	MinNotionalUSD float64
	// PriceDriftPct rejects opens when the live price drifted more than this
	// percentage from the signal entry price. Zero disables the guard.
	PriceDriftPct float64

	// StepSize and TickSize are venue defaults; SymbolSteps / SymbolTicks
	// override them per symbol.
	StepSize    float64
	TickSize    float64
	SymbolSteps map[string]float64
	SymbolTicks map[string]float64

	// Pure 3-rule risk parameters: fixed-dollar cap, discrete trailing floor,
	// percentage stop-loss.
	FloorStart     float64
	FloorIncrement float64
	CapDollars     float64
	StopLossPct    float64

	TrailingBasis TrailingBasis
	TakerFeeRate  float64

	MonitorInterval time.Duration
	TickTimeout     time.Duration
	CloseGrace      time.Duration
}

func (s Settings) stepFor(symbol string) float64 {
	if v, ok := s.SymbolSteps[symbol]; ok && v > 0 {
		return v
	}
	return s.StepSize
}

func (s Settings) tickFor(symbol string) float64 {
	if v, ok := s.SymbolTicks[symbol]; ok && v > 0 {
		return v
	}
	return s.TickSize
}

// notional returns the order notional for the configured sizing mode.
func (s Settings) notional() float64 {
	if s.SizingMode == SizingNotional {
		return s.StakeAmount
	}
	return s.StakeAmount * s.Leverage
}
