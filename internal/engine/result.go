package engine

import "github.com/alanyoungcy/perpbot/internal/domain"

// Rejection reasons: the signal was never eligible.
const (
	ReasonMissingFields = "missing_fields"
	ReasonNotTradable   = "not_tradable"
	ReasonNotRealData   = "not_real_data"
	ReasonLowConfidence = "low_confidence"
)

// Skip reasons: the signal was eligible but cannot be actioned right now.
const (
	ReasonStaleSignal  = "stale_signal"
	ReasonSymbolExists = "symbol_exists"
	ReasonMaxPositions = "max_positions"
	ReasonMinNotional  = "min_notional"
	ReasonPriceDrift   = "price_drift"
)

// OutcomeKind classifies the result of an open attempt.
type OutcomeKind int

const (
	OutcomeOpened OutcomeKind = iota
	OutcomeRejected
	OutcomeSkipped
	OutcomeFailed
)

// OpenOutcome is the explicit result of offering a signal to the opener.
// Exactly one of Position, Reason, or Err is meaningful depending on Kind.
type OpenOutcome struct {
	Kind     OutcomeKind
	Position *domain.Position
	Reason   string
	Err      error
}

func opened(pos *domain.Position) OpenOutcome {
	return OpenOutcome{Kind: OutcomeOpened, Position: pos}
}

func skipped(reason string) OpenOutcome {
	return OpenOutcome{Kind: OutcomeSkipped, Reason: reason}
}

func failed(err error) OpenOutcome {
	return OpenOutcome{Kind: OutcomeFailed, Err: err}
}
