package engine

import (
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Gate is the stateless eligibility filter applied to every incoming signal
// before any capital-aware decision. It never touches positions; it only
// decides whether a signal may be considered at all.
type Gate struct {
	minConfidence float64
	stats         *Stats
	logger        *slog.Logger
}

// NewGate creates a Gate with the configured minimum confidence.
func NewGate(minConfidence float64, stats *Stats, logger *slog.Logger) *Gate {
	return &Gate{
		minConfidence: minConfidence,
		stats:         stats,
		logger:        logger.With(slog.String("component", "gate")),
	}
}

// Accept returns true when the signal passes every eligibility check. The
// checks run in order and the first failure wins: exactly one rejection
// counter is incremented per rejected signal, none on acceptance.
func (g *Gate) Accept(sig domain.Signal) bool {
	if sig.Symbol == "" || sig.EntryPrice == 0 || sig.Direction == "" {
		g.reject(sig, ReasonMissingFields,
			slog.Float64("entry_price", sig.EntryPrice),
			slog.String("direction", string(sig.Direction)),
		)
		return false
	}

	if !sig.IsTradable() {
		g.reject(sig, ReasonNotTradable)
		return false
	}

	if !sig.IsRealData() {
		g.reject(sig, ReasonNotRealData)
		return false
	}

	if sig.Confidence < g.minConfidence {
		g.reject(sig, ReasonLowConfidence,
			slog.Float64("confidence", sig.Confidence),
			slog.Float64("min_confidence", g.minConfidence),
		)
		return false
	}

	return true
}

func (g *Gate) reject(sig domain.Signal, reason string, attrs ...any) {
	g.stats.Rejection(reason)
	args := append([]any{
		slog.String("symbol", sig.Symbol),
		slog.String("reason", reason),
	}, attrs...)
	g.logger.Debug("signal rejected", args...)
}
