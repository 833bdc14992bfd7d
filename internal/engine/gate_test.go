package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestGateAccept(t *testing.T) {
	t.Parallel()

	base := domain.Signal{
		Symbol:     "BTCUSDT",
		Direction:  domain.SideLong,
		EntryPrice: 50000,
		Confidence: 0.8,
		Timestamp:  time.Now().Unix(),
	}

	tests := []struct {
		name     string
		mutate   func(*domain.Signal)
		accepted bool
		reason   string
	}{
		{
			name:     "valid_signal",
			mutate:   func(*domain.Signal) {},
			accepted: true,
		},
		{
			name:     "missing_symbol",
			mutate:   func(s *domain.Signal) { s.Symbol = "" },
			accepted: false,
			reason:   ReasonMissingFields,
		},
		{
			name:     "missing_entry_price",
			mutate:   func(s *domain.Signal) { s.EntryPrice = 0 },
			accepted: false,
			reason:   ReasonMissingFields,
		},
		{
			name:     "missing_direction",
			mutate:   func(s *domain.Signal) { s.Direction = "" },
			accepted: false,
			reason:   ReasonMissingFields,
		},
		{
			name:     "not_tradable",
			mutate:   func(s *domain.Signal) { s.Tradable = boolPtr(false) },
			accepted: false,
			reason:   ReasonNotTradable,
		},
		{
			name:     "explicitly_not_real_data",
			mutate:   func(s *domain.Signal) { s.RealData = boolPtr(false) },
			accepted: false,
			reason:   ReasonNotRealData,
		},
		{
			name:     "low_confidence",
			mutate:   func(s *domain.Signal) { s.Confidence = 0.3 },
			accepted: false,
			reason:   ReasonLowConfidence,
		},
		{
			name:     "tradable_defaults_true",
			mutate:   func(s *domain.Signal) { s.Tradable = nil },
			accepted: true,
		},
		{
			name:     "real_data_absent_passes",
			mutate:   func(s *domain.Signal) { s.RealData = nil },
			accepted: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stats := NewStats()
			gate := NewGate(0.5, stats, testLogger())

			sig := base
			tt.mutate(&sig)

			got := gate.Accept(sig)
			assert.Equal(t, tt.accepted, got)

			snap := stats.Snapshot()
			if tt.accepted {
				assert.Empty(t, snap.Rejections, "acceptance must not increment counters")
				return
			}

			var total int
			for _, n := range snap.Rejections {
				total += n
			}
			require.Equal(t, 1, total, "exactly one rejection counter per rejected signal")
			assert.Equal(t, 1, snap.Rejections[tt.reason])
		})
	}
}

func TestGateShortCircuit(t *testing.T) {
	t.Parallel()

	stats := NewStats()
	gate := NewGate(0.5, stats, testLogger())

	// Missing entry price AND zero confidence AND not tradable: only the
	// first failing check may count.
	sig := domain.Signal{
		Symbol:     "BTCUSDT",
		Direction:  domain.SideLong,
		EntryPrice: 0,
		Confidence: 0,
		Tradable:   boolPtr(false),
	}
	assert.False(t, gate.Accept(sig))

	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.Rejections[ReasonMissingFields])
	assert.Zero(t, snap.Rejections[ReasonNotTradable])
	assert.Zero(t, snap.Rejections[ReasonLowConfidence])
}
