package engine

import (
	"sync"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Stats tallies signal-processing outcomes by reason. It is safe for
// concurrent use; every rejected or skipped signal increments exactly one
// counter.
type Stats struct {
	mu         sync.Mutex
	rejections map[string]int
	skips      map[string]int
	successes  int
	errors     int
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{
		rejections: make(map[string]int),
		skips:      make(map[string]int),
	}
}

// Rejection counts a signal that was never eligible.
func (s *Stats) Rejection(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[reason]++
}

// Skip counts an eligible signal that could not be actioned now.
func (s *Stats) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips[reason]++
}

// Success counts a successfully opened position.
func (s *Stats) Success() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
}

// Error counts a hard open failure.
func (s *Stats) Error() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() domain.DecisionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := domain.DecisionStats{
		Rejections: make(map[string]int, len(s.rejections)),
		Skips:      make(map[string]int, len(s.skips)),
		Successes:  s.successes,
		Errors:     s.errors,
	}
	for k, v := range s.rejections {
		out.Rejections[k] = v
	}
	for k, v := range s.skips {
		out.Skips[k] = v
	}
	return out
}
