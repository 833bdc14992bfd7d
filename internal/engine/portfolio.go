package engine

import (
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Portfolio owns the process-wide position state: the id index, the symbol
// index that enforces at-most-one-open-position-per-symbol, and the running
// counters. The two maps are created and destroyed together under one lock;
// a position never exists in one without the other.
type Portfolio struct {
	mu       sync.Mutex
	byID     map[string]*domain.Position
	bySymbol map[string]string
	closing  map[string]bool

	totalTrades   int
	winningTrades int
	totalPnL      float64
	dailyPnL      float64
	dailyDate     string

	now func() time.Time
}

// NewPortfolio returns an empty Portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{
		byID:     make(map[string]*domain.Position),
		bySymbol: make(map[string]string),
		closing:  make(map[string]bool),
		now:      time.Now,
	}
}

// Insert adds a freshly opened position to both indexes atomically and counts
// the trade. It fails when the symbol already has an open position or the id
// is taken.
func (p *Portfolio) Insert(pos *domain.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.bySymbol[pos.Symbol]; ok {
		return domain.ErrSymbolOpen
	}
	if _, ok := p.byID[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	p.byID[pos.ID] = pos
	p.bySymbol[pos.Symbol] = pos.ID
	p.totalTrades++
	return nil
}

// HasSymbol reports whether the symbol currently has an open position.
func (p *Portfolio) HasSymbol(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.bySymbol[symbol]
	return ok
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// OpenIDs returns the ids of all open positions.
func (p *Portfolio) OpenIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a copy of the position with the given id.
func (p *Portfolio) Get(id string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Update applies fn to the position under the portfolio lock and returns a
// copy of the updated position. Mutations on the same position are mutually
// exclusive; ticks for different symbols serialize only for the duration of fn.
func (p *Portfolio) Update(id string, fn func(*domain.Position)) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	fn(pos)
	return *pos, true
}

// Snapshot returns value copies of every open position.
func (p *Portfolio) Snapshot() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, len(p.byID))
	for _, pos := range p.byID {
		out = append(out, *pos)
	}
	return out
}

// BeginClose claims a position for closing. It returns false when the id is
// unknown or a close is already in flight, which makes double-closing a
// structural impossibility rather than a timing accident.
func (p *Portfolio) BeginClose(id string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.byID[id]
	if !ok || p.closing[id] {
		return domain.Position{}, false
	}
	p.closing[id] = true
	return *pos, true
}

// AbortClose releases a close claim so the monitor can retry on a later tick.
func (p *Portfolio) AbortClose(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.closing, id)
}

// CompleteClose finalizes a claimed close: it stamps the terminal fields,
// removes the position from both indexes atomically, and updates the running
// counters. The returned copy carries the terminal state.
func (p *Portfolio) CompleteClose(id string, exitPrice, realizedPnL float64, exitTime time.Time, reason string) (domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.byID[id]
	if !ok {
		delete(p.closing, id)
		return domain.Position{}, domain.ErrNotFound
	}

	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = exitPrice
	pos.ExitTime = exitTime
	pos.RealizedPnL = realizedPnL
	pos.ExitReason = reason

	delete(p.byID, id)
	delete(p.bySymbol, pos.Symbol)
	delete(p.closing, id)

	p.rollDayLocked()
	if realizedPnL > 0 {
		p.winningTrades++
	}
	p.totalPnL += realizedPnL
	p.dailyPnL += realizedPnL

	return *pos, nil
}

// Counters returns the running totals, resetting the daily PnL when the
// local day has rolled over since the last accumulation.
func (p *Portfolio) Counters() (totalTrades, winningTrades int, totalPnL, dailyPnL float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()
	return p.totalTrades, p.winningTrades, p.totalPnL, p.dailyPnL
}

func (p *Portfolio) rollDayLocked() {
	day := p.now().Local().Format("2006-01-02")
	if p.dailyDate != day {
		p.dailyDate = day
		p.dailyPnL = 0
	}
}
