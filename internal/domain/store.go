package domain

import (
	"context"
	"time"
)

// TradeStore is the fire-and-forget persistence sink for realized trades.
type TradeStore interface {
	Insert(ctx context.Context, trade RealizedTrade) error
	ListRecent(ctx context.Context, limit int) ([]RealizedTrade, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}
