package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, entry_price, exit_price, quantity,
	pnl, pnl_pct, entry_time, exit_time, exit_reason`

func scanTradeRows(rows pgx.Rows) ([]domain.RealizedTrade, error) {
	var trades []domain.RealizedTrade
	for rows.Next() {
		var t domain.RealizedTrade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.PnL, &t.PnLPct, &t.EntryTime, &t.ExitTime,
			&t.ExitReason,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert persists a realized trade.
func (s *TradeStore) Insert(ctx context.Context, trade domain.RealizedTrade) error {
	const q = `
		INSERT INTO realized_trades (
			symbol, side, entry_price, exit_price, quantity,
			pnl, pnl_pct, entry_time, exit_time, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := s.pool.Exec(ctx, q,
		trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.PnL, trade.PnLPct, trade.EntryTime,
		trade.ExitTime, trade.ExitReason,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.Symbol, err)
	}
	return nil
}

// ListRecent returns the most recently closed trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.RealizedTrade, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM realized_trades
		ORDER BY exit_time DESC
		LIMIT $1`, tradeSelectCols)

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// SumPnL returns the total realized PnL of trades closed at or after since.
func (s *TradeStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	const q = `
		SELECT COALESCE(SUM(pnl), 0) FROM realized_trades
		WHERE exit_time >= $1`

	var total float64
	if err := s.pool.QueryRow(ctx, q, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
