// Package store persists completed trades to SQLite so backtest runs and
// live sessions can be compared after the fact.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Trade is one completed round trip: entry fill through exit fill or
// settlement.
type Trade struct {
	ID              int64
	RunID           string
	Ticker          string
	Sport           string
	Quantity        int
	EntryPriceCents int
	EntryFeeCents   int
	ExitPriceCents  int
	ExitFeeCents    int
	ExitKind        string // maker, forced_taker, settlement
	ProfitCents     int
	EnteredAt       time.Time
	ExitedAt        time.Time
}

// Summary aggregates a run's trades.
type Summary struct {
	Trades      int
	Wins        int
	ProfitCents int
	FeesCents   int
	ForcedExits int
}

// TradeStore writes and reads trades from a SQLite database.
type TradeStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*TradeStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trade db: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	ticker TEXT NOT NULL,
	sport TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	entry_price_cents INTEGER NOT NULL,
	entry_fee_cents INTEGER NOT NULL,
	exit_price_cents INTEGER NOT NULL,
	exit_fee_cents INTEGER NOT NULL,
	exit_kind TEXT NOT NULL,
	profit_cents INTEGER NOT NULL,
	entered_at TIMESTAMP NOT NULL,
	exited_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create trades schema: %w", err)
	}
	return &TradeStore{db: db}, nil
}

func (s *TradeStore) Close() error { return s.db.Close() }

// SaveTrade inserts one completed trade and returns its row id.
func (s *TradeStore) SaveTrade(ctx context.Context, t Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO trades (run_id, ticker, sport, quantity, entry_price_cents,
	entry_fee_cents, exit_price_cents, exit_fee_cents, exit_kind,
	profit_cents, entered_at, exited_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Ticker, t.Sport, t.Quantity, t.EntryPriceCents,
		t.EntryFeeCents, t.ExitPriceCents, t.ExitFeeCents, t.ExitKind,
		t.ProfitCents, t.EnteredAt.UTC(), t.ExitedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("save trade %s: %w", t.Ticker, err)
	}
	return res.LastInsertId()
}

// TradesForRun returns a run's trades in entry order.
func (s *TradeStore) TradesForRun(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, ticker, sport, quantity, entry_price_cents,
	entry_fee_cents, exit_price_cents, exit_fee_cents, exit_kind,
	profit_cents, entered_at, exited_at
FROM trades WHERE run_id = ? ORDER BY entered_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.RunID, &t.Ticker, &t.Sport, &t.Quantity,
			&t.EntryPriceCents, &t.EntryFeeCents, &t.ExitPriceCents,
			&t.ExitFeeCents, &t.ExitKind, &t.ProfitCents,
			&t.EnteredAt, &t.ExitedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SummaryForRun aggregates profit, fees, and exit mix for a run.
func (s *TradeStore) SummaryForRun(ctx context.Context, runID string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN profit_cents > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(profit_cents), 0),
	COALESCE(SUM(entry_fee_cents + exit_fee_cents), 0),
	COALESCE(SUM(CASE WHEN exit_kind = 'forced_taker' THEN 1 ELSE 0 END), 0)
FROM trades WHERE run_id = ?`, runID)

	var sum Summary
	if err := row.Scan(&sum.Trades, &sum.Wins, &sum.ProfitCents, &sum.FeesCents, &sum.ForcedExits); err != nil {
		return Summary{}, err
	}
	return sum, nil
}
