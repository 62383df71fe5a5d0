package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteSink persists cycle history locally. The dashboard reads this file;
// the engine only ever appends.
type SQLiteSink struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle             INTEGER PRIMARY KEY,
	timestamp         TEXT NOT NULL,
	total_value       REAL NOT NULL,
	cash_value        REAL NOT NULL,
	allocations       TEXT NOT NULL,
	trades_executed   INTEGER NOT NULL,
	usd_spent         REAL NOT NULL,
	usd_gained        REAL NOT NULL,
	cycle_profit      REAL NOT NULL,
	cumulative_profit REAL NOT NULL,
	total_return_pct  REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	correlation_id TEXT PRIMARY KEY,
	cycle          INTEGER NOT NULL,
	kind           TEXT NOT NULL,
	from_symbol    TEXT NOT NULL,
	to_symbol      TEXT NOT NULL,
	from_amount    REAL NOT NULL,
	to_amount      REAL NOT NULL,
	value_usd      REAL NOT NULL,
	success        INTEGER NOT NULL,
	reason         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_cycle ON trades(cycle);
`

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Emit(rec Record) error {
	alloc, err := json.Marshal(rec.Allocations)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO cycles
		 (cycle, timestamp, total_value, cash_value, allocations, trades_executed,
		  usd_spent, usd_gained, cycle_profit, cumulative_profit, total_return_pct)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Cycle, rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		rec.TotalValue, rec.CashValue, string(alloc), rec.TradesExecuted,
		rec.USDSpent, rec.USDGained, rec.CycleProfit, rec.CumulativeProfit,
		rec.TotalReturnPct,
	); err != nil {
		return err
	}

	for _, t := range rec.Trades {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO trades
			 (correlation_id, cycle, kind, from_symbol, to_symbol, from_amount,
			  to_amount, value_usd, success, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.CorrelationID, rec.Cycle, t.Kind, t.FromSymbol, t.ToSymbol,
			t.FromAmount, t.ToAmount, t.ValueUSD, boolToInt(t.Success), t.Reason,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
