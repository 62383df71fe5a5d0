// Package report carries the per-cycle record out of the engine: to the
// structured log, to an append-only JSONL file, and optionally to a local
// sqlite history database that dashboards read.
package report

import (
	"time"
)

// Trade is one executed (or attempted) trade within a cycle.
type Trade struct {
	CorrelationID string  `json:"correlation_id"`
	Kind          string  `json:"kind"`
	FromSymbol    string  `json:"from_symbol"`
	ToSymbol      string  `json:"to_symbol"`
	FromAmount    float64 `json:"from_amount"`
	ToAmount      float64 `json:"to_amount"`
	ValueUSD      float64 `json:"value_usd"`
	Success       bool    `json:"success"`
	Reason        string  `json:"reason"`
}

// Record is the once-per-cycle report the orchestrator emits.
type Record struct {
	Cycle            int64              `json:"cycle"`
	Timestamp        time.Time          `json:"timestamp"`
	TotalValue       float64            `json:"total_value"`
	CashValue        float64            `json:"cash_value"`
	Allocations      map[string]float64 `json:"allocations"`
	Trades           []Trade            `json:"trades"`
	TradesExecuted   int                `json:"trades_executed"`
	USDSpent         float64            `json:"usd_spent"`
	USDGained        float64            `json:"usd_gained"`
	CycleProfit      float64            `json:"cycle_profit"`
	CumulativeProfit float64            `json:"cumulative_profit"`
	TotalReturnPct   float64            `json:"total_return_pct"`
}

// Sink consumes cycle records. Sinks must not fail the cycle: the engine
// logs sink errors and moves on.
type Sink interface {
	Emit(rec Record) error
	Close() error
}

// Multi fans a record out to several sinks, returning the first error for
// logging while still delivering to the rest.
type Multi []Sink

func (m Multi) Emit(rec Record) error {
	var first error
	for _, s := range m {
		if err := s.Emit(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
