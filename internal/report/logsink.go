package report

import (
	"github.com/tradekit/portfolio-agent/internal/observ"
)

// LogSink writes the cycle record to the structured log and keeps the
// headline gauges current. Always on.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Emit(rec Record) error {
	observ.SetGauge("portfolio_total_value_usd", rec.TotalValue, nil)
	observ.SetGauge("portfolio_cash_value_usd", rec.CashValue, nil)
	observ.SetGauge("cumulative_profit_usd", rec.CumulativeProfit, nil)
	for sym, frac := range rec.Allocations {
		observ.SetGauge("allocation_fraction", frac, map[string]string{"symbol": sym})
	}

	observ.Log("cycle_report", map[string]any{
		"cycle":             rec.Cycle,
		"total_value":       rec.TotalValue,
		"cash_value":        rec.CashValue,
		"trades_executed":   rec.TradesExecuted,
		"usd_spent":         rec.USDSpent,
		"usd_gained":        rec.USDGained,
		"cycle_profit":      rec.CycleProfit,
		"cumulative_profit": rec.CumulativeProfit,
		"total_return_pct":  rec.TotalReturnPct,
	})
	return nil
}

func (s *LogSink) Close() error { return nil }
