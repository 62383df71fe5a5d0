// Package executor submits sized, validated intents through the resilience
// layer and reports structured outcomes. It owns the call-time quarantine
// recheck and the routing of failures into quarantine and breaker state.
package executor

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/recall"
	"github.com/tradekit/portfolio-agent/internal/resilience"
	"github.com/tradekit/portfolio-agent/internal/signal"
)

// Outcome is the result of one execution attempt. Always a value; the
// orchestrator decides what to log, quarantine or pause.
type Outcome struct {
	Intent        signal.Intent
	CorrelationID string
	Success       bool
	Skipped       bool // validation or feasibility said "do not trade"
	FromAmount    float64
	ToAmount      float64
	ValueUSD      float64
	ErrorClass    recall.ErrorClass
	Reason        string
}

type Config struct {
	Retry             resilience.RetryPolicy
	SlippageTolerance string
	DryRun            bool
}

type Executor struct {
	api     recall.API
	q       *resilience.Quarantine
	tracker *resilience.ErrorTracker
	cfg     Config
}

func New(api recall.API, q *resilience.Quarantine, tracker *resilience.ErrorTracker, cfg Config) *Executor {
	return &Executor{api: api, q: q, tracker: tracker, cfg: cfg}
}

// Execute runs one intent to completion. Quarantine is re-checked here:
// state may have moved since the intent was generated earlier in the same
// cycle.
func (e *Executor) Execute(ctx context.Context, intent signal.Intent) Outcome {
	out := Outcome{
		Intent:        intent,
		CorrelationID: uuid.NewString(),
	}

	if e.q.Active(intent.From.Symbol) || e.q.Active(intent.To.Symbol) {
		out.Skipped = true
		out.Reason = "quarantined"
		observ.IncCounter("trades_skipped_total", map[string]string{"reason": "quarantined"})
		return out
	}

	fromAmount := intent.Quantity
	if !intent.Sell() {
		// Buys spend the stable leg; its unit price is a dollar.
		fromAmount = intent.NotionalUSD
	}

	if ok, reason := e.feasible(ctx, intent, fromAmount); !ok {
		out.Skipped = true
		out.Reason = reason
		observ.IncCounter("trades_skipped_total", map[string]string{"reason": reason})
		return out
	}

	if e.cfg.DryRun {
		out.Success = true
		out.FromAmount = fromAmount
		out.ValueUSD = intent.NotionalUSD
		out.Reason = "dry_run"
		observ.IncCounter("trades_executed_total", map[string]string{"mode": "dry_run"})
		return out
	}

	var result *recall.TradeResult
	err := resilience.WithRetry(ctx, e.cfg.Retry, "trade", func(ctx context.Context) error {
		var callErr error
		result, callErr = e.api.ExecuteTrade(ctx, recall.TradeRequest{
			FromToken:         intent.From,
			ToToken:           intent.To,
			Amount:            fromAmount,
			Reason:            intent.Reason,
			SlippageTolerance: e.cfg.SlippageTolerance,
			CorrelationID:     out.CorrelationID,
		})
		return callErr
	})
	if err != nil {
		return e.failed(out, intent, err)
	}

	e.tracker.RecordSuccess(intent.VolatileLeg().Symbol)
	out.Success = true
	out.FromAmount = result.FromAmount
	out.ToAmount = result.ToAmount
	out.ValueUSD = result.TradeValueUSD
	if out.ValueUSD == 0 {
		out.ValueUSD = intent.NotionalUSD
	}
	observ.IncCounter("trades_executed_total", map[string]string{"mode": "live"})
	observ.Log("trade_executed", map[string]any{
		"correlation_id": out.CorrelationID,
		"kind":           string(intent.Kind),
		"from":           intent.From.Symbol,
		"to":             intent.To.Symbol,
		"from_amount":    out.FromAmount,
		"to_amount":      out.ToAmount,
		"value_usd":      out.ValueUSD,
		"reason":         intent.Reason,
	})
	return out
}

// feasible runs the quote check. A missing or non-positive quote means "do
// not trade" for this cycle, not an error to propagate.
func (e *Executor) feasible(ctx context.Context, intent signal.Intent, fromAmount float64) (bool, string) {
	var quote *recall.Quote
	err := resilience.WithRetry(ctx, e.cfg.Retry, "quote", func(ctx context.Context) error {
		var callErr error
		quote, callErr = e.api.GetQuote(ctx, intent.From, intent.To, fromAmount)
		return callErr
	})
	if err != nil {
		sym := intent.VolatileLeg().Symbol
		if e.tracker.RecordFailure(sym) {
			e.q.Add(sym, resilience.FailurePrice)
		}
		return false, "quote_unavailable"
	}
	if !quote.Fillable() {
		return false, "quote_not_fillable"
	}
	return true, ""
}

// failed classifies the terminal error and feeds the quarantine machinery.
// Structural rejections skip the consecutive-failure count: they will not
// get better by themselves, so listing-age errors quarantine immediately.
func (e *Executor) failed(out Outcome, intent signal.Intent, err error) Outcome {
	out.ErrorClass = recall.ClassOf(err)
	out.Reason = err.Error()
	sym := intent.VolatileLeg().Symbol

	var apiErr *recall.APIError
	if errors.As(err, &apiErr) && apiErr.Class == recall.ErrStructural {
		if apiErr.ListingAge() {
			e.q.Add(sym, resilience.FailureListing)
		}
		// Insufficient balance and friends: report and skip; the next
		// snapshot is authoritative and the condition self-corrects.
	} else {
		if e.tracker.RecordFailure(sym) {
			e.q.Add(sym, resilience.FailureTrade)
		}
	}

	observ.IncCounter("trade_failures_total", map[string]string{"class": string(out.ErrorClass)})
	observ.Error("trade_failed", map[string]any{
		"correlation_id": out.CorrelationID,
		"from":           intent.From.Symbol,
		"to":             intent.To.Symbol,
		"class":          string(out.ErrorClass),
		"error":          err.Error(),
	})
	return out
}
