// Package engine runs the decision loop: fetch, decide, execute, report,
// sleep. One Engine owns all mutable trading state; everything else is a
// stateless collaborator it calls in order.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tradekit/portfolio-agent/internal/config"
	"github.com/tradekit/portfolio-agent/internal/executor"
	"github.com/tradekit/portfolio-agent/internal/momentum"
	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/recall"
	"github.com/tradekit/portfolio-agent/internal/registry"
	"github.com/tradekit/portfolio-agent/internal/report"
	"github.com/tradekit/portfolio-agent/internal/resilience"
	"github.com/tradekit/portfolio-agent/internal/signal"
	"github.com/tradekit/portfolio-agent/internal/sizing"
	"github.com/tradekit/portfolio-agent/internal/snapshot"
)

type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateDeciding  State = "deciding"
	StateExecuting State = "executing"
	StateReporting State = "reporting"
	StateSleeping  State = "sleeping"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// Status is the snapshot served on /status.
type Status struct {
	State               State                `json:"state"`
	Cycle               int64                `json:"cycle"`
	GlobalPause         bool                 `json:"global_pause"`
	DryRun              bool                 `json:"dry_run"`
	PausedUntil         *time.Time           `json:"paused_until,omitempty"`
	BreakerFailures     int                  `json:"breaker_consecutive_failures"`
	BreakerTrips        int64                `json:"breaker_trips"`
	Quarantined         map[string]time.Time `json:"quarantined,omitempty"`
	TotalValue          float64              `json:"total_value_usd"`
	CumulativeProfitUSD float64              `json:"cumulative_profit_usd"`
	TotalReturnPct      float64              `json:"total_return_pct"`
	LastError           string               `json:"last_error,omitempty"`
	LastCycleAt         time.Time            `json:"last_cycle_at"`
}

type Engine struct {
	cfg        config.Root
	api        recall.API
	reg        *registry.Registry
	mom        *momentum.Tracker
	gen        *signal.Generator
	enforcer   *sizing.Enforcer
	exec       *executor.Executor
	quarantine *resilience.Quarantine
	tracker    *resilience.ErrorTracker
	breaker    *resilience.Breaker
	retry      resilience.RetryPolicy
	sink       report.Sink

	now func() time.Time

	mu            sync.Mutex
	state         State
	cycle         int64
	lastRebalance int64
	baseline      float64 // total value at the first successful cycle
	prevTotal     float64
	cumulative    float64
	lastTotal     float64
	pausedUntil   time.Time
	lastErr       string
	lastCycleAt   time.Time
}

func New(cfg config.Root, api recall.API, reg *registry.Registry, sink report.Sink) *Engine {
	retry := resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.BackoffBaseMs) * time.Millisecond,
	}
	quarantine := resilience.NewQuarantine(
		time.Duration(cfg.Resilience.PriceQuarantineMin)*time.Minute,
		time.Duration(cfg.Resilience.ListingQuarantineMin)*time.Minute,
	)
	tracker := resilience.NewErrorTracker(cfg.Resilience.QuarantineAfter)
	exec := executor.New(api, quarantine, tracker, executor.Config{
		Retry:             retry,
		SlippageTolerance: cfg.Recall.SlippageTolerance,
		DryRun:            cfg.DryRun,
	})
	return &Engine{
		cfg:        cfg,
		api:        api,
		reg:        reg,
		mom:        momentum.NewTracker(cfg.Momentum.Window),
		gen:        signal.NewGenerator(cfg.Signals, cfg.Rebalance, reg, quarantine),
		enforcer:   sizing.NewEnforcer(cfg.Signals),
		exec:       exec,
		quarantine: quarantine,
		tracker:    tracker,
		breaker:    resilience.NewBreaker(cfg.Resilience.BreakerThreshold),
		retry:      retry,
		sink:       sink,
		now:        time.Now,
		state:      StateIdle,
	}
}

// Run drives the loop until ctx is cancelled. Cycle failures are absorbed:
// the loop only stops on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.PollInterval()
	observ.Log("engine_started", map[string]any{
		"poll_interval_sec": int(interval.Seconds()),
		"dry_run":           e.cfg.DryRun,
		"global_pause":      e.cfg.GlobalPause,
		"tokens":            len(e.reg.All()),
	})

	for {
		if err := ctx.Err(); err != nil {
			e.setState(StateStopped)
			observ.Log("engine_stopped", map[string]any{"cycles": e.Cycle()})
			return nil
		}

		if e.cfg.GlobalPause {
			e.setState(StatePaused)
			e.sleep(ctx, interval)
			continue
		}

		if wait := e.pauseRemaining(); wait > 0 {
			e.setState(StatePaused)
			observ.Log("breaker_pause_active", map[string]any{
				"resume_in_sec": int(wait.Seconds()),
			})
			e.sleep(ctx, wait)
			continue
		}

		if err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			e.recordCycleFailure(err, interval)
		} else {
			e.breaker.RecordSuccess()
		}

		e.setState(StateSleeping)
		e.sleep(ctx, interval)
	}
}

// RunCycle executes exactly one cycle against the current portfolio. It is
// the unit of work for both the long-running loop and the "once" command.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	observ.IncCounter("cycles_total", nil)
	observ.Log("cycle_start", map[string]any{"cycle": cycle})

	e.setState(StateFetching)
	snap, err := e.fetchSnapshot(ctx)
	if err != nil {
		return err
	}
	e.mom.Update(snap)
	e.refreshPrices(ctx, snap)

	e.setState(StateDeciding)
	rebalanceDue := e.rebalanceDue(cycle)
	trades, spent, gained := e.decideAndExecute(ctx, snap, rebalanceDue)
	if rebalanceDue {
		e.mu.Lock()
		e.lastRebalance = cycle
		e.mu.Unlock()
	}

	e.setState(StateReporting)
	rec := e.buildRecord(cycle, snap, trades, spent, gained)
	if err := e.sink.Emit(rec); err != nil {
		observ.Error("report_emit_failed", map[string]any{"error": err.Error()})
	}

	e.mu.Lock()
	e.lastErr = ""
	e.lastCycleAt = e.now()
	e.mu.Unlock()

	observ.RecordDuration("cycle_latency", e.now().Sub(start), nil)
	observ.Log("cycle_complete", map[string]any{
		"cycle":        cycle,
		"total_value":  snap.TotalValue,
		"trades":       rec.TradesExecuted,
		"cycle_profit": rec.CycleProfit,
		"duration_ms":  e.now().Sub(start).Milliseconds(),
	})
	return nil
}

func (e *Engine) fetchSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	var p *recall.Portfolio
	err := resilience.WithRetry(ctx, e.retry, "get_portfolio", func(ctx context.Context) error {
		var err error
		p, err = e.api.GetPortfolio(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	snap := snapshot.Build(p, e.reg, e.now())

	e.mu.Lock()
	if e.baseline == 0 && snap.TotalValue > 0 {
		e.baseline = snap.TotalValue
		e.prevTotal = snap.TotalValue
	}
	e.lastTotal = snap.TotalValue
	e.mu.Unlock()
	return snap, nil
}

// refreshPrices fills the momentum window for volatile tokens the snapshot
// carries no usable price for, so dip triggers cover assets not currently
// held. A failed lookup means no signal for that asset this cycle;
// persistent failures earn the price-class quarantine.
func (e *Engine) refreshPrices(ctx context.Context, snap *snapshot.Snapshot) {
	for _, tok := range e.reg.Volatile() {
		if h, ok := snap.Holding(tok.Address); ok && h.Price > 0 {
			continue
		}
		if e.quarantine.Active(tok.Symbol) {
			continue
		}

		var price float64
		err := resilience.WithRetry(ctx, e.retry, "get_price", func(ctx context.Context) error {
			var callErr error
			price, callErr = e.api.GetPrice(ctx, tok)
			return callErr
		})
		if err != nil {
			observ.Warn("price_unavailable", map[string]any{
				"symbol": tok.Symbol,
				"error":  err.Error(),
			})
			if e.tracker.RecordFailure(tok.Symbol) {
				e.quarantine.Add(tok.Symbol, resilience.FailurePrice)
			}
			continue
		}
		if price <= 0 {
			continue
		}
		e.tracker.RecordSuccess(tok.Symbol)
		e.mom.Push(tok.Address, price)
	}
}

// decideAndExecute runs the intent phases in priority order. Sells settle
// into cash before buys are sized, so the buy budget reflects this cycle's
// proceeds rather than the stale snapshot.
func (e *Engine) decideAndExecute(ctx context.Context, snap *snapshot.Snapshot, rebalanceDue bool) (trades []report.Trade, spent, gained float64) {
	if intent, ok := e.gen.Emergency(snap); ok {
		observ.Warn("emergency_liquidity", map[string]any{
			"cash_fraction": snap.CashFraction(),
			"symbol":        intent.From.Symbol,
		})
		out := e.runIntent(ctx, intent, snap, snap.StableValue)
		if t, ok := e.tradeFrom(out); ok {
			trades = append(trades, t)
			if out.Success {
				gained += out.ValueUSD
			}
		}
		return trades, spent, gained
	}

	e.setState(StateExecuting)
	for _, intent := range e.gen.Sells(snap, e.mom) {
		out := e.runIntent(ctx, intent, snap, snap.StableValue)
		if t, ok := e.tradeFrom(out); ok {
			trades = append(trades, t)
			if out.Success {
				gained += out.ValueUSD
			}
		}
	}

	cash := snap.StableValue + gained
	for _, intent := range e.gen.Buys(snap, e.mom, cash) {
		out := e.runIntent(ctx, intent, snap, cash)
		if t, ok := e.tradeFrom(out); ok {
			trades = append(trades, t)
			if out.Success {
				spent += out.ValueUSD
				cash -= out.ValueUSD
			}
		}
	}

	if rebalanceDue {
		observ.Log("rebalance_pass", map[string]any{"cash": cash})
		for _, intent := range e.gen.RebalancePass(snap, e.mom, cash) {
			out := e.runIntent(ctx, intent, snap, cash)
			if t, ok := e.tradeFrom(out); ok {
				trades = append(trades, t)
				if out.Success {
					if intent.Sell() {
						gained += out.ValueUSD
					} else {
						spent += out.ValueUSD
						cash -= out.ValueUSD
					}
				}
			}
		}
	}
	return trades, spent, gained
}

// runIntent applies sizing constraints, then hands the intent to the
// executor. A constraint rejection is a skip, never an error. cash carries
// the stable total as of this point in the cycle, sell proceeds included.
func (e *Engine) runIntent(ctx context.Context, intent signal.Intent, snap *snapshot.Snapshot, cash float64) executor.Outcome {
	if err := e.enforcer.Validate(intent, snap, cash); err != nil {
		observ.Log("intent_rejected", map[string]any{
			"kind":   string(intent.Kind),
			"from":   intent.From.Symbol,
			"to":     intent.To.Symbol,
			"reason": err.Error(),
		})
		return executor.Outcome{Intent: intent, Skipped: true, Reason: err.Error()}
	}
	return e.exec.Execute(ctx, intent)
}

// tradeFrom converts an outcome into a report row. Skips without a
// correlation id never reached the API and are not recorded as trades.
func (e *Engine) tradeFrom(out executor.Outcome) (report.Trade, bool) {
	if out.Skipped && out.CorrelationID == "" {
		return report.Trade{}, false
	}
	return report.Trade{
		CorrelationID: out.CorrelationID,
		Kind:          string(out.Intent.Kind),
		FromSymbol:    out.Intent.From.Symbol,
		ToSymbol:      out.Intent.To.Symbol,
		FromAmount:    out.FromAmount,
		ToAmount:      out.ToAmount,
		ValueUSD:      out.ValueUSD,
		Success:       out.Success,
		Reason:        out.Reason,
	}, true
}

func (e *Engine) buildRecord(cycle int64, snap *snapshot.Snapshot, trades []report.Trade, spent, gained float64) report.Record {
	executed := 0
	for _, t := range trades {
		if t.Success {
			executed++
		}
	}

	e.mu.Lock()
	cycleProfit := 0.0
	if e.prevTotal > 0 {
		cycleProfit = snap.TotalValue - e.prevTotal
	}
	e.cumulative += cycleProfit
	e.prevTotal = snap.TotalValue
	returnPct := 0.0
	if e.baseline > 0 {
		returnPct = (snap.TotalValue - e.baseline) / e.baseline * 100
	}
	cumulative := e.cumulative
	e.mu.Unlock()

	return report.Record{
		Cycle:            cycle,
		Timestamp:        snap.TakenAt,
		TotalValue:       snap.TotalValue,
		CashValue:        snap.StableValue,
		Allocations:      snap.Allocations(),
		Trades:           trades,
		TradesExecuted:   executed,
		USDSpent:         spent,
		USDGained:        gained,
		CycleProfit:      cycleProfit,
		CumulativeProfit: cumulative,
		TotalReturnPct:   returnPct,
	}
}

func (e *Engine) rebalanceDue(cycle int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cycle-e.lastRebalance >= int64(e.cfg.Rebalance.IntervalCycles)
}

func (e *Engine) recordCycleFailure(err error, interval time.Duration) {
	observ.IncCounter("cycle_failures_total", nil)
	observ.Error("cycle_failed", map[string]any{"error": err.Error()})

	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()

	if e.breaker.RecordFailure() {
		pause := time.Duration(e.cfg.Resilience.BreakerPauseCycles) * interval
		until := e.now().Add(pause)
		e.mu.Lock()
		e.pausedUntil = until
		e.mu.Unlock()
		observ.Error("breaker_tripped", map[string]any{
			"pause_sec":    int(pause.Seconds()),
			"paused_until": until.UTC().Format(time.RFC3339),
		})
	}
}

func (e *Engine) pauseRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pausedUntil.IsZero() {
		return 0
	}
	remaining := e.pausedUntil.Sub(e.now())
	if remaining <= 0 {
		e.pausedUntil = time.Time{}
		observ.SetGauge("breaker_open", 0, nil)
		return 0
	}
	return remaining
}

// sleep waits for d or cancellation; returns false when cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) Cycle() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:               e.state,
		Cycle:               e.cycle,
		GlobalPause:         e.cfg.GlobalPause,
		DryRun:              e.cfg.DryRun,
		BreakerFailures:     e.breaker.ConsecutiveFailures(),
		BreakerTrips:        e.breaker.Trips(),
		Quarantined:         e.quarantine.Snapshot(),
		TotalValue:          e.lastTotal,
		CumulativeProfitUSD: e.cumulative,
		LastError:           e.lastErr,
		LastCycleAt:         e.lastCycleAt,
	}
	if e.baseline > 0 {
		st.TotalReturnPct = (e.lastTotal - e.baseline) / e.baseline * 100
	}
	if !e.pausedUntil.IsZero() && e.pausedUntil.After(e.now()) {
		u := e.pausedUntil
		st.PausedUntil = &u
	}
	return st
}
