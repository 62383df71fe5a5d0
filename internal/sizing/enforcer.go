// Package sizing is the pure validation gate between signal generation and
// execution: minimum floors, available quantity, allocation ceilings. It
// never calls the network.
package sizing

import (
	"fmt"

	"github.com/tradekit/portfolio-agent/internal/config"
	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/signal"
	"github.com/tradekit/portfolio-agent/internal/snapshot"
)

// Rejection explains why an intent was refused. Always a value, never a
// panic; the reason codes are stable for reports and tests.
type Rejection struct {
	Code   string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("intent rejected: %s (%s)", r.Code, r.Detail)
}

const (
	ReasonBelowMinNotional = "below_min_notional"
	ReasonBelowMinAmount   = "below_min_amount"
	ReasonInsufficient     = "insufficient_quantity"
	ReasonPositionCap      = "position_cap"
	ReasonNonPositive      = "non_positive_quantity"
)

type Enforcer struct {
	cfg config.Signals
}

func NewEnforcer(cfg config.Signals) *Enforcer {
	return &Enforcer{cfg: cfg}
}

// Validate returns nil for a passing intent, or a *Rejection. Passing
// intents are returned to the caller unmodified; this gate clamps nothing,
// it only refuses. availableCash is the freshest total stable value, which
// mid-cycle includes confirmed sell proceeds the snapshot cannot know about.
func (e *Enforcer) Validate(intent signal.Intent, s *snapshot.Snapshot, availableCash float64) error {
	if intent.Quantity <= 0 || intent.NotionalUSD <= 0 {
		return e.reject(intent, ReasonNonPositive,
			fmt.Sprintf("qty=%.8f usd=%.2f", intent.Quantity, intent.NotionalUSD))
	}

	if intent.NotionalUSD < e.cfg.MinTradeUSD {
		return e.reject(intent, ReasonBelowMinNotional,
			fmt.Sprintf("%.2f < %.2f", intent.NotionalUSD, e.cfg.MinTradeUSD))
	}

	leg := intent.VolatileLeg()
	if leg.MinAmount > 0 && intent.Quantity < leg.MinAmount {
		return e.reject(intent, ReasonBelowMinAmount,
			fmt.Sprintf("%.8f %s < min %.8f", intent.Quantity, leg.Symbol, leg.MinAmount))
	}

	if intent.Sell() {
		h, ok := s.Holding(intent.From.Address)
		if !ok || h.Amount < intent.Quantity {
			have := 0.0
			if ok {
				have = h.Amount
			}
			return e.reject(intent, ReasonInsufficient,
				fmt.Sprintf("want %.8f %s, have %.8f", intent.Quantity, intent.From.Symbol, have))
		}
		return nil
	}

	// Buy: funding comes from the stable leg, and the resulting allocation
	// must stay under the hard ceiling. Proceeds confirmed after the
	// snapshot was taken are credited to the funding leg.
	funding := s.SymbolValue(intent.From.Symbol)
	if extra := availableCash - s.StableValue; extra > 0 {
		funding += extra
	}
	if funding < intent.NotionalUSD {
		return e.reject(intent, ReasonInsufficient,
			fmt.Sprintf("want $%.2f of %s, have $%.2f", intent.NotionalUSD, intent.From.Symbol, funding))
	}
	if s.TotalValue > 0 {
		after := (s.SymbolValue(intent.To.Symbol) + intent.NotionalUSD) / s.TotalValue
		if after > e.cfg.PositionCap {
			return e.reject(intent, ReasonPositionCap,
				fmt.Sprintf("%s would reach %.3f > cap %.3f", intent.To.Symbol, after, e.cfg.PositionCap))
		}
	}
	return nil
}

func (e *Enforcer) reject(intent signal.Intent, code, detail string) *Rejection {
	observ.IncCounter("intents_rejected_total", map[string]string{
		"reason": code,
		"symbol": intent.VolatileLeg().Symbol,
	})
	return &Rejection{Code: code, Detail: detail}
}
