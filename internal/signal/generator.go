// Package signal turns the cycle's snapshot, allocation table and momentum
// readings into an ordered list of candidate trades. Sells always precede
// buys: sell proceeds fund the same cycle's purchases.
package signal

import (
	"fmt"
	"math"

	"github.com/tradekit/portfolio-agent/internal/config"
	"github.com/tradekit/portfolio-agent/internal/momentum"
	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/registry"
	"github.com/tradekit/portfolio-agent/internal/snapshot"
)

// Excluder reports whether an asset is currently barred from trading.
// Satisfied by resilience.Quarantine.
type Excluder interface {
	Active(symbol string) bool
}

type Generator struct {
	cfg       config.Signals
	rebalance config.Rebalance
	reg       *registry.Registry
	excluded  Excluder
}

func NewGenerator(cfg config.Signals, rebalance config.Rebalance, reg *registry.Registry, excluded Excluder) *Generator {
	return &Generator{cfg: cfg, rebalance: rebalance, reg: reg, excluded: excluded}
}

// Generate produces the full ordered intent list for a cycle: sells, then
// buys sized against availableCash, then (when due) the rebalance pass.
// The emergency liquidity rule pre-empts everything else: a starved cash
// position yields exactly one forced sell.
func (g *Generator) Generate(s *snapshot.Snapshot, mom *momentum.Tracker, availableCash float64, rebalanceDue bool) []Intent {
	if forced, ok := g.Emergency(s); ok {
		return []Intent{forced}
	}

	intents := g.Sells(s, mom)
	intents = append(intents, g.Buys(s, mom, availableCash)...)
	if rebalanceDue {
		intents = append(intents, g.RebalancePass(s, mom, availableCash)...)
	}
	return intents
}

// Emergency returns a forced sell of the largest volatile holding when the
// cash-equivalent allocation has fallen below the critical floor. Buys
// need cash; without this rule the loop can starve into a dead state.
func (g *Generator) Emergency(s *snapshot.Snapshot) (Intent, bool) {
	if s.TotalValue <= 0 || s.CashFraction() >= g.cfg.CashFloor {
		return Intent{}, false
	}
	h, ok := s.LargestVolatile()
	if !ok || h.Price <= 0 {
		return Intent{}, false
	}
	if g.excluded != nil && g.excluded.Active(h.Token.Symbol) {
		return Intent{}, false
	}
	stable, ok := g.reg.StableFor(h.Token.Chain)
	if !ok || (g.excluded != nil && g.excluded.Active(stable.Symbol)) {
		return Intent{}, false
	}

	need := g.cfg.CashFloor*s.TotalValue - s.StableValue
	qty := need / h.Price
	if qty*h.Price < g.cfg.MinTradeUSD {
		qty = g.cfg.MinTradeUSD / h.Price
	}
	qty = math.Min(qty, h.Amount)

	observ.IncCounter("emergency_liquidity_total", map[string]string{"symbol": h.Token.Symbol})
	return Intent{
		Kind:        KindLiquidity,
		From:        h.Token,
		To:          stable,
		Quantity:    qty,
		NotionalUSD: qty * h.Price,
		Reason:      fmt.Sprintf("Emergency liquidity (cash %.1f%% < %.1f%%)", s.CashFraction()*100, g.cfg.CashFloor*100),
	}, true
}

// Sells walks volatile holdings in registry order and emits partial sells
// for profit taking, overweight trimming and loss cutting. Fractions are
// policy; a full liquidation only happens if a fraction is configured to 1.
func (g *Generator) Sells(s *snapshot.Snapshot, mom *momentum.Tracker) []Intent {
	alloc := s.Allocations()
	var intents []Intent

	for _, tok := range g.reg.Volatile() {
		h, ok := s.Holding(tok.Address)
		if !ok || h.Amount <= 0 || h.Price <= 0 {
			continue
		}
		if g.excluded != nil && g.excluded.Active(tok.Symbol) {
			continue
		}
		stable, ok := g.reg.StableFor(tok.Chain)
		if !ok || (g.excluded != nil && g.excluded.Active(stable.Symbol)) {
			continue
		}

		m := mom.Momentum(tok.Address)
		a := alloc[tok.Symbol]

		var kind Kind
		var frac float64
		switch {
		case m <= g.cfg.LossCutMomentum && a > g.cfg.LossCutFloor:
			kind, frac = KindLossCut, g.cfg.LossCutFrac
		case m >= g.cfg.SellMomentum:
			kind, frac = KindProfitTake, g.cfg.ProfitTakeFrac
		case a > g.cfg.Overweight:
			kind, frac = KindOverweight, g.cfg.ProfitTakeFrac
		default:
			continue
		}

		qty := h.Amount * frac
		intents = append(intents, Intent{
			Kind:        kind,
			From:        tok,
			To:          stable,
			Quantity:    qty,
			NotionalUSD: qty * h.Price,
			Reason:      fmt.Sprintf("%s (momentum %.4f, alloc %.3f)", kind, m, a),
		})
	}
	return intents
}

// Buys walks the volatile universe in registry order and emits dip buys and
// position builds. availableCash must be the freshest cash figure, which in
// a live cycle includes proceeds from sells already confirmed this cycle.
func (g *Generator) Buys(s *snapshot.Snapshot, mom *momentum.Tracker, availableCash float64) []Intent {
	alloc := s.Allocations()
	var intents []Intent
	remaining := availableCash

	for _, tok := range g.reg.Volatile() {
		if remaining < g.cfg.MinTradeUSD {
			break
		}
		if g.excluded != nil && g.excluded.Active(tok.Symbol) {
			continue
		}
		stable, ok := g.reg.StableFor(tok.Chain)
		if !ok || (g.excluded != nil && g.excluded.Active(stable.Symbol)) {
			continue
		}

		price := g.priceOf(s, mom, tok)
		if price <= 0 {
			continue
		}

		m := mom.Momentum(tok.Address)
		a := alloc[tok.Symbol]

		var kind Kind
		switch {
		case m <= g.cfg.BuyDipMomentum:
			kind = KindDipBuy
		case a < g.cfg.Underweight:
			kind = KindBuild
		default:
			continue
		}

		headroom := g.cfg.PositionCap*s.TotalValue - a*s.TotalValue
		notional := math.Min(g.cfg.CashBudgetFrac*remaining, headroom)
		notional = math.Min(notional, g.cfg.MaxSingleTradeUSD)
		if notional < g.cfg.MinTradeUSD {
			continue
		}

		qty := notional / price
		intents = append(intents, Intent{
			Kind:        kind,
			From:        stable,
			To:          tok,
			Quantity:    qty,
			NotionalUSD: notional,
			Reason:      fmt.Sprintf("%s (momentum %.4f, alloc %.3f)", kind, m, a),
		})
		remaining -= notional
	}
	return intents
}

// RebalancePass compares allocations against fixed targets and closes half
// of any gap beyond tolerance. Half, never the whole gap: closing the whole
// gap every interval oscillates. The tracker supplies prices for tokens the
// portfolio does not hold yet, so a cold position can still be opened.
func (g *Generator) RebalancePass(s *snapshot.Snapshot, mom *momentum.Tracker, availableCash float64) []Intent {
	if s.TotalValue <= 0 {
		return nil
	}
	alloc := s.Allocations()
	var intents []Intent
	remaining := availableCash

	for _, tok := range g.reg.Volatile() {
		target, ok := g.rebalance.Targets[tok.Symbol]
		if !ok {
			continue
		}
		if g.excluded != nil && g.excluded.Active(tok.Symbol) {
			continue
		}
		stable, sok := g.reg.StableFor(tok.Chain)
		if !sok || (g.excluded != nil && g.excluded.Active(stable.Symbol)) {
			continue
		}

		a := alloc[tok.Symbol]
		switch {
		case a > target+g.rebalance.Tolerance:
			h, hok := s.Holding(tok.Address)
			if !hok || h.Price <= 0 || h.Amount <= 0 {
				continue
			}
			gapUSD := (a - target) * s.TotalValue / 2
			qty := math.Min(gapUSD/h.Price, h.Amount)
			intents = append(intents, Intent{
				Kind:        KindRebalance,
				From:        tok,
				To:          stable,
				Quantity:    qty,
				NotionalUSD: qty * h.Price,
				Reason:      fmt.Sprintf("Rebalance %.1f%% -> %.1f%%", a*100, target*100),
			})

		case a < target-g.rebalance.Tolerance:
			if remaining < g.cfg.MinTradeUSD {
				continue
			}
			price := g.priceOf(s, mom, tok)
			if price <= 0 {
				continue
			}
			notional := math.Min((target-a)*s.TotalValue/2, g.cfg.CashBudgetFrac*remaining)
			if notional < g.cfg.MinTradeUSD {
				continue
			}
			intents = append(intents, Intent{
				Kind:        KindRebalance,
				From:        stable,
				To:          tok,
				Quantity:    notional / price,
				NotionalUSD: notional,
				Reason:      fmt.Sprintf("Rebalance %.1f%% -> %.1f%%", a*100, target*100),
			})
			remaining -= notional
		}
	}
	return intents
}

// priceOf resolves a price for a token the portfolio may not currently
// hold, falling back to the newest momentum sample.
func (g *Generator) priceOf(s *snapshot.Snapshot, mom *momentum.Tracker, tok registry.Token) float64 {
	if h, ok := s.Holding(tok.Address); ok && h.Price > 0 {
		return h.Price
	}
	if mom != nil {
		if p := mom.Latest(tok.Address); p > 0 {
			return p
		}
	}
	return 0
}
