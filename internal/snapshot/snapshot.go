// Package snapshot turns a raw portfolio payload into the immutable
// per-cycle view the decision path works from. It performs no I/O.
package snapshot

import (
	"time"

	"github.com/tradekit/portfolio-agent/internal/recall"
	"github.com/tradekit/portfolio-agent/internal/registry"
)

// Holding is one asset position valued at the cycle's price.
type Holding struct {
	Token  registry.Token
	Amount float64
	Price  float64
	Value  float64 // Amount * Price, as reported
}

// Snapshot is the portfolio at one instant. Built once per cycle, never
// mutated; the next cycle replaces it wholesale.
type Snapshot struct {
	TakenAt     time.Time
	Holdings    []Holding
	TotalValue  float64
	StableValue float64 // cash-equivalent value across all stable tokens
}

// Build maps API holdings to registry tokens and derives totals. Holdings
// for addresses outside the registry are valued (they count toward the
// total, nothing is double counted) but carry a synthetic token entry and
// are never traded.
func Build(p *recall.Portfolio, reg *registry.Registry, now time.Time) *Snapshot {
	s := &Snapshot{TakenAt: now}
	if p == nil {
		return s
	}
	for _, pt := range p.Tokens {
		tok, known := reg.ByAddress(pt.Token)
		if !known {
			tok = registry.Token{
				Symbol:  pt.Symbol,
				Address: pt.Token,
				Chain:   registry.Chain(pt.Chain),
			}
		}
		value := pt.Value
		if value == 0 && pt.Amount > 0 && pt.Price > 0 {
			value = pt.Amount * pt.Price
		}
		h := Holding{Token: tok, Amount: pt.Amount, Price: pt.Price, Value: value}
		s.Holdings = append(s.Holdings, h)
		s.TotalValue += value
		if known && tok.Stable {
			s.StableValue += value
		}
	}
	return s
}

// Holding returns the position for an address, if any.
func (s *Snapshot) Holding(address string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Token.Address == address {
			return h, true
		}
	}
	return Holding{}, false
}

// SymbolValue sums holding value across all positions sharing a symbol
// (the USDC variants on different chains count as one allocation).
func (s *Snapshot) SymbolValue(symbol string) float64 {
	var v float64
	for _, h := range s.Holdings {
		if h.Token.Symbol == symbol {
			v += h.Value
		}
	}
	return v
}

// Allocations derives the fraction of total value per symbol. Fractions are
// in [0,1] and sum to 1 within floating tolerance; an empty portfolio
// yields an empty table.
func (s *Snapshot) Allocations() map[string]float64 {
	alloc := make(map[string]float64)
	if s.TotalValue <= 0 {
		return alloc
	}
	for _, h := range s.Holdings {
		alloc[h.Token.Symbol] += h.Value / s.TotalValue
	}
	return alloc
}

// CashFraction is the stable-asset share of the portfolio.
func (s *Snapshot) CashFraction() float64 {
	if s.TotalValue <= 0 {
		return 0
	}
	return s.StableValue / s.TotalValue
}

// LargestVolatile returns the biggest non-stable holding by value, used by
// the emergency liquidity rule.
func (s *Snapshot) LargestVolatile() (Holding, bool) {
	var best Holding
	found := false
	for _, h := range s.Holdings {
		if h.Token.Stable {
			continue
		}
		if !found || h.Value > best.Value {
			best = h
			found = true
		}
	}
	return best, found
}
