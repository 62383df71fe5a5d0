package signal

import (
	"fmt"

	"github.com/tradekit/portfolio-agent/internal/registry"
)

// Kind tags why an intent exists; executors and reports carry it through.
type Kind string

const (
	KindProfitTake Kind = "profit_take"
	KindLossCut    Kind = "loss_cut"
	KindOverweight Kind = "overweight"
	KindDipBuy     Kind = "dip_buy"
	KindBuild      Kind = "position_build"
	KindRebalance  Kind = "rebalance"
	KindLiquidity  Kind = "emergency_liquidity"
)

// Intent is a candidate trade. Quantity is denominated in the volatile leg
// (the source for sells, the destination for buys), which is the unit the
// per-token minimums are expressed in. NotionalUSD is the dollar size.
type Intent struct {
	Kind        Kind
	From        registry.Token
	To          registry.Token
	Quantity    float64
	NotionalUSD float64
	Reason      string
}

// Sell reports whether the intent moves a volatile asset into cash.
func (i Intent) Sell() bool { return !i.From.Stable }

// VolatileLeg returns the non-stable side of the trade.
func (i Intent) VolatileLeg() registry.Token {
	if i.From.Stable {
		return i.To
	}
	return i.From
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s->%s qty=%.6f usd=%.2f (%s)",
		i.Kind, i.From.Symbol, i.To.Symbol, i.Quantity, i.NotionalUSD, i.Reason)
}
