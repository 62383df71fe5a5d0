package signal

import (
	"math"
	"testing"
	"time"

	"github.com/tradekit/portfolio-agent/internal/config"
	"github.com/tradekit/portfolio-agent/internal/momentum"
	"github.com/tradekit/portfolio-agent/internal/recall"
	"github.com/tradekit/portfolio-agent/internal/registry"
	"github.com/tradekit/portfolio-agent/internal/snapshot"
)

type fakeExcluder map[string]bool

func (f fakeExcluder) Active(symbol string) bool { return f[symbol] }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Token{
		{Symbol: "USDC", Address: "0xusdc", Chain: registry.ChainEVM, Stable: true},
		{Symbol: "USDC", Address: "SoLusdc", Chain: registry.ChainSVM, Stable: true},
		{Symbol: "WETH", Address: "0xweth", Chain: registry.ChainEVM},
		{Symbol: "SOL", Address: "SoLmint", Chain: registry.ChainSVM},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func buildSnapshot(t *testing.T, reg *registry.Registry, tokens ...recall.PortfolioToken) *snapshot.Snapshot {
	t.Helper()
	return snapshot.Build(&recall.Portfolio{Tokens: tokens}, reg, time.Now())
}

func newGenerator(reg *registry.Registry, excl Excluder) *Generator {
	cfg := config.Default()
	return NewGenerator(cfg.Signals, cfg.Rebalance, reg, excl)
}

// trendTracker fills a 2-sample window so one pair of prices sets momentum.
func trendTracker(prices map[string][2]float64) *momentum.Tracker {
	tr := momentum.NewTracker(2)
	for addr, p := range prices {
		tr.Push(addr, p[0])
		tr.Push(addr, p[1])
	}
	return tr
}

func TestSells_ProfitTake(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 9000, Price: 1, Value: 9000},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 10, Price: 100, Value: 1000},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 102}}) // +2%

	intents := newGenerator(reg, nil).Sells(s, mom)
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	in := intents[0]
	if in.Kind != KindProfitTake {
		t.Fatalf("want profit take, got %s", in.Kind)
	}
	if math.Abs(in.Quantity-7) > 1e-9 {
		t.Fatalf("want 70%% of 10 = 7, got %v", in.Quantity)
	}
	if !in.Sell() {
		t.Fatal("profit take must be a sell")
	}
}

func TestSells_LossCutBeatsProfitTake(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 9000, Price: 1, Value: 9000},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 10, Price: 100, Value: 1000},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 99}}) // -1%

	intents := newGenerator(reg, nil).Sells(s, mom)
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	if intents[0].Kind != KindLossCut {
		t.Fatalf("want loss cut, got %s", intents[0].Kind)
	}
	if math.Abs(intents[0].Quantity-9) > 1e-9 {
		t.Fatalf("loss cut sells 90%%; want 9, got %v", intents[0].Quantity)
	}
}

func TestSells_OverweightWithFlatMomentum(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 7000, Price: 1, Value: 7000},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 30, Price: 100, Value: 3000},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 100}})

	intents := newGenerator(reg, nil).Sells(s, mom)
	if len(intents) != 1 || intents[0].Kind != KindOverweight {
		t.Fatalf("want overweight trim, got %+v", intents)
	}
}

func TestSells_QuarantinedAssetSkipped(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 10, Price: 100, Value: 1000},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 110}})

	intents := newGenerator(reg, fakeExcluder{"WETH": true}).Sells(s, mom)
	if len(intents) != 0 {
		t.Fatalf("quarantined asset must produce no intents, got %+v", intents)
	}
}

func TestSells_ChainRouting(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "SoLusdc", Symbol: "USDC", Chain: "svm", Amount: 9000, Price: 1, Value: 9000},
		recall.PortfolioToken{Token: "SoLmint", Symbol: "SOL", Chain: "svm", Amount: 10, Price: 150, Value: 1500},
	)
	mom := trendTracker(map[string][2]float64{"SoLmint": {150, 153}})

	intents := newGenerator(reg, nil).Sells(s, mom)
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	if intents[0].To.Address != "SoLusdc" {
		t.Fatalf("SOL sell must settle into the svm stable, got %s", intents[0].To.Address)
	}
}

func TestBuys_DipBuySizedAndCapped(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 10000, Price: 1, Value: 10000},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 99}}) // -1% dip

	intents := newGenerator(reg, nil).Buys(s, mom, 10000)
	if len(intents) != 1 {
		t.Fatalf("want 1 intent, got %d", len(intents))
	}
	in := intents[0]
	if in.Kind != KindDipBuy {
		t.Fatalf("want dip buy, got %s", in.Kind)
	}
	// 40% of cash and the cap headroom both exceed the per-trade maximum.
	if in.NotionalUSD != 250 {
		t.Fatalf("want notional clamped to 250, got %v", in.NotionalUSD)
	}
	if in.Sell() {
		t.Fatal("dip buy must not be a sell")
	}
	if in.VolatileLeg().Symbol != "WETH" {
		t.Fatalf("volatile leg should be WETH, got %s", in.VolatileLeg().Symbol)
	}
}

func TestBuys_PositionBuildWhenUnderweight(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 9800, Price: 1, Value: 9800},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 2, Price: 100, Value: 200},
	)
	mom := momentum.NewTracker(2) // no samples, momentum neutral

	intents := newGenerator(reg, nil).Buys(s, mom, 9800)
	if len(intents) != 1 || intents[0].Kind != KindBuild {
		t.Fatalf("want position build for 2%% allocation, got %+v", intents)
	}
}

func TestBuys_BudgetExhaustion(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 40, Price: 1, Value: 40},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 99}})

	if intents := newGenerator(reg, nil).Buys(s, mom, 40); len(intents) != 0 {
		t.Fatalf("cash below the minimum trade must yield nothing, got %+v", intents)
	}
}

func TestRebalance_HalfGap(t *testing.T) {
	reg := testRegistry(t)
	// WETH at 35% against a 20% target with 10% tolerance.
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 6500, Price: 1, Value: 6500},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 35, Price: 100, Value: 3500},
	)

	intents := newGenerator(reg, nil).RebalancePass(s, nil, 6500)
	if len(intents) != 1 {
		t.Fatalf("want 1 rebalance intent, got %d", len(intents))
	}
	in := intents[0]
	if in.Kind != KindRebalance || !in.Sell() {
		t.Fatalf("want a rebalance sell, got %+v", in)
	}
	// Half of the 15-point gap on a $10k book is $750.
	if math.Abs(in.NotionalUSD-750) > 1e-6 {
		t.Fatalf("want half-gap notional 750, got %v", in.NotionalUSD)
	}
}

func TestRebalance_WithinToleranceNoTrade(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 7500, Price: 1, Value: 7500},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 25, Price: 100, Value: 2500},
	)
	if intents := newGenerator(reg, nil).RebalancePass(s, nil, 7500); len(intents) != 0 {
		t.Fatalf("25%% vs target 20%% is within tolerance, got %+v", intents)
	}
}

func TestRebalance_OpensUnheldPosition(t *testing.T) {
	reg := testRegistry(t)
	// All cash; SOL sits at 0% against a 20% target, priced only through
	// the momentum tracker.
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "SoLusdc", Symbol: "USDC", Chain: "svm", Amount: 10000, Price: 1, Value: 10000},
	)
	mom := trendTracker(map[string][2]float64{"SoLmint": {100, 100}})

	intents := newGenerator(reg, nil).RebalancePass(s, mom, 10000)
	var buy *Intent
	for i := range intents {
		if intents[i].To.Symbol == "SOL" {
			buy = &intents[i]
		}
	}
	if buy == nil {
		t.Fatalf("want a rebalance buy for the unheld token, got %+v", intents)
	}
	if buy.Kind != KindRebalance || buy.Sell() {
		t.Fatalf("want a rebalance buy, got %+v", buy)
	}
	// Half the 20% gap on a $10k book.
	if buy.NotionalUSD != 1000 {
		t.Fatalf("want $1000.00 notional, got $%.2f", buy.NotionalUSD)
	}
	if buy.Quantity != 10 {
		t.Fatalf("want 10 SOL at the tracked price, got %.4f", buy.Quantity)
	}
}

func TestEmergency_PreemptsEverything(t *testing.T) {
	reg := testRegistry(t)
	// Cash at 5% of book, below the 12% floor.
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 500, Price: 1, Value: 500},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 95, Price: 100, Value: 9500},
	)
	mom := trendTracker(map[string][2]float64{"0xweth": {100, 110}}) // would be a profit take

	intents := newGenerator(reg, nil).Generate(s, mom, 500, true)
	if len(intents) != 1 {
		t.Fatalf("emergency must be the only intent, got %d", len(intents))
	}
	in := intents[0]
	if in.Kind != KindLiquidity {
		t.Fatalf("want emergency liquidity, got %s", in.Kind)
	}
	// Need $1200-$500 = $700 of WETH at $100.
	if math.Abs(in.Quantity-7) > 1e-9 {
		t.Fatalf("want quantity 7, got %v", in.Quantity)
	}
}

func TestEmergency_NotTriggeredWithHealthyCash(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 5000, Price: 1, Value: 5000},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 50, Price: 100, Value: 5000},
	)
	if _, ok := newGenerator(reg, nil).Emergency(s); ok {
		t.Fatal("50% cash must not trigger emergency liquidity")
	}
}

func TestGenerate_SellsPrecedeBuys(t *testing.T) {
	reg := testRegistry(t)
	s := buildSnapshot(t, reg,
		recall.PortfolioToken{Token: "0xusdc", Symbol: "USDC", Chain: "evm", Amount: 5000, Price: 1, Value: 5000},
		recall.PortfolioToken{Token: "0xweth", Symbol: "WETH", Chain: "evm", Amount: 30, Price: 100, Value: 3000},
		recall.PortfolioToken{Token: "SoLmint", Symbol: "SOL", Chain: "svm", Amount: 13, Price: 150, Value: 1950},
	)
	// WETH rallies (sell), SOL dips (buy).
	mom := trendTracker(map[string][2]float64{
		"0xweth":  {100, 102},
		"SoLmint": {152, 150},
	})

	intents := newGenerator(reg, nil).Generate(s, mom, 5000, false)
	if len(intents) < 2 {
		t.Fatalf("want a sell and a buy, got %+v", intents)
	}
	if !intents[0].Sell() {
		t.Fatalf("first intent must be a sell, got %s", intents[0].Kind)
	}
	sawBuy := false
	for _, in := range intents[1:] {
		if !in.Sell() {
			sawBuy = true
		}
	}
	if !sawBuy {
		t.Fatal("want at least one buy after the sells")
	}
}
