package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Signals holds every threshold the signal generator consults. All of these
// are policy, not constants: the same engine runs conservative or aggressive
// depending on this block alone.
type Signals struct {
	SellMomentum      float64 `yaml:"sell_momentum"`        // take profit at or above, e.g. 0.01
	BuyDipMomentum    float64 `yaml:"buy_dip_momentum"`     // buy at or below, e.g. -0.005
	LossCutMomentum   float64 `yaml:"loss_cut_momentum"`    // cut losses at or below, e.g. -0.003
	LossCutFloor      float64 `yaml:"loss_cut_floor"`       // only cut when allocation exceeds this
	Overweight        float64 `yaml:"overweight"`           // sell when allocation exceeds this
	Underweight       float64 `yaml:"underweight"`          // buy when allocation is below this
	PositionCap       float64 `yaml:"position_cap"`         // hard allocation ceiling per asset
	ProfitTakeFrac    float64 `yaml:"profit_take_fraction"`
	LossCutFrac       float64 `yaml:"loss_cut_fraction"`
	CashBudgetFrac    float64 `yaml:"cash_budget_fraction"` // max share of cash per buy
	MaxSingleTradeUSD float64 `yaml:"max_single_trade_usd"`
	MinTradeUSD       float64 `yaml:"min_trade_usd"`
	CashFloor         float64 `yaml:"cash_floor"` // emergency liquidity threshold
}

type Rebalance struct {
	IntervalCycles int                `yaml:"interval_cycles"`
	Tolerance      float64            `yaml:"tolerance"`
	Targets        map[string]float64 `yaml:"targets"` // symbol -> target allocation
}

type Momentum struct {
	Window int `yaml:"window"`
}

type Resilience struct {
	MaxAttempts          int `yaml:"max_attempts"`
	BackoffBaseMs        int `yaml:"backoff_base_ms"`
	QuarantineAfter      int `yaml:"quarantine_after"` // consecutive failures per asset
	PriceQuarantineMin   int `yaml:"price_quarantine_minutes"`
	ListingQuarantineMin int `yaml:"listing_quarantine_minutes"`
	BreakerThreshold     int `yaml:"breaker_threshold"` // consecutive cycle failures
	BreakerPauseCycles   int `yaml:"breaker_pause_cycles"`
}

type Recall struct {
	BaseURL           string  `yaml:"base_url"`
	TimeoutMs         int     `yaml:"timeout_ms"`       // trade submission
	QuoteTimeoutMs    int     `yaml:"quote_timeout_ms"` // price and quote lookups
	RatePerSecond     float64 `yaml:"rate_per_second"`
	SlippageTolerance string  `yaml:"slippage_tolerance"`
}

type Report struct {
	JSONLPath  string `yaml:"jsonl_path"`
	SQLitePath string `yaml:"sqlite_path"` // empty disables the history sink
}

type Root struct {
	GlobalPause     bool       `yaml:"global_pause"`
	DryRun          bool       `yaml:"dry_run"`
	PollIntervalSec int        `yaml:"poll_interval_seconds"`
	ListenAddr      string     `yaml:"listen_addr"`
	RegistryPath    string     `yaml:"registry_path"`
	Signals         Signals    `yaml:"signals"`
	Rebalance       Rebalance  `yaml:"rebalance"`
	Momentum        Momentum   `yaml:"momentum"`
	Resilience      Resilience `yaml:"resilience"`
	Recall          Recall     `yaml:"recall"`
	Report          Report     `yaml:"report"`
}

func (r Root) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a runnable configuration without a config file.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.PollIntervalSec == 0 {
		c.PollIntervalSec = 60
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	if c.Signals.SellMomentum == 0 {
		c.Signals.SellMomentum = 0.01
	}
	if c.Signals.BuyDipMomentum == 0 {
		c.Signals.BuyDipMomentum = -0.005
	}
	if c.Signals.LossCutMomentum == 0 {
		c.Signals.LossCutMomentum = -0.003
	}
	if c.Signals.LossCutFloor == 0 {
		c.Signals.LossCutFloor = 0.075
	}
	if c.Signals.Overweight == 0 {
		c.Signals.Overweight = 0.20
	}
	if c.Signals.Underweight == 0 {
		c.Signals.Underweight = 0.05
	}
	if c.Signals.PositionCap == 0 {
		c.Signals.PositionCap = 0.25
	}
	if c.Signals.ProfitTakeFrac == 0 {
		c.Signals.ProfitTakeFrac = 0.7
	}
	if c.Signals.LossCutFrac == 0 {
		c.Signals.LossCutFrac = 0.9
	}
	if c.Signals.CashBudgetFrac == 0 {
		c.Signals.CashBudgetFrac = 0.4
	}
	if c.Signals.MaxSingleTradeUSD == 0 {
		c.Signals.MaxSingleTradeUSD = 250
	}
	if c.Signals.MinTradeUSD == 0 {
		c.Signals.MinTradeUSD = 50
	}
	if c.Signals.CashFloor == 0 {
		c.Signals.CashFloor = 0.12
	}

	if c.Rebalance.IntervalCycles == 0 {
		c.Rebalance.IntervalCycles = 30
	}
	if c.Rebalance.Tolerance == 0 {
		c.Rebalance.Tolerance = 0.10
	}
	if len(c.Rebalance.Targets) == 0 {
		c.Rebalance.Targets = map[string]float64{
			"USDC":  0.30,
			"WETH":  0.20,
			"SOL":   0.20,
			"ARB":   0.10,
			"OP":    0.10,
			"MATIC": 0.05,
			"LINK":  0.03,
			"UNI":   0.02,
		}
	}

	if c.Momentum.Window == 0 {
		c.Momentum.Window = 5
	}

	if c.Resilience.MaxAttempts == 0 {
		c.Resilience.MaxAttempts = 3
	}
	if c.Resilience.BackoffBaseMs == 0 {
		c.Resilience.BackoffBaseMs = 500
	}
	if c.Resilience.QuarantineAfter == 0 {
		c.Resilience.QuarantineAfter = 5
	}
	if c.Resilience.PriceQuarantineMin == 0 {
		c.Resilience.PriceQuarantineMin = 5
	}
	if c.Resilience.ListingQuarantineMin == 0 {
		c.Resilience.ListingQuarantineMin = 30
	}
	if c.Resilience.BreakerThreshold == 0 {
		c.Resilience.BreakerThreshold = 20
	}
	if c.Resilience.BreakerPauseCycles == 0 {
		c.Resilience.BreakerPauseCycles = 5
	}

	if c.Recall.BaseURL == "" {
		c.Recall.BaseURL = "https://api.sandbox.competitions.recall.network/api"
	}
	if c.Recall.TimeoutMs == 0 {
		c.Recall.TimeoutMs = 20000
	}
	if c.Recall.QuoteTimeoutMs == 0 {
		c.Recall.QuoteTimeoutMs = 8000
	}
	if c.Recall.RatePerSecond == 0 {
		c.Recall.RatePerSecond = 5
	}
	if c.Recall.SlippageTolerance == "" {
		c.Recall.SlippageTolerance = "0.5"
	}

	if c.Report.JSONLPath == "" {
		c.Report.JSONLPath = "data/reports.jsonl"
	}
}

func (c *Root) validate() error {
	if c.Signals.PositionCap <= 0 || c.Signals.PositionCap > 1 {
		return fmt.Errorf("signals.position_cap must be in (0,1], got %v", c.Signals.PositionCap)
	}
	if c.Signals.CashFloor < 0 || c.Signals.CashFloor >= 1 {
		return fmt.Errorf("signals.cash_floor must be in [0,1), got %v", c.Signals.CashFloor)
	}
	var sum float64
	for _, t := range c.Rebalance.Targets {
		if t < 0 || t > 1 {
			return fmt.Errorf("rebalance target out of range: %v", t)
		}
		sum += t
	}
	if sum > 1.0001 {
		return fmt.Errorf("rebalance targets sum to %.4f, must not exceed 1", sum)
	}
	return nil
}
