// Package momentum keeps a bounded price window per asset and derives the
// fractional change across it.
package momentum

import (
	"github.com/tradekit/portfolio-agent/internal/snapshot"
)

// Tracker owns per-asset price history, keyed by token address. Single
// writer: only the orchestrator's cycle touches it.
type Tracker struct {
	window  int
	history map[string][]float64
}

func NewTracker(window int) *Tracker {
	if window < 2 {
		window = 2
	}
	return &Tracker{
		window:  window,
		history: make(map[string][]float64),
	}
}

// Update pushes the snapshot's prices, evicting the oldest sample past the
// window. Holdings without a positive price are skipped for the cycle.
func (t *Tracker) Update(s *snapshot.Snapshot) {
	if s == nil {
		return
	}
	for _, h := range s.Holdings {
		if h.Price <= 0 {
			continue
		}
		t.Push(h.Token.Address, h.Price)
	}
}

// Push appends one price for an asset.
func (t *Tracker) Push(address string, price float64) {
	hist := append(t.history[address], price)
	if len(hist) > t.window {
		hist = hist[len(hist)-t.window:]
	}
	t.history[address] = hist
}

// Momentum returns (newest - oldest) / oldest over a full window, or 0
// while the window is still filling. Neutral by definition, not an error.
func (t *Tracker) Momentum(address string) float64 {
	hist := t.history[address]
	if len(hist) < t.window {
		return 0
	}
	oldest := hist[0]
	if oldest == 0 {
		return 0
	}
	return (hist[len(hist)-1] - oldest) / oldest
}

// Latest returns the newest recorded price for an asset, or 0.
func (t *Tracker) Latest(address string) float64 {
	hist := t.history[address]
	if len(hist) == 0 {
		return 0
	}
	return hist[len(hist)-1]
}

// Samples returns how many prices are recorded for an asset.
func (t *Tracker) Samples(address string) int {
	return len(t.history[address])
}

// Window returns the configured window size.
func (t *Tracker) Window() int {
	return t.window
}
