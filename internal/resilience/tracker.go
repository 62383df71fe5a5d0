package resilience

import (
	"sync"

	"github.com/tradekit/portfolio-agent/internal/observ"
)

// ErrorTracker counts consecutive per-asset failures and decides when an
// asset has earned quarantine. Counters reset on the asset's next success.
type ErrorTracker struct {
	mu        sync.Mutex
	threshold int
	perAsset  map[string]int
}

func NewErrorTracker(threshold int) *ErrorTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &ErrorTracker{
		threshold: threshold,
		perAsset:  make(map[string]int),
	}
}

// RecordFailure bumps the asset's consecutive-failure count and reports
// whether it crossed the quarantine threshold. Crossing resets the count;
// the quarantine itself is the caller's job.
func (t *ErrorTracker) RecordFailure(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perAsset[symbol]++
	observ.IncCounter("asset_failures_total", map[string]string{"symbol": symbol})
	if t.perAsset[symbol] >= t.threshold {
		t.perAsset[symbol] = 0
		return true
	}
	return false
}

// RecordSuccess clears the asset's failure run.
func (t *ErrorTracker) RecordSuccess(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perAsset, symbol)
}

// Failures returns the current run length for an asset.
func (t *ErrorTracker) Failures(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perAsset[symbol]
}
