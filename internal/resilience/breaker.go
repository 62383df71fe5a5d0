package resilience

import (
	"sync"

	"github.com/tradekit/portfolio-agent/internal/observ"
)

// Breaker counts consecutive cycle-level failures. Past the threshold the
// orchestrator pauses for a multiple of the poll interval instead of
// burning identical failing cycles. The breaker never stops the process.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	trips       int64
}

func NewBreaker(threshold int) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold}
}

// RecordSuccess resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	observ.SetGauge("breaker_open", 0, nil)
	observ.SetGauge("breaker_consecutive_failures", 0, nil)
}

// RecordFailure increments the count and reports whether the breaker just
// tripped. Tripping also resets the count so the pause is served once per
// run of failures, not on every subsequent cycle.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	observ.SetGauge("breaker_consecutive_failures", float64(b.consecutive), nil)
	if b.consecutive >= b.threshold {
		b.consecutive = 0
		b.trips++
		observ.SetGauge("breaker_open", 1, nil)
		observ.IncCounter("breaker_trips_total", nil)
		return true
	}
	return false
}

// ConsecutiveFailures returns the current failure run length.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Trips returns how many times the breaker has opened this run.
func (b *Breaker) Trips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
