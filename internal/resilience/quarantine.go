package resilience

import (
	"sync"
	"time"

	"github.com/tradekit/portfolio-agent/internal/observ"
)

// FailureClass selects the quarantine duration. Listing-age rejections are
// structural and resolve slowly, so they sit out much longer than price
// hiccups.
type FailureClass string

const (
	FailurePrice   FailureClass = "price"
	FailureListing FailureClass = "listing_age"
	FailureTrade   FailureClass = "trade"
)

// Quarantine is the time-bounded exclusion list, keyed by symbol. Entries
// expire lazily on lookup; there is no sweeper goroutine.
type Quarantine struct {
	mu              sync.Mutex
	entries         map[string]time.Time // symbol -> expiry
	priceDuration   time.Duration
	listingDuration time.Duration
	now             func() time.Time
}

func NewQuarantine(priceDuration, listingDuration time.Duration) *Quarantine {
	return &Quarantine{
		entries:         make(map[string]time.Time),
		priceDuration:   priceDuration,
		listingDuration: listingDuration,
		now:             time.Now,
	}
}

// Add places a symbol in quarantine for the class-specific duration.
// Re-quarantining extends the expiry rather than shortening it.
func (q *Quarantine) Add(symbol string, class FailureClass) time.Time {
	d := q.priceDuration
	if class == FailureListing {
		d = q.listingDuration
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	expiry := q.now().Add(d)
	if current, ok := q.entries[symbol]; ok && current.After(expiry) {
		expiry = current
	}
	q.entries[symbol] = expiry

	observ.IncCounter("quarantine_added_total", map[string]string{"symbol": symbol, "class": string(class)})
	observ.SetGauge("quarantined_assets", float64(len(q.entries)), nil)
	observ.Log("asset_quarantined", map[string]any{
		"symbol": symbol,
		"class":  string(class),
		"until":  expiry.UTC().Format(time.RFC3339),
	})
	return expiry
}

// Active reports whether a symbol is currently excluded, removing the entry
// if it has expired.
func (q *Quarantine) Active(symbol string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	expiry, ok := q.entries[symbol]
	if !ok {
		return false
	}
	if q.now().After(expiry) {
		delete(q.entries, symbol)
		observ.SetGauge("quarantined_assets", float64(len(q.entries)), nil)
		return false
	}
	return true
}

// Snapshot returns the active entries for status reporting.
func (q *Quarantine) Snapshot() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make(map[string]time.Time, len(q.entries))
	for sym, expiry := range q.entries {
		if now.After(expiry) {
			delete(q.entries, sym)
			continue
		}
		out[sym] = expiry
	}
	observ.SetGauge("quarantined_assets", float64(len(q.entries)), nil)
	return out
}

// SetClock overrides the time source for tests.
func (q *Quarantine) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}
