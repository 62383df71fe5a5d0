package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tradekit/portfolio-agent/internal/recall"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := WithRetry(context.Background(), policy, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return &recall.APIError{Class: recall.ErrTransient, Op: "price", Message: "timeout"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("want success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("want 3 attempts, got %d", calls)
	}
}

func TestWithRetry_StructuralStopsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	structural := &recall.APIError{Class: recall.ErrStructural, Op: "trade", Message: "insufficient balance"}
	err := WithRetry(context.Background(), policy, "test", func(context.Context) error {
		calls++
		return structural
	})
	if !errors.Is(err, structural) {
		t.Fatalf("want structural error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("structural error must not retry; got %d calls", calls)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := WithRetry(context.Background(), policy, "test", func(context.Context) error {
		calls++
		return &recall.APIError{Class: recall.ErrTransient, Op: "price", Message: "503"}
	})
	if err == nil {
		t.Fatal("want final error after exhaustion")
	}
	if calls != 3 {
		t.Fatalf("want 3 attempts, got %d", calls)
	}
}

func TestWithRetry_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		t.Fatal("op must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestQuarantine_ExpiryByClass(t *testing.T) {
	q := NewQuarantine(5*time.Minute, 30*time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.SetClock(func() time.Time { return now })

	priceUntil := q.Add("SOL", FailurePrice)
	listingUntil := q.Add("PEPE", FailureListing)

	if want := base.Add(5 * time.Minute); !priceUntil.Equal(want) {
		t.Fatalf("price expiry: want %v, got %v", want, priceUntil)
	}
	if want := base.Add(30 * time.Minute); !listingUntil.Equal(want) {
		t.Fatalf("listing expiry: want %v, got %v", want, listingUntil)
	}

	if !q.Active("SOL") || !q.Active("PEPE") {
		t.Fatal("both symbols must be quarantined")
	}

	now = base.Add(6 * time.Minute)
	if q.Active("SOL") {
		t.Fatal("SOL must be released after 5 minutes")
	}
	if !q.Active("PEPE") {
		t.Fatal("PEPE must still be quarantined")
	}

	now = base.Add(31 * time.Minute)
	if q.Active("PEPE") {
		t.Fatal("PEPE must be released after 30 minutes")
	}
}

func TestQuarantine_ReAddNeverShortens(t *testing.T) {
	q := NewQuarantine(5*time.Minute, 30*time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.SetClock(func() time.Time { return now })

	long := q.Add("SOL", FailureListing)
	short := q.Add("SOL", FailurePrice)
	if short.Before(long) {
		t.Fatalf("re-add shortened the quarantine: %v < %v", short, long)
	}
}

func TestQuarantine_SnapshotPrunesExpired(t *testing.T) {
	q := NewQuarantine(time.Minute, time.Hour)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.SetClock(func() time.Time { return now })

	q.Add("SOL", FailurePrice)
	q.Add("PEPE", FailureListing)

	now = base.Add(2 * time.Minute)
	snap := q.Snapshot()
	if _, ok := snap["SOL"]; ok {
		t.Fatal("expired SOL must not appear in snapshot")
	}
	if _, ok := snap["PEPE"]; !ok {
		t.Fatal("active PEPE must appear in snapshot")
	}
}

func TestBreaker_TripsAtThresholdAndResets(t *testing.T) {
	b := NewBreaker(3)
	if b.RecordFailure() || b.RecordFailure() {
		t.Fatal("breaker tripped early")
	}
	if !b.RecordFailure() {
		t.Fatal("want trip on third consecutive failure")
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Fatalf("trip must reset the run; got %d", got)
	}
	if got := b.Trips(); got != 1 {
		t.Fatalf("want 1 trip, got %d", got)
	}
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	b := NewBreaker(3)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.RecordFailure() || b.RecordFailure() {
		t.Fatal("run must restart after a success")
	}
}

func TestErrorTracker_PerAssetThreshold(t *testing.T) {
	tr := NewErrorTracker(3)
	tr.RecordFailure("SOL")
	tr.RecordFailure("SOL")
	tr.RecordFailure("WETH") // independent run
	if tr.RecordFailure("WETH") {
		t.Fatal("WETH at 2 failures must not cross")
	}
	if !tr.RecordFailure("SOL") {
		t.Fatal("SOL third failure must cross the threshold")
	}
	if got := tr.Failures("SOL"); got != 0 {
		t.Fatalf("crossing resets the count; got %d", got)
	}

	tr.RecordFailure("WETH")
	tr.RecordSuccess("WETH")
	if got := tr.Failures("WETH"); got != 0 {
		t.Fatalf("success must clear the run; got %d", got)
	}
}
