package retry

import (
	"testing"
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

var testPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   30 * time.Second,
	MaxDelay:    30 * time.Minute,
}

func TestDecide_Success(t *testing.T) {
	t.Parallel()

	d := testPolicy.Decide(1, models.OutcomeSuccess, time.Now())
	if d.Action != ActionMarkSent {
		t.Fatalf("expected ActionMarkSent, got %v", d.Action)
	}
}

func TestDecide_PermanentShortCircuits(t *testing.T) {
	t.Parallel()

	// A permanent failure dead-letters immediately, even on attempt 1.
	d := testPolicy.Decide(1, models.OutcomePermanentFailure, time.Now())
	if d.Action != ActionMarkFailed {
		t.Fatalf("expected ActionMarkFailed, got %v", d.Action)
	}
}

func TestDecide_TransientRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	wantDelays := []time.Duration{
		30 * time.Second, // after attempt 1
		60 * time.Second, // after attempt 2
		2 * time.Minute,  // after attempt 3
		4 * time.Minute,  // after attempt 4
	}
	for i, want := range wantDelays {
		attempts := i + 1
		d := testPolicy.Decide(attempts, models.OutcomeTransientFailure, now)
		if d.Action != ActionRetry {
			t.Fatalf("attempt %d: expected ActionRetry, got %v", attempts, d.Action)
		}
		if got := d.RetryAt.Sub(now); got != want {
			t.Fatalf("attempt %d: delay = %v, want %v", attempts, got, want)
		}
	}
}

func TestDecide_DeadLetterAtMaxAttempts(t *testing.T) {
	t.Parallel()

	d := testPolicy.Decide(testPolicy.MaxAttempts, models.OutcomeTransientFailure, time.Now())
	if d.Action != ActionMarkFailed {
		t.Fatalf("expected ActionMarkFailed at max attempts, got %v", d.Action)
	}
}

func TestBackoff_MonotonicAndBounded(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		d := testPolicy.Backoff(attempts)
		if d < prev {
			t.Fatalf("backoff decreased at attempt %d: %v < %v", attempts, d, prev)
		}
		if d > testPolicy.MaxDelay {
			t.Fatalf("backoff %v exceeds max %v at attempt %d", d, testPolicy.MaxDelay, attempts)
		}
		prev = d
	}

	if got := testPolicy.Backoff(20); got != testPolicy.MaxDelay {
		t.Fatalf("expected cap at %v for large attempt counts, got %v", testPolicy.MaxDelay, got)
	}
}

func TestBackoff_NoCapConfigured(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Second}
	if got := p.Backoff(4); got != 8*time.Second {
		t.Fatalf("backoff = %v, want 8s", got)
	}
}
