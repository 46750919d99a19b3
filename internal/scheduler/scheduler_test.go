package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarlsen/sendlater/internal/channel"
	"github.com/mkarlsen/sendlater/internal/config"
	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/retry"
	"github.com/mkarlsen/sendlater/internal/status"
	"github.com/mkarlsen/sendlater/internal/storage"
)

type fakeClaimStore struct {
	mu       sync.Mutex
	batches  [][]models.ScheduledMessage
	claimErr error
	claims   int
	tokens   []string
}

func (f *fakeClaimStore) ClaimDue(_ context.Context, workerToken string, _ time.Time, _ int, _ time.Duration) ([]models.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.claims++
	f.tokens = append(f.tokens, workerToken)
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type fakeResolveStore struct {
	mu          sync.Mutex
	resolutions []storage.Resolution
	attempts    []*models.DeliveryAttempt
}

func (f *fakeResolveStore) ResolveAttempt(_ context.Context, attempt *models.DeliveryAttempt, _ string, res storage.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	f.resolutions = append(f.resolutions, res)
	return nil
}

func (f *fakeResolveStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolutions)
}

func (f *fakeResolveStore) resolution(i int) storage.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolutions[i]
}

type fakeAdapter struct {
	platform models.Platform
	result   channel.Result

	mu    sync.Mutex
	sends []string
}

func (f *fakeAdapter) Platform() models.Platform { return f.platform }

func (f *fakeAdapter) Validate(msg *models.ScheduledMessage) error { return nil }

func (f *fakeAdapter) Send(_ context.Context, msg *models.ScheduledMessage) channel.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, msg.ID)
	return f.result
}

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Interval:  10 * time.Millisecond,
		BatchSize: 10,
		Lease:     time.Minute,
		Workers:   4,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func claimedMsg(id string, platform models.Platform) models.ScheduledMessage {
	return models.ScheduledMessage{
		ID:            id,
		RecipientID:   "12345",
		Platform:      platform,
		Content:       "hello",
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		Status:        models.StatusProcessing,
		ClaimedBy:     "test-worker",
	}
}

func newTestScheduler(store ClaimStore, resolveStore status.Store, adapters ...channel.Adapter) *Scheduler {
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	mgr := status.NewManager(resolveStore, policy, zerolog.Nop())
	dispatcher := NewDispatcher(channel.NewRegistry(adapters...), mgr, zerolog.Nop())
	return New(testSchedulerConfig(), store, dispatcher, zerolog.Nop())
}

func TestScheduler_ClaimsAndDispatches(t *testing.T) {
	claimStore := &fakeClaimStore{
		batches: [][]models.ScheduledMessage{
			{claimedMsg("msg_1", models.PlatformTelegram), claimedMsg("msg_2", models.PlatformTelegram)},
		},
	}
	resolveStore := &fakeResolveStore{}
	adapter := &fakeAdapter{platform: models.PlatformTelegram, result: channel.Success("ok")}

	s := newTestScheduler(claimStore, resolveStore, adapter)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return resolveStore.count() == 2 })

	if adapter.sendCount() != 2 {
		t.Fatalf("adapter sends = %d, want 2", adapter.sendCount())
	}
	for i := 0; i < 2; i++ {
		if got := resolveStore.resolution(i).Status; got != models.StatusSent {
			t.Fatalf("resolution %d status = %v, want sent", i, got)
		}
	}
}

func TestScheduler_EachMessageDispatchedOnce(t *testing.T) {
	// The fake hands out the batch once, mirroring an atomic claim; the
	// loop must not dispatch a claimed message twice.
	claimStore := &fakeClaimStore{
		batches: [][]models.ScheduledMessage{
			{claimedMsg("msg_once", models.PlatformTelegram)},
		},
	}
	resolveStore := &fakeResolveStore{}
	adapter := &fakeAdapter{platform: models.PlatformTelegram, result: channel.Success("ok")}

	s := newTestScheduler(claimStore, resolveStore, adapter)
	s.Start(context.Background())

	// Let several ticks pass before stopping.
	waitFor(t, time.Second, func() bool {
		claimStore.mu.Lock()
		defer claimStore.mu.Unlock()
		return claimStore.claims >= 3
	})
	s.Stop()

	if adapter.sendCount() != 1 {
		t.Fatalf("message dispatched %d times, want exactly once", adapter.sendCount())
	}
}

func TestScheduler_StoreErrorAbandonsTick(t *testing.T) {
	claimStore := &fakeClaimStore{claimErr: errors.New("store unreachable")}
	resolveStore := &fakeResolveStore{}
	adapter := &fakeAdapter{platform: models.PlatformTelegram, result: channel.Success("ok")}

	s := newTestScheduler(claimStore, resolveStore, adapter)
	s.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if adapter.sendCount() != 0 {
		t.Fatalf("nothing should be dispatched when the claim fails")
	}
	if !s.LastTick().IsZero() {
		t.Fatalf("a failed tick must not count as a successful one")
	}
}

func TestScheduler_LastTickAdvances(t *testing.T) {
	claimStore := &fakeClaimStore{}
	resolveStore := &fakeResolveStore{}

	s := newTestScheduler(claimStore, resolveStore)
	if !s.LastTick().IsZero() {
		t.Fatalf("expected zero last tick before start")
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return !s.LastTick().IsZero() })
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	claimStore := &fakeClaimStore{}
	resolveStore := &fakeResolveStore{}

	s := newTestScheduler(claimStore, resolveStore)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	waitFor(t, time.Second, func() bool {
		claimStore.mu.Lock()
		defer claimStore.mu.Unlock()
		return claimStore.claims >= 1
	})
	cancel()
	time.Sleep(30 * time.Millisecond)

	claimStore.mu.Lock()
	after := claimStore.claims
	claimStore.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	claimStore.mu.Lock()
	later := claimStore.claims
	claimStore.mu.Unlock()

	if later != after {
		t.Fatalf("loop kept ticking after context cancel: %d -> %d", after, later)
	}
}

func TestScheduler_WorkerTokensAreStable(t *testing.T) {
	claimStore := &fakeClaimStore{}
	resolveStore := &fakeResolveStore{}

	s := newTestScheduler(claimStore, resolveStore)
	s.Start(context.Background())
	waitFor(t, time.Second, func() bool {
		claimStore.mu.Lock()
		defer claimStore.mu.Unlock()
		return claimStore.claims >= 2
	})
	s.Stop()

	claimStore.mu.Lock()
	defer claimStore.mu.Unlock()
	for _, tok := range claimStore.tokens {
		if tok != s.WorkerToken() {
			t.Fatalf("claim used token %q, scheduler token is %q", tok, s.WorkerToken())
		}
	}
}

func TestDispatcher_UnknownPlatformIsPermanent(t *testing.T) {
	t.Parallel()

	resolveStore := &fakeResolveStore{}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	mgr := status.NewManager(resolveStore, policy, zerolog.Nop())
	d := NewDispatcher(channel.NewRegistry(), mgr, zerolog.Nop())

	msg := claimedMsg("msg_unknown", models.PlatformSlack)
	d.Dispatch(context.Background(), &msg)

	if resolveStore.count() != 1 {
		t.Fatalf("expected 1 resolution, got %d", resolveStore.count())
	}
	if got := resolveStore.resolution(0).Status; got != models.StatusFailed {
		t.Fatalf("status = %v, want failed (misconfiguration is not retried)", got)
	}
}

type rejectingAdapter struct {
	fakeAdapter
}

func (r *rejectingAdapter) Validate(msg *models.ScheduledMessage) error {
	return errors.New("recipient malformed")
}

func TestDispatcher_ValidationFailureSkipsSend(t *testing.T) {
	t.Parallel()

	resolveStore := &fakeResolveStore{}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	mgr := status.NewManager(resolveStore, policy, zerolog.Nop())

	adapter := &rejectingAdapter{fakeAdapter{platform: models.PlatformTelegram, result: channel.Success("ok")}}
	d := NewDispatcher(channel.NewRegistry(adapter), mgr, zerolog.Nop())

	msg := claimedMsg("msg_invalid", models.PlatformTelegram)
	d.Dispatch(context.Background(), &msg)

	if adapter.sendCount() != 0 {
		t.Fatalf("validation failure must not consume a network attempt")
	}
	if got := resolveStore.resolution(0).Status; got != models.StatusFailed {
		t.Fatalf("status = %v, want failed", got)
	}
}
