// Package scheduler runs the claim-and-dispatch loop. Each instance polls
// the shared store on a fixed interval, atomically claims a bounded batch of
// due messages and dispatches them concurrently. The store's conditional
// claim is the only coordination between instances.
package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarlsen/sendlater/internal/config"
	"github.com/mkarlsen/sendlater/internal/models"
)

// ClaimStore is the slice of the message store the loop needs.
type ClaimStore interface {
	ClaimDue(ctx context.Context, workerToken string, now time.Time, limit int, lease time.Duration) ([]models.ScheduledMessage, error)
}

type Scheduler struct {
	store       ClaimStore
	dispatcher  *Dispatcher
	workerToken string

	interval  time.Duration
	lease     time.Duration
	batchSize int
	workers   int

	log  zerolog.Logger
	stop chan struct{}
	wg   sync.WaitGroup

	lastTick atomic.Int64 // unix nanos of the last successful tick
}

func New(cfg config.SchedulerConfig, store ClaimStore, dispatcher *Dispatcher, log zerolog.Logger) *Scheduler {
	hostname, _ := os.Hostname()
	return &Scheduler{
		store:       store,
		dispatcher:  dispatcher,
		workerToken: models.NewWorkerToken(hostname),
		interval:    cfg.Interval,
		lease:       cfg.Lease,
		batchSize:   cfg.BatchSize,
		workers:     cfg.Workers,
		log:         log,
		stop:        make(chan struct{}),
	}
}

// WorkerToken identifies this instance in claim rows; exposed for logs and
// tests.
func (s *Scheduler) WorkerToken() string { return s.workerToken }

// LastTick reports when the last successful tick completed its claim, for
// the liveness surface. Zero means no tick has succeeded yet.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().
		Str("worker", s.workerToken).
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Int("workers", s.workers).
		Msg("starting scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping scheduler")
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sem := make(chan struct{}, s.workers)

	// Tick once immediately so a freshly started instance picks up
	// backlog without waiting a full interval.
	s.safeTick(ctx, sem)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx, sem)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, sem chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("tick panic recovered")
			ticksTotal.WithLabelValues("panic").Inc()
		}
	}()
	s.tick(ctx, sem)
}

// tick claims one batch and fans it out. A store error abandons the tick:
// no message state is guessed, the claim itself is the source of truth and
// the next interval retries.
func (s *Scheduler) tick(ctx context.Context, sem chan struct{}) {
	now := time.Now().UTC()

	claimed, err := s.store.ClaimDue(ctx, s.workerToken, now, s.batchSize, s.lease)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to claim due messages")
		ticksTotal.WithLabelValues("error").Inc()
		return
	}

	s.lastTick.Store(now.UnixNano())
	ticksTotal.WithLabelValues("ok").Inc()

	if len(claimed) == 0 {
		return
	}
	s.log.Info().Int("claimed", len(claimed)).Msg("claimed due messages")
	messagesClaimed.Add(float64(len(claimed)))

	for i := range claimed {
		msg := claimed[i]
		sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.dispatcher.Dispatch(ctx, &msg)
		}()
	}
}
