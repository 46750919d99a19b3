// Package status owns every state transition a dispatch can cause. The
// transition and its DeliveryAttempt are persisted atomically through
// storage.ResolveAttempt; a transition that cannot be applied (claim lost,
// message cancelled under us) discards the outcome instead of overwriting
// newer state.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarlsen/sendlater/internal/cache"
	"github.com/mkarlsen/sendlater/internal/channel"
	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/recurrence"
	"github.com/mkarlsen/sendlater/internal/retry"
	"github.com/mkarlsen/sendlater/internal/storage"
)

// Store is the slice of the message store the manager needs.
type Store interface {
	ResolveAttempt(ctx context.Context, attempt *models.DeliveryAttempt, workerToken string, res storage.Resolution) error
}

type Manager struct {
	store  Store
	policy retry.Policy
	cache  cache.SentCache
	log    zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, policy retry.Policy, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithSentCache enables best-effort caching of successful deliveries.
func (m *Manager) WithSentCache(c cache.SentCache) *Manager {
	m.cache = c
	return m
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Resolve persists the attempt and applies the policy decision for one
// dispatch of msg, which the caller must currently hold the claim for.
func (m *Manager) Resolve(ctx context.Context, msg *models.ScheduledMessage, result channel.Result) error {
	now := m.now()
	attempt := &models.DeliveryAttempt{
		ID:            models.NewID("att"),
		MessageID:     msg.ID,
		AttemptNumber: msg.Attempts + 1,
		AttemptTime:   now,
		Outcome:       result.Outcome,
		ErrorMessage:  result.Detail,
		ResponseData:  result.Response,
	}

	decision := m.policy.Decide(attempt.AttemptNumber, result.Outcome, now)
	res := m.resolution(msg, result, decision, now)

	err := m.store.ResolveAttempt(ctx, attempt, msg.ClaimedBy, res)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrCancelled):
		// Cancellation raced with dispatch; last write wins and the
		// outcome of the in-flight attempt is dropped.
		m.log.Warn().Str("message_id", msg.ID).Msg("message cancelled during dispatch, outcome discarded")
		return nil
	case errors.Is(err, storage.ErrClaimLost):
		m.log.Warn().Str("message_id", msg.ID).Msg("claim expired during dispatch, outcome discarded")
		return nil
	default:
		return err
	}

	m.logResolution(msg, attempt, res)

	if result.Outcome == models.OutcomeSuccess && m.cache != nil {
		if cerr := m.cache.StoreSent(ctx, msg.ID, attempt.AttemptNumber, now); cerr != nil {
			m.log.Error().Err(cerr).Str("message_id", msg.ID).Msg("failed to cache sent message")
		}
	}
	return nil
}

// resolution turns a policy decision into the store transition, folding in
// recurrence expansion on success.
func (m *Manager) resolution(msg *models.ScheduledMessage, result channel.Result, decision retry.Decision, now time.Time) storage.Resolution {
	switch decision.Action {
	case retry.ActionMarkSent:
		res := storage.Resolution{
			Status: models.StatusSent,
			SentAt: &now,
		}
		// The next occurrence re-queues the same row with a fresh retry
		// budget; the occurrence that just completed lives on in the
		// attempt history.
		if next, ok := recurrence.Next(msg.Recurrence, msg.ScheduledTime); ok {
			res.Status = models.StatusPending
			res.NextScheduledTime = &next
			res.ResetAttempts = true
		}
		return res

	case retry.ActionRetry:
		return storage.Resolution{
			Status:            models.StatusPending,
			NextScheduledTime: &decision.RetryAt,
			LastError:         result.Detail,
		}

	default:
		return storage.Resolution{
			Status:    models.StatusFailed,
			LastError: result.Detail,
			FailedAt:  &now,
		}
	}
}

func (m *Manager) logResolution(msg *models.ScheduledMessage, attempt *models.DeliveryAttempt, res storage.Resolution) {
	ev := m.log.Info()
	switch {
	case res.Status == models.StatusFailed:
		ev = m.log.Warn()
	case res.Status == models.StatusPending && !res.ResetAttempts:
		ev = m.log.Info().Time("retry_at", *res.NextScheduledTime)
	case res.ResetAttempts:
		ev = m.log.Info().Time("next_occurrence", *res.NextScheduledTime)
	}
	ev.
		Str("message_id", msg.ID).
		Str("platform", string(msg.Platform)).
		Int("attempt", attempt.AttemptNumber).
		Str("outcome", string(attempt.Outcome)).
		Str("new_status", string(res.Status)).
		Msg("attempt resolved")
}
