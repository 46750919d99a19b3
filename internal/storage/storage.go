package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

var (
	// ErrNotFound indicates the referenced message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrClaimLost indicates the caller no longer owns the claim it is
	// trying to resolve; another worker reclaimed the row after the lease
	// expired.
	ErrClaimLost = errors.New("claim lost")
	// ErrCancelled indicates the message was cancelled while the caller
	// held it; the outcome is discarded, not persisted.
	ErrCancelled = errors.New("message cancelled")
	// ErrTerminal indicates the message is already sent or failed and can
	// no longer change state.
	ErrTerminal = errors.New("message in terminal state")
)

// ListFilter narrows ListMessages. Zero values mean no constraint.
type ListFilter struct {
	RecipientID string
	Status      models.Status
	Limit       int
	Offset      int
}

// MessageUpdate carries the mutable fields of a not-yet-terminal message.
// Nil fields are left untouched.
type MessageUpdate struct {
	Content       *string
	ScheduledTime *time.Time
	Parameters    map[string]string
}

// Resolution describes the state transition to apply together with a
// recorded attempt. StatusPending with NextScheduledTime set re-queues the
// message: a retry, or the next occurrence when ResetAttempts is true.
type Resolution struct {
	Status            models.Status
	NextScheduledTime *time.Time
	ResetAttempts     bool
	LastError         string
	SentAt            *time.Time
	FailedAt          *time.Time
}

type Stats struct {
	Total       int64   `json:"total"`
	Pending     int64   `json:"pending"`
	Processing  int64   `json:"processing"`
	Sent        int64   `json:"sent"`
	Failed      int64   `json:"failed"`
	Cancelled   int64   `json:"cancelled"`
	Attempts    int64   `json:"attempts"`
	SuccessRate float64 `json:"success_rate"`
}

// Storage is the durable record of scheduled messages and their attempt
// history. ClaimDue and ResolveAttempt are the synchronization primitives
// the whole system relies on: both must be atomic against concurrent
// workers sharing one database.
type Storage interface {
	CreateMessage(ctx context.Context, msg *models.ScheduledMessage) error
	GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error)
	ListMessages(ctx context.Context, f ListFilter) ([]models.ScheduledMessage, error)

	// UpdateMessage applies upd while the message is still pending;
	// returns ErrCancelled/ErrTerminal/ErrClaimLost according to the
	// state that blocked it.
	UpdateMessage(ctx context.Context, id string, upd MessageUpdate) error

	// CancelMessage moves a pending or processing message to cancelled.
	CancelMessage(ctx context.Context, id string) error

	// MarkDueNow rewrites a pending message's scheduled_time so the next
	// tick claims it.
	MarkDueNow(ctx context.Context, id string, now time.Time) error

	// ClaimDue atomically claims up to limit messages that are due
	// (pending with scheduled_time <= now) or abandoned (processing with
	// an expired lease), stamping them with the worker token and a lease
	// expiring at now+lease. Concurrent callers never receive the same
	// row.
	ClaimDue(ctx context.Context, workerToken string, now time.Time, limit int, lease time.Duration) ([]models.ScheduledMessage, error)

	// ResolveAttempt records attempt and applies res in one transaction,
	// guarded on the caller still owning the claim. On ErrClaimLost,
	// ErrCancelled or ErrTerminal nothing is written.
	ResolveAttempt(ctx context.Context, attempt *models.DeliveryAttempt, workerToken string, res Resolution) error

	GetAttempts(ctx context.Context, messageID string) ([]models.DeliveryAttempt, error)

	GetStats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}
