// Package retry decides what happens to a message after a delivery attempt.
package retry

import (
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

type Action int

const (
	ActionMarkSent Action = iota
	ActionMarkFailed
	ActionRetry
)

type Decision struct {
	Action  Action
	RetryAt time.Time
}

// Policy holds the retry budget and backoff bounds. Delays grow as
// BaseDelay * 2^(n-1) for the nth recorded attempt, capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decide maps an attempt outcome to the message's next state. attempts is
// the total number of recorded attempts including the one just made.
//
// Permanent failures dead-letter immediately: retrying them would only burn
// the budget on an outcome that cannot change.
func (p Policy) Decide(attempts int, outcome models.Outcome, now time.Time) Decision {
	switch outcome {
	case models.OutcomeSuccess:
		return Decision{Action: ActionMarkSent}
	case models.OutcomePermanentFailure:
		return Decision{Action: ActionMarkFailed}
	}

	if attempts >= p.MaxAttempts {
		return Decision{Action: ActionMarkFailed}
	}
	return Decision{Action: ActionRetry, RetryAt: now.Add(p.Backoff(attempts))}
}

// Backoff returns the delay before the attempt after the nth one.
func (p Policy) Backoff(attempts int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
