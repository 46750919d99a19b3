package channel

import (
	"context"
	"fmt"

	"github.com/mkarlsen/sendlater/internal/models"
)

// Result is what an adapter reports for one send. The adapter owns the
// classification of platform-specific errors into the three-way outcome;
// callers only act on the Outcome.
type Result struct {
	Outcome  models.Outcome
	Detail   string
	Response string
}

func Success(response string) Result {
	return Result{Outcome: models.OutcomeSuccess, Response: response}
}

func Transient(detail, response string) Result {
	return Result{Outcome: models.OutcomeTransientFailure, Detail: detail, Response: response}
}

func Permanent(detail, response string) Result {
	return Result{Outcome: models.OutcomePermanentFailure, Detail: detail, Response: response}
}

// Adapter delivers a message to one external platform.
//
// Validate is a cheap synchronous shape check of recipient and content; a
// validation error is treated as a permanent failure and never consumes a
// network attempt. Send performs the delivery and classifies the outcome.
type Adapter interface {
	Platform() models.Platform
	Validate(msg *models.ScheduledMessage) error
	Send(ctx context.Context, msg *models.ScheduledMessage) Result
}

// Registry maps platform tags to their adapters. Registration happens once
// at startup; lookups are read-only after that, so no locking is needed.
type Registry struct {
	adapters map[models.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(p models.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Register(a Adapter) error {
	if _, exists := r.adapters[a.Platform()]; exists {
		return fmt.Errorf("adapter already registered for platform %q", a.Platform())
	}
	r.adapters[a.Platform()] = a
	return nil
}
