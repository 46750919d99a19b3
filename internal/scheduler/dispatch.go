package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkarlsen/sendlater/internal/channel"
	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/status"
)

// Dispatcher routes one claimed message to its channel adapter and feeds
// the result to the status manager. It never touches message state itself.
type Dispatcher struct {
	registry *channel.Registry
	status   *status.Manager
	log      zerolog.Logger
}

func NewDispatcher(registry *channel.Registry, statusMgr *status.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		status:   statusMgr,
		log:      log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.ScheduledMessage) {
	start := time.Now()
	result := d.send(ctx, msg)

	dispatchDuration.WithLabelValues(string(msg.Platform)).Observe(time.Since(start).Seconds())
	dispatchesTotal.WithLabelValues(string(msg.Platform), string(result.Outcome)).Inc()

	if err := d.status.Resolve(ctx, msg, result); err != nil {
		// The lease will expire and another tick reclaims the message;
		// nothing was recorded so the attempt does not count.
		d.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to resolve attempt")
	}
}

func (d *Dispatcher) send(ctx context.Context, msg *models.ScheduledMessage) channel.Result {
	adapter, ok := d.registry.Get(msg.Platform)
	if !ok {
		// Misconfiguration, not a platform error; retrying cannot help.
		return channel.Permanent(fmt.Sprintf("no adapter registered for platform %q", msg.Platform), "")
	}

	if err := adapter.Validate(msg); err != nil {
		return channel.Permanent(fmt.Sprintf("validation failed: %v", err), "")
	}

	return adapter.Send(ctx, msg)
}
