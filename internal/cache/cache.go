package cache

import (
	"context"
	"time"
)

// SentCache is a best-effort record of successful deliveries for quick
// lookups by other services. Writes happen after the store commit; a cache
// failure never affects message state.
type SentCache interface {
	StoreSent(ctx context.Context, messageID string, attemptNumber int, sentAt time.Time) error
	Close() error
}
