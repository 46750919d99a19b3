package models

import (
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

// NewWorkerToken identifies one scheduler instance for the lifetime of its
// process. The token is opaque; it only has to differ between instances so
// that claim ownership checks in the store are unambiguous.
func NewWorkerToken(hostname string) string {
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString())
}
