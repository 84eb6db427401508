package usecase

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"agntschat/internal/domain"
)

// publishEvent publishes on bus when one is configured.
func publishEvent(bus domain.EventBus, ctx context.Context, typ domain.EventType, runID string, payload any) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, domain.NewEvent(typ, runID, payload))
}

// newID returns a new ULID string.
func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
