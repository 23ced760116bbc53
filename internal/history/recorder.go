package history

import (
	"context"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
)

// recordTimeout bounds one insert so a wedged database cannot stall
// event delivery for long.
const recordTimeout = 5 * time.Second

// Recorder is an engine event sink that persists completed ring
// events. All other event types pass through untouched.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
	}
}

// Publish implements engine.EventSink. Persistence failures are logged
// and dropped; history is best-effort and must never break the engines.
func (r *Recorder) Publish(event engine.Event) {
	if event.Type != engine.EventRingEnd || event.Ring == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, *event.Ring); err != nil {
		r.logger.Error("recording ring event failed",
			"ring_id", event.Ring.ID,
			"device_id", event.Ring.DeviceID,
			"error", err,
		)
	}
}
