package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// Detector folds one device's snapshot sequence into ring episodes.
//
// It is a pure state machine: no I/O, no timers of its own. The owning
// poller feeds it every successful snapshot in arrival order and calls
// Expire on each wake-up so a ring cannot stay open forever when the
// feed goes silent.
//
// Not safe for concurrent use; the poller is its single caller.
type Detector struct {
	deviceID    string
	ringTimeout time.Duration

	// open is the current episode, nil when no ring is in progress.
	// At most one episode is open at a time.
	open *RingEvent
}

// NewDetector creates a detector for one device.
//
// Parameters:
//   - deviceID: Stamped onto every emitted RingEvent
//   - ringTimeout: How long an episode survives without a fresh ringing
//     snapshot before it is closed implicitly
func NewDetector(deviceID string, ringTimeout time.Duration) *Detector {
	return &Detector{
		deviceID:    deviceID,
		ringTimeout: ringTimeout,
	}
}

// Observe consumes one snapshot and returns the episode boundaries it
// produced, if any. Duplicate identical snapshots are idempotent: they
// extend the open episode, never start a second one.
//
// Returns:
//   - started: Set when this snapshot opened a new episode
//   - ended: Set when this snapshot closed the open episode
func (d *Detector) Observe(snap intercom.CallSnapshot) (started, ended *RingEvent) {
	if snap.Ringing {
		if d.open == nil {
			event := &RingEvent{
				ID:              uuid.NewString(),
				DeviceID:        d.deviceID,
				FirstObservedAt: snap.ObservedAt,
				LastObservedAt:  snap.ObservedAt,
			}
			if snap.Caller != nil {
				event.Caller = *snap.Caller
			}
			d.open = event
			return copyRing(event), nil
		}

		// Same episode continues: extend and merge late caller metadata.
		if snap.ObservedAt.After(d.open.LastObservedAt) {
			d.open.LastObservedAt = snap.ObservedAt
		}
		if snap.Caller != nil {
			d.open.Caller = d.open.Caller.Merge(*snap.Caller)
		}
		return nil, nil
	}

	if d.open != nil {
		return nil, d.close(RingEndedIdle)
	}
	return nil, nil
}

// Expire closes the open episode if no ringing snapshot has arrived
// within the ring timeout. Called on every poller wake-up, including
// failed polls, so a dead link cannot leave a ring stuck open.
func (d *Detector) Expire(now time.Time) (ended *RingEvent) {
	if d.open == nil {
		return nil
	}
	if now.Sub(d.open.LastObservedAt) <= d.ringTimeout {
		return nil
	}
	return d.close(RingEndedTimeout)
}

// CloseOpen ends the open episode unconditionally with the given
// reason. Called when polling stops for good, so an in-progress ring
// still gets its end event. Returns nil when no episode is open.
func (d *Detector) CloseOpen(reason RingEndReason) (ended *RingEvent) {
	if d.open == nil {
		return nil
	}
	return d.close(reason)
}

// MergeCaller folds enrichment data (directory lookups) into the open
// episode so the completed event carries it. No-op when no episode is
// open.
func (d *Detector) MergeCaller(info intercom.CallerInfo) {
	if d.open == nil {
		return
	}
	d.open.Caller = d.open.Caller.Merge(info)
}

// OpenDeadline returns when the open episode will expire, or ok=false
// when no episode is open. The poller caps its wait at this deadline so
// timeout closure is not delayed by long backoff sleeps.
func (d *Detector) OpenDeadline() (time.Time, bool) {
	if d.open == nil {
		return time.Time{}, false
	}
	return d.open.LastObservedAt.Add(d.ringTimeout), true
}

func (d *Detector) close(reason RingEndReason) *RingEvent {
	event := d.open
	d.open = nil
	event.EndedBy = reason
	return copyRing(event)
}

func copyRing(event *RingEvent) *RingEvent {
	clone := *event
	return &clone
}
