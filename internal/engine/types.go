package engine

import (
	"context"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// RelayState is the externally visible state of one relay.
type RelayState string

// Momentary switch (door) states.
const (
	RelayStateIdle   RelayState = "idle"
	RelayStateActive RelayState = "active"
)

// Timed cover (gate) states. Position is purely time-derived; Unknown is
// reported whenever a transition was interrupted and the true position
// cannot be inferred.
const (
	RelayStateClosed  RelayState = "closed"
	RelayStateOpening RelayState = "opening"
	RelayStateOpen    RelayState = "open"
	RelayStateClosing RelayState = "closing"
	RelayStateUnknown RelayState = "unknown"
)

// Command is an actuation request against one relay.
type Command string

// Commands accepted by Actuate. Activate applies to door relays; the
// rest apply to gate relays.
const (
	CommandActivate Command = "activate"
	CommandOpen     Command = "open"
	CommandClose    Command = "close"
	CommandStop     Command = "stop"
)

// ConnectionHealth describes one device's reachability.
//
// Owned exclusively by the poller; consumers read copies.
type ConnectionHealth struct {
	// Available is false once consecutive failures pass the threshold,
	// and true again after any successful poll.
	Available bool `json:"available"`

	// NeedsReauth is sticky: set when the device rejects credentials,
	// cleared only by reconfiguration (engine replacement).
	NeedsReauth bool `json:"needs_reauth"`

	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextRetryAt         time.Time `json:"next_retry_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// RingEndReason records why a ring episode was closed.
type RingEndReason string

const (
	// RingEndedIdle means a snapshot reported ringing=false.
	RingEndedIdle RingEndReason = "idle"

	// RingEndedTimeout means no ringing snapshot arrived within the
	// ring timeout; the episode was closed implicitly.
	RingEndedTimeout RingEndReason = "timeout"
)

// RingEvent is one de-duplicated doorbell episode.
//
// Exactly one RingEvent is open per device at a time. EndedBy is empty
// while the episode is still open.
type RingEvent struct {
	ID              string              `json:"id"`
	DeviceID        string              `json:"device_id"`
	Caller          intercom.CallerInfo `json:"caller"`
	FirstObservedAt time.Time           `json:"first_observed_at"`
	LastObservedAt  time.Time           `json:"last_observed_at"`
	EndedBy         RingEndReason       `json:"ended_by,omitempty"`
}

// Duration is the observed span of the episode.
func (r RingEvent) Duration() time.Duration {
	return r.LastObservedAt.Sub(r.FirstObservedAt)
}

// EventType discriminates engine events.
type EventType string

const (
	EventSnapshot     EventType = "snapshot"
	EventRingStart    EventType = "ring_start"
	EventRingEnd      EventType = "ring_end"
	EventAvailability EventType = "availability"
	EventRelayState   EventType = "relay_state"
	EventRelayCommand EventType = "relay_command"
)

// Event is one engine output delivered to subscribers.
//
// Exactly one payload field is populated, selected by Type. Events are
// immutable values; payload pointers reference copies, never live
// engine state.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	Snapshot *intercom.CallSnapshot `json:"snapshot,omitempty"`
	Ring     *RingEvent             `json:"ring,omitempty"`
	Health   *ConnectionHealth      `json:"health,omitempty"`
	Relay    *RelayChange           `json:"relay,omitempty"`
	Command  *RelayCommandResult    `json:"command,omitempty"`
}

// RelayChange is the payload of a relay state transition event.
type RelayChange struct {
	Index int        `json:"index"`
	Name  string     `json:"name"`
	Kind  string     `json:"kind"`
	State RelayState `json:"state"`
}

// RelayCommandResult is the payload of a relay command event,
// published once per actuation attempt against a known device.
type RelayCommandResult struct {
	Index    int     `json:"index"`
	Command  Command `json:"command"`
	Accepted bool    `json:"accepted"`
	Error    string  `json:"error,omitempty"`
}

// StatusClient is the slice of the device client used by the poller.
type StatusClient interface {
	GetCallStatus(ctx context.Context) (intercom.CallSnapshot, error)
}

// RelayController is the slice of the device client used by actuators.
type RelayController interface {
	ControlRelay(ctx context.Context, index int, action intercom.RelayAction) (bool, error)
}

// DirectoryClient is the slice of the device client used for caller
// enrichment.
type DirectoryClient interface {
	GetDirectory(ctx context.Context) ([]intercom.DirectoryEntry, error)
}

// DeviceClient is the full device surface an engine needs.
// *intercom.Client satisfies it.
type DeviceClient interface {
	StatusClient
	RelayController
	DirectoryClient
}

// EventSink receives engine events. Implementations must not block;
// slow consumers are expected to buffer or drop.
type EventSink interface {
	Publish(event Event)
}

// sinkFunc adapts a function to the EventSink interface.
type sinkFunc func(Event)

func (f sinkFunc) Publish(event Event) { f(event) }
