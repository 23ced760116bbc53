package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// stopTimeout bounds the stop command issued when a transition is
// interrupted.
const stopTimeout = 5 * time.Second

// GateActuator drives one relay as a timed cover. The gate hardware has
// no position feedback, so all position state is optimistic and purely
// time-derived: a transition runs its configured travel duration and
// then the end state is assumed.
//
// The state starts Unknown at boot; position is never guessed. An
// interrupted transition (Stop) ends in Unknown for the same reason.
type GateActuator struct {
	deviceID string
	cfg      config.RelayConfig
	client   RelayController
	store    *Store
	sink     EventSink
	logger   *logging.Logger

	travel time.Duration

	mu       sync.Mutex
	state    RelayState
	inFlight bool
	timer    *time.Timer
	closed   bool

	now func() time.Time
}

// NewGateActuator creates the actuator in the Unknown state.
func NewGateActuator(deviceID string, cfg config.RelayConfig, client RelayController, store *Store, sink EventSink, logger *logging.Logger) *GateActuator {
	return &GateActuator{
		deviceID: deviceID,
		cfg:      cfg,
		client:   client,
		store:    store,
		sink:     sink,
		logger:   logger.With("device_id", deviceID, "relay_index", cfg.Index),
		travel:   cfg.GetDuration(),
		state:    RelayStateUnknown,
		now:      time.Now,
	}
}

// Open starts the gate opening. Legal from Closed and Unknown; any
// other state returns ErrBusy. On success the state moves to Opening
// and settles at Open after the travel duration, with no further relay
// commands in between.
func (g *GateActuator) Open(ctx context.Context) error {
	return g.transition(ctx, RelayStateOpening, RelayStateClosed, RelayStateUnknown)
}

// Close starts the gate closing. Legal from Open, Opening and Unknown;
// closing from Opening reverses the in-flight transition. Returns
// ErrBusy from Closing and Closed.
func (g *GateActuator) Close(ctx context.Context) error {
	return g.transition(ctx, RelayStateClosing, RelayStateOpen, RelayStateOpening, RelayStateUnknown)
}

// transition issues the relay command and starts the travel timer.
func (g *GateActuator) transition(ctx context.Context, target RelayState, legalFrom ...RelayState) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrStopped
	}
	if g.inFlight {
		g.mu.Unlock()
		return ErrBusy
	}
	if !stateIn(g.state, legalFrom) {
		g.mu.Unlock()
		return ErrBusy
	}
	g.inFlight = true
	g.mu.Unlock()

	ok, err := g.client.ControlRelay(ctx, g.cfg.Index, intercom.RelayActionOn)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: device rejected relay command", intercom.ErrProtocol)
	}
	if g.closed {
		return ErrStopped
	}

	g.defuseLocked()
	g.setStateLocked(target)
	g.timer = time.AfterFunc(g.travel, func() { g.settle(target) })
	return nil
}

// settle moves a completed transition to its end state. Position is
// assumed from elapsed time only.
func (g *GateActuator) settle(from RelayState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.state != from {
		return
	}
	switch from {
	case RelayStateOpening:
		g.setStateLocked(RelayStateOpen)
	case RelayStateClosing:
		g.setStateLocked(RelayStateClosed)
	}
}

// Stop interrupts an in-flight transition: defuses the travel timer,
// issues a stop command, and reports Unknown since the true position
// cannot be derived without feedback. A no-op outside Opening/Closing.
func (g *GateActuator) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrStopped
	}
	if g.inFlight {
		g.mu.Unlock()
		return ErrBusy
	}
	if g.state != RelayStateOpening && g.state != RelayStateClosing {
		g.mu.Unlock()
		return nil
	}
	g.defuseLocked()
	g.inFlight = true
	g.mu.Unlock()

	_, err := g.client.ControlRelay(ctx, g.cfg.Index, intercom.RelayActionOff)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false

	// Even if the stop command failed, the transition was interrupted
	// and the timer is gone; Unknown is the only honest state.
	g.setStateLocked(RelayStateUnknown)

	if err != nil {
		g.logger.Error("gate stop command failed", "error", err)
		return err
	}
	return nil
}

// Shutdown defuses the travel timer and, if a transition was running,
// issues a best-effort stop so the engine teardown leaves no motion
// unaccounted for. The actuator accepts no commands afterwards.
func (g *GateActuator) Shutdown() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	wasMoving := g.state == RelayStateOpening || g.state == RelayStateClosing
	g.defuseLocked()
	g.mu.Unlock()

	if wasMoving {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if _, err := g.client.ControlRelay(ctx, g.cfg.Index, intercom.RelayActionOff); err != nil {
			g.logger.Error("gate stop on shutdown failed", "error", err)
		}
	}
}

// State returns the current state.
func (g *GateActuator) State() RelayState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// handle dispatches a generic command onto this actuator.
func (g *GateActuator) handle(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandOpen:
		return g.Open(ctx)
	case CommandClose:
		return g.Close(ctx)
	case CommandStop:
		return g.Stop(ctx)
	default:
		return fmt.Errorf("%w: %q on gate relay %d", ErrInvalidCommand, cmd, g.cfg.Index)
	}
}

func (g *GateActuator) shutdown() { g.Shutdown() }

func (g *GateActuator) config() config.RelayConfig { return g.cfg }

// defuseLocked stops the pending travel timer. Caller holds mu.
func (g *GateActuator) defuseLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// setStateLocked updates and publishes the state. Caller holds mu.
func (g *GateActuator) setStateLocked(state RelayState) {
	g.state = state
	g.store.SetRelayState(g.cfg.Index, state)
	g.sink.Publish(Event{
		Type:      EventRelayState,
		DeviceID:  g.deviceID,
		Timestamp: g.now(),
		Relay: &RelayChange{
			Index: g.cfg.Index,
			Name:  g.cfg.Name,
			Kind:  g.cfg.Kind,
			State: state,
		},
	})
}

func stateIn(state RelayState, set []RelayState) bool {
	for _, s := range set {
		if s == state {
			return true
		}
	}
	return false
}
