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

const (
	// defaultCooldown is the minimum pause after a pulse before the next
	// activation is accepted, protecting hardware from rapid toggling.
	defaultCooldown = time.Second

	// releaseTimeout bounds the off command issued when a pulse ends.
	releaseTimeout = 5 * time.Second
)

// DoorActuator drives one relay as a momentary switch: Idle, Active,
// back to Idle after a fixed pulse duration.
//
// Commands are strictly serialised per relay: while a device call is in
// flight, or the relay is Active, further activations return ErrBusy.
// No partial-active state is ever observable; the state only becomes
// Active after the device accepted the on command.
type DoorActuator struct {
	deviceID string
	cfg      config.RelayConfig
	client   RelayController
	store    *Store
	sink     EventSink
	logger   *logging.Logger

	pulse    time.Duration
	cooldown time.Duration

	mu            sync.Mutex
	state         RelayState
	inFlight      bool
	cooldownUntil time.Time
	timer         *time.Timer
	closed        bool

	now func() time.Time
}

// NewDoorActuator creates the actuator in the Idle state.
func NewDoorActuator(deviceID string, cfg config.RelayConfig, client RelayController, store *Store, sink EventSink, logger *logging.Logger) *DoorActuator {
	return &DoorActuator{
		deviceID: deviceID,
		cfg:      cfg,
		client:   client,
		store:    store,
		sink:     sink,
		logger:   logger.With("device_id", deviceID, "relay_index", cfg.Index),
		pulse:    cfg.GetDuration(),
		cooldown: defaultCooldown,
		state:    RelayStateIdle,
		now:      time.Now,
	}
}

// Activate pulses the relay: commands it on, then off after the
// configured pulse duration.
//
// Only legal from Idle and outside the cooldown window; otherwise
// returns ErrBusy. On device failure the relay remains Idle and the
// error is surfaced; it is never retried.
func (a *DoorActuator) Activate(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrStopped
	}
	if a.inFlight || a.state != RelayStateIdle {
		a.mu.Unlock()
		return ErrBusy
	}
	if a.now().Before(a.cooldownUntil) {
		a.mu.Unlock()
		return fmt.Errorf("%w: cooldown active", ErrBusy)
	}
	a.inFlight = true
	a.mu.Unlock()

	ok, err := a.client.ControlRelay(ctx, a.cfg.Index, intercom.RelayActionOn)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = false

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: device rejected relay on command", intercom.ErrProtocol)
	}
	if a.closed {
		// Shutdown raced the command; release immediately rather than
		// leaving the relay energised with no timer to clear it.
		go a.release()
		return ErrStopped
	}

	a.setStateLocked(RelayStateActive)
	a.timer = time.AfterFunc(a.pulse, a.release)
	return nil
}

// release ends the pulse: best-effort off command, then back to Idle
// regardless. The hardware self-resets on its side; the software must
// not stay Active waiting on a dead link.
func (a *DoorActuator) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if _, err := a.client.ControlRelay(ctx, a.cfg.Index, intercom.RelayActionOff); err != nil {
		a.logger.Error("relay off command failed, forcing idle", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cooldownUntil = a.now().Add(a.cooldown)
	a.setStateLocked(RelayStateIdle)
}

// Shutdown defuses the pulse timer and releases the relay if a pulse
// was in progress. The actuator accepts no commands afterwards.
func (a *DoorActuator) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true

	needsRelease := false
	if a.timer != nil && a.timer.Stop() {
		// Timer defused before firing; the off command is now ours.
		needsRelease = a.state == RelayStateActive
	}
	a.mu.Unlock()

	if needsRelease {
		a.release()
	}
}

// State returns the current state.
func (a *DoorActuator) State() RelayState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// handle dispatches a generic command onto this actuator.
func (a *DoorActuator) handle(ctx context.Context, cmd Command) error {
	if cmd != CommandActivate {
		return fmt.Errorf("%w: %q on door relay %d", ErrInvalidCommand, cmd, a.cfg.Index)
	}
	return a.Activate(ctx)
}

func (a *DoorActuator) shutdown() { a.Shutdown() }

func (a *DoorActuator) config() config.RelayConfig { return a.cfg }

// setStateLocked updates and publishes the state. Caller holds mu.
func (a *DoorActuator) setStateLocked(state RelayState) {
	a.state = state
	a.store.SetRelayState(a.cfg.Index, state)
	a.sink.Publish(Event{
		Type:      EventRelayState,
		DeviceID:  a.deviceID,
		Timestamp: a.now(),
		Relay: &RelayChange{
			Index: a.cfg.Index,
			Name:  a.cfg.Name,
			Kind:  a.cfg.Kind,
			State: state,
		},
	})
}
