package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// actuator is the common surface of door and gate state machines.
type actuator interface {
	handle(ctx context.Context, cmd Command) error
	shutdown()
	config() config.RelayConfig
}

// Engine is the complete polling and actuation unit for one device.
//
// Configuration is immutable after construction: a config change is
// handled by stopping the engine and building a new one, never by
// mutating a running instance.
type Engine struct {
	cfg    config.DeviceConfig
	client DeviceClient
	store  *Store
	poller *Poller
	logger *logging.Logger

	// actuators by relay index; each owns disjoint hardware, so no
	// lock spans them.
	actuators map[int]actuator

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds an engine for one device.
//
// Parameters:
//   - cfg: Validated device configuration
//   - client: Device API client (typically *intercom.Client)
//   - sink: Receiver for all engine events
//   - logger: Base logger; device and relay context is attached internally
//
// Returns:
//   - *Engine: Ready to Start
//   - error: If a relay kind is unrecognised (config validation should
//     have caught this earlier)
func New(cfg config.DeviceConfig, client DeviceClient, sink EventSink, logger *logging.Logger) (*Engine, error) {
	initial := make(map[int]RelayState, len(cfg.Relays))
	for _, relay := range cfg.Relays {
		switch relay.Kind {
		case config.RelayKindDoor:
			initial[relay.Index] = RelayStateIdle
		case config.RelayKindGate:
			initial[relay.Index] = RelayStateUnknown
		default:
			return nil, fmt.Errorf("device %s relay %d: unrecognised kind %q", cfg.ID, relay.Index, relay.Kind)
		}
	}

	store := NewStore(initial)

	actuators := make(map[int]actuator, len(cfg.Relays))
	for _, relay := range cfg.Relays {
		switch relay.Kind {
		case config.RelayKindDoor:
			actuators[relay.Index] = NewDoorActuator(cfg.ID, relay, client, store, sink, logger)
		case config.RelayKindGate:
			actuators[relay.Index] = NewGateActuator(cfg.ID, relay, client, store, sink, logger)
		}
	}

	detector := NewDetector(cfg.ID, cfg.GetRingTimeout())
	poller := NewPoller(cfg.ID, client, store, detector, sink, logger, cfg.GetPollInterval())
	poller.SetEnrichFunc(newDirectoryCache(client, logger.With("device_id", cfg.ID)).Enrich)

	return &Engine{
		cfg:       cfg,
		client:    client,
		store:     store,
		poller:    poller,
		logger:    logger.With("device_id", cfg.ID),
		actuators: actuators,
	}, nil
}

// Start launches the polling loop. Idempotent after the first call.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true
	e.poller.Start(ctx)
	e.logger.Info("engine started",
		"poll_interval", e.cfg.GetPollInterval().String(),
		"relays", len(e.actuators),
	)
}

// Stop cancels the poll loop, defuses actuator timers and returns
// in-flight relays to a safe state. The engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.poller.Stop()
	for _, act := range e.actuators {
		act.shutdown()
	}
	e.logger.Info("engine stopped")
}

// Actuate runs one command against one relay and returns its outcome
// synchronously.
//
// Commands are rejected fast with ErrUnavailable while the device is
// unreachable (never queued), with ErrReauthRequired when credentials
// are rejected, and with ErrBusy when the relay is mid-transition.
func (e *Engine) Actuate(ctx context.Context, relayIndex int, cmd Command) error {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	act, ok := e.actuators[relayIndex]
	if !ok {
		return fmt.Errorf("%w: device %s relay %d", ErrUnknownRelay, e.cfg.ID, relayIndex)
	}

	health := e.store.Health()
	if health.NeedsReauth {
		return ErrReauthRequired
	}
	if !health.Available {
		return fmt.Errorf("%w: %d consecutive poll failures", ErrUnavailable, health.ConsecutiveFailures)
	}

	return act.handle(ctx, cmd)
}

// Health returns the device's connection health.
func (e *Engine) Health() ConnectionHealth {
	return e.store.Health()
}

// Snapshot returns the latest call snapshot, or ok=false before the
// first successful poll.
func (e *Engine) Snapshot() (intercom.CallSnapshot, bool) {
	return e.store.Snapshot()
}

// RelayState returns one relay's state.
func (e *Engine) RelayState(relayIndex int) (RelayState, error) {
	state, ok := e.store.RelayState(relayIndex)
	if !ok {
		return "", fmt.Errorf("%w: device %s relay %d", ErrUnknownRelay, e.cfg.ID, relayIndex)
	}
	return state, nil
}

// RelayStates returns all relay states keyed by index.
func (e *Engine) RelayStates() map[int]RelayState {
	return e.store.RelayStates()
}

// Config returns the immutable device configuration.
func (e *Engine) Config() config.DeviceConfig {
	return e.cfg
}

// Store exposes the device state store for read access.
func (e *Engine) Store() *Store {
	return e.store
}
