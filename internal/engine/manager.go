package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
)

// subscriptionBuffer is the per-subscriber channel depth. Subscribers
// that fall further behind lose events rather than blocking the
// engines.
const subscriptionBuffer = 32

// Manager composes one Engine per configured device and fans their
// events out to subscribers and sinks.
//
// Engines stay fully independent; the manager is plain composition
// plus a broadcast hub, with no cross-device state.
type Manager struct {
	logger  *logging.Logger
	engines map[string]*Engine
	order   []string

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	sinks       []EventSink
	started     bool
	stopped     bool
}

// Subscription is one consumer's event feed.
type Subscription struct {
	deviceID string // empty subscribes to all devices
	events   chan Event
	manager  *Manager
	once     sync.Once
}

// Events returns the feed channel. It is closed when the subscription
// is cancelled or the manager stops.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.manager.mu.Lock()
		delete(s.manager.subscribers, s)
		s.manager.mu.Unlock()
		close(s.events)
	})
}

// NewClientFunc builds a device client from its config. Injected so
// tests can substitute fakes for *intercom.Client.
type NewClientFunc func(cfg config.DeviceConfig) DeviceClient

// NewManager builds engines for every configured device.
//
// Parameters:
//   - devices: Validated device configurations
//   - newClient: Device client factory
//   - logger: Base logger
//
// Returns:
//   - *Manager: Ready to Start
//   - error: Duplicate device IDs or invalid relay kinds
func NewManager(devices []config.DeviceConfig, newClient NewClientFunc, logger *logging.Logger) (*Manager, error) {
	m := &Manager{
		logger:      logger,
		engines:     make(map[string]*Engine, len(devices)),
		subscribers: make(map[*Subscription]struct{}),
	}

	for _, device := range devices {
		if _, exists := m.engines[device.ID]; exists {
			return nil, fmt.Errorf("duplicate device id %q", device.ID)
		}
		eng, err := New(device, newClient(device), m, logger)
		if err != nil {
			return nil, err
		}
		m.engines[device.ID] = eng
		m.order = append(m.order, device.ID)
	}

	return m, nil
}

// AddSink attaches a push consumer (MQTT bridge, history writer,
// telemetry). Sinks receive every event synchronously and must not
// block. Call before Start.
func (m *Manager) AddSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Start launches every engine's polling loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for _, id := range m.order {
		m.engines[id].Start(ctx)
	}
	m.logger.Info("engine manager started", "devices", len(m.engines))
}

// Stop stops every engine and closes all subscriptions.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	subs := make([]*Subscription, 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, id := range m.order {
		m.engines[id].Stop()
	}
	for _, sub := range subs {
		sub.Cancel()
	}
	m.logger.Info("engine manager stopped")
}

// Publish implements EventSink; engines deliver every event here.
// Sinks receive it synchronously; subscribers via their buffered
// channels, dropping when full.
func (m *Manager) Publish(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sink := range m.sinks {
		sink.Publish(event)
	}

	for sub := range m.subscribers {
		if sub.deviceID != "" && sub.deviceID != event.DeviceID {
			continue
		}
		select {
		case sub.events <- event:
		default:
			// Slow consumer; dropping is preferable to stalling pollers.
		}
	}
}

// Subscribe opens an event feed. An empty deviceID receives events for
// all devices.
func (m *Manager) Subscribe(deviceID string) *Subscription {
	sub := &Subscription{
		deviceID: deviceID,
		events:   make(chan Event, subscriptionBuffer),
		manager:  m,
	}
	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

// Engine returns the engine for one device.
func (m *Manager) Engine(deviceID string) (*Engine, error) {
	eng, ok := m.engines[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return eng, nil
}

// Devices returns the configured devices in config order.
func (m *Manager) Devices() []config.DeviceConfig {
	out := make([]config.DeviceConfig, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.engines[id].Config())
	}
	return out
}

// Actuate routes a command to the owning engine and publishes the
// attempt as a relay command event, so command activity reaches the
// same consumers as state changes.
func (m *Manager) Actuate(ctx context.Context, deviceID string, relayIndex int, cmd Command) error {
	eng, err := m.Engine(deviceID)
	if err != nil {
		return err
	}

	err = eng.Actuate(ctx, relayIndex, cmd)

	result := &RelayCommandResult{
		Index:    relayIndex,
		Command:  cmd,
		Accepted: err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}
	m.Publish(Event{
		Type:      EventRelayCommand,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Command:   result,
	})

	return err
}

// Health returns one device's connection health.
func (m *Manager) Health(deviceID string) (ConnectionHealth, error) {
	eng, err := m.Engine(deviceID)
	if err != nil {
		return ConnectionHealth{}, err
	}
	return eng.Health(), nil
}

// HealthAll returns every device's health keyed by device ID.
func (m *Manager) HealthAll() map[string]ConnectionHealth {
	out := make(map[string]ConnectionHealth, len(m.engines))
	for id, eng := range m.engines {
		out[id] = eng.Health()
	}
	return out
}
