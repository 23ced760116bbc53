package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/mqtt"
)

// commandTimeout bounds the actuation triggered by one MQTT command.
const commandTimeout = 10 * time.Second

// eventQueueSize is how many engine events can sit waiting for the
// broker. Broker round-trips block for up to the publish timeout, so
// the queue absorbs bursts; past that, events are dropped.
const eventQueueSize = 256

// Availability payload values, Home Assistant convention.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// MQTTClient is the broker surface the bridge needs.
// *mqtt.Client satisfies it; tests substitute a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
	PublishString(topic string, payload string) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Commander dispatches relay commands to a device engine.
// *engine.Manager satisfies it.
type Commander interface {
	Actuate(ctx context.Context, deviceID string, relayIndex int, cmd engine.Command) error
}

// Bridge translates between engine events and MQTT messages.
// It implements engine.EventSink for the outbound direction.
//
// Outbound events are queued and published from a dedicated goroutine,
// so a slow or congested broker never stalls the engines delivering
// them.
//
// Thread safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt      MQTTClient
	commander Commander
	topics    mqtt.Topics
	logger    *logging.Logger

	events   chan engine.Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options holds the collaborators for creating a bridge.
type Options struct {
	// MQTTClient is the connected broker client.
	MQTTClient MQTTClient

	// Commander routes inbound relay commands, normally *engine.Manager.
	Commander Commander

	// Logger is the structured logger. Required.
	Logger *logging.Logger
}

// New creates a bridge. Call Start to subscribe to command topics,
// and register the bridge as an event sink on the manager.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Bridge{
		mqtt:      opts.MQTTClient,
		commander: opts.Commander,
		logger:    opts.Logger,
		events:    make(chan engine.Event, eventQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Start subscribes to the relay command topic and launches the
// outbound publish worker. Call Close to stop the worker.
func (b *Bridge) Start() error {
	topic := b.topics.RelayCommandSubscription()
	if err := b.mqtt.Subscribe(topic, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to relay commands: %w", err)
	}

	b.wg.Add(1)
	go b.publishLoop()

	b.logger.Info("bridge subscribed to relay commands", "topic", topic)
	return nil
}

// Close stops the publish worker. Events still queued are abandoned.
// Safe to call more than once.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// ringPayload is the wire form of a ring episode message. Active
// distinguishes episode start from episode end on the same topic.
type ringPayload struct {
	Active bool `json:"active"`
	engine.RingEvent
}

// Publish implements engine.EventSink. It enqueues the event and
// returns immediately; when the queue is full the event is dropped,
// keeping the engine sink contract of never blocking the caller.
func (b *Bridge) Publish(event engine.Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("event queue full, dropping event",
			"type", string(event.Type),
			"device_id", event.DeviceID)
	}
}

// publishLoop drains the event queue onto the broker. Broker
// round-trips block here, away from the engines.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case event := <-b.events:
			b.publishEvent(event)
		}
	}
}

// publishEvent maps one engine event onto its MQTT topic. Broker
// errors are logged and the event is dropped.
func (b *Bridge) publishEvent(event engine.Event) {
	switch event.Type {
	case engine.EventRingStart, engine.EventRingEnd:
		if event.Ring == nil {
			return
		}
		b.publishJSON(b.topics.DeviceRing(event.DeviceID), ringPayload{
			Active:    event.Type == engine.EventRingStart,
			RingEvent: *event.Ring,
		}, false)

	case engine.EventAvailability:
		if event.Health == nil {
			return
		}
		payload := payloadOffline
		if event.Health.Available {
			payload = payloadOnline
		}
		topic := b.topics.DeviceAvailability(event.DeviceID)
		if err := b.mqtt.PublishRetained(topic, []byte(payload)); err != nil {
			b.logger.Warn("availability publish failed", "topic", topic, "error", err)
		}

	case engine.EventRelayState:
		if event.Relay == nil {
			return
		}
		b.publishJSON(b.topics.RelayState(event.DeviceID, event.Relay.Index), event.Relay, true)
	}
}

func (b *Bridge) publishJSON(topic string, payload any, retained bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event marshal failed", "topic", topic, "error", err)
		return
	}

	if retained {
		err = b.mqtt.PublishRetained(topic, data)
	} else {
		err = b.mqtt.Publish(topic, data)
	}
	if err != nil {
		b.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}

// handleCommand parses an inbound relay command message and dispatches
// it to the engine. Malformed topics and payloads are rejected without
// touching hardware.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, relayIndex, ok := mqtt.ParseRelayCommandTopic(topic)
	if !ok {
		return fmt.Errorf("unrecognised command topic %q", topic)
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		return fmt.Errorf("command on %q: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.commander.Actuate(ctx, deviceID, relayIndex, cmd); err != nil {
		return fmt.Errorf("actuating %s relay %d: %w", deviceID, relayIndex, err)
	}

	b.logger.Info("relay command dispatched",
		"device_id", deviceID,
		"relay", relayIndex,
		"command", string(cmd))
	return nil
}

// parseCommand maps a plain-text MQTT payload to an engine command.
func parseCommand(payload []byte) (engine.Command, error) {
	cmd := engine.Command(strings.ToLower(strings.TrimSpace(string(payload))))
	switch cmd {
	case engine.CommandActivate, engine.CommandOpen, engine.CommandClose, engine.CommandStop:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command %q", string(payload))
	}
}
