package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/mqtt"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeMQTT struct {
	mu         sync.Mutex
	messages   []published
	subscribed []string
	handler    mqtt.MessageHandler
	publishErr error

	// blocked, when set, stalls every publish until it is closed,
	// simulating a congested broker.
	blocked chan struct{}
}

func (f *fakeMQTT) Publish(topic string, payload []byte) error {
	return f.record(topic, payload, false)
}

func (f *fakeMQTT) PublishRetained(topic string, payload []byte) error {
	return f.record(topic, payload, true)
}

func (f *fakeMQTT) PublishString(topic string, payload string) error {
	return f.record(topic, []byte(payload), false)
}

func (f *fakeMQTT) record(topic string, payload []byte, retained bool) error {
	if f.blocked != nil {
		<-f.blocked
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.handler = handler
	return nil
}

func (f *fakeMQTT) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.messages))
	copy(out, f.messages)
	return out
}

type actuation struct {
	deviceID   string
	relayIndex int
	cmd        engine.Command
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []actuation
	err   error
}

func (f *fakeCommander) Actuate(_ context.Context, deviceID string, relayIndex int, cmd engine.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, actuation{deviceID: deviceID, relayIndex: relayIndex, cmd: cmd})
	return f.err
}

func (f *fakeCommander) all() []actuation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]actuation, len(f.calls))
	copy(out, f.calls)
	return out
}

// newTestBridge returns a started bridge; Close runs at test cleanup.
func newTestBridge(t *testing.T) (*Bridge, *fakeMQTT, *fakeCommander) {
	t.Helper()
	broker := &fakeMQTT{}
	commander := &fakeCommander{}
	b, err := New(Options{
		MQTTClient: broker,
		Commander:  commander,
		Logger:     &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(b.Close)
	return b, broker, commander
}

// waitMessages polls until the broker has seen at least n messages.
// Publishing is asynchronous, so assertions go through here.
func waitMessages(t *testing.T, broker *fakeMQTT, n int) []published {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msgs := broker.all(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages (have %d)", n, len(broker.all()))
	return nil
}

func TestNewValidation(t *testing.T) {
	logger := &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	if _, err := New(Options{Commander: &fakeCommander{}, Logger: logger}); err == nil {
		t.Error("New accepted missing MQTT client")
	}
	if _, err := New(Options{MQTTClient: &fakeMQTT{}, Logger: logger}); err == nil {
		t.Error("New accepted missing commander")
	}
	if _, err := New(Options{MQTTClient: &fakeMQTT{}, Commander: &fakeCommander{}}); err == nil {
		t.Error("New accepted missing logger")
	}
}

func TestStartSubscribes(t *testing.T) {
	_, broker, _ := newTestBridge(t)

	if len(broker.subscribed) != 1 || broker.subscribed[0] != "intercom/+/relay/+/set" {
		t.Errorf("subscribed = %v, want relay command wildcard", broker.subscribed)
	}
}

func TestRingEventsPublished(t *testing.T) {
	b, broker, _ := newTestBridge(t)

	ring := engine.RingEvent{
		ID:              "ring-1",
		DeviceID:        "front-door",
		Caller:          intercom.CallerInfo{Name: "John Doe", Button: 1},
		FirstObservedAt: time.Now(),
		LastObservedAt:  time.Now(),
	}

	started := ring
	b.Publish(engine.Event{Type: engine.EventRingStart, DeviceID: "front-door", Ring: &started})
	ended := ring
	ended.EndedBy = engine.RingEndedIdle
	b.Publish(engine.Event{Type: engine.EventRingEnd, DeviceID: "front-door", Ring: &ended})

	msgs := waitMessages(t, broker, 2)
	for _, msg := range msgs {
		if msg.topic != "intercom/front-door/ring" {
			t.Errorf("topic = %q", msg.topic)
		}
		if msg.retained {
			t.Error("ring messages must not be retained")
		}
	}

	var start, end ringPayload
	if err := json.Unmarshal(msgs[0].payload, &start); err != nil {
		t.Fatalf("decoding start payload: %v", err)
	}
	if err := json.Unmarshal(msgs[1].payload, &end); err != nil {
		t.Fatalf("decoding end payload: %v", err)
	}
	if !start.Active || start.Caller.Name != "John Doe" {
		t.Errorf("start payload = %+v", start)
	}
	if end.Active || end.EndedBy != engine.RingEndedIdle {
		t.Errorf("end payload = %+v", end)
	}
}

func TestAvailabilityRetained(t *testing.T) {
	b, broker, _ := newTestBridge(t)

	b.Publish(engine.Event{
		Type:     engine.EventAvailability,
		DeviceID: "front-door",
		Health:   &engine.ConnectionHealth{Available: true},
	})
	b.Publish(engine.Event{
		Type:     engine.EventAvailability,
		DeviceID: "front-door",
		Health:   &engine.ConnectionHealth{Available: false, ConsecutiveFailures: 3},
	})

	msgs := waitMessages(t, broker, 2)
	if string(msgs[0].payload) != "online" || string(msgs[1].payload) != "offline" {
		t.Errorf("payloads = %q, %q", msgs[0].payload, msgs[1].payload)
	}
	for _, msg := range msgs {
		if msg.topic != "intercom/front-door/availability" || !msg.retained {
			t.Errorf("msg = %+v, want retained availability topic", msg)
		}
	}
}

func TestRelayStateRetained(t *testing.T) {
	b, broker, _ := newTestBridge(t)

	b.Publish(engine.Event{
		Type:     engine.EventRelayState,
		DeviceID: "front-door",
		Relay:    &engine.RelayChange{Index: 2, Name: "driveway gate", Kind: "gate", State: engine.RelayStateOpening},
	})

	msgs := waitMessages(t, broker, 1)
	if msgs[0].topic != "intercom/front-door/relay/2" || !msgs[0].retained {
		t.Errorf("msg = %+v", msgs[0])
	}

	var change engine.RelayChange
	if err := json.Unmarshal(msgs[0].payload, &change); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if change.State != engine.RelayStateOpening {
		t.Errorf("state = %q, want opening", change.State)
	}
}

func TestEventsWithoutPayloadDropped(t *testing.T) {
	b, broker, _ := newTestBridge(t)

	b.Publish(engine.Event{Type: engine.EventRingStart, DeviceID: "front-door"})
	b.Publish(engine.Event{Type: engine.EventAvailability, DeviceID: "front-door"})
	b.Publish(engine.Event{Type: engine.EventRelayState, DeviceID: "front-door"})
	b.Publish(engine.Event{Type: engine.EventSnapshot, DeviceID: "front-door"})

	// A trailing valid event proves the queue has drained past the
	// payload-less ones.
	b.Publish(engine.Event{
		Type:     engine.EventAvailability,
		DeviceID: "front-door",
		Health:   &engine.ConnectionHealth{Available: true},
	})

	msgs := waitMessages(t, broker, 1)
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "intercom/front-door/availability" {
		t.Errorf("topic = %q, want the trailing availability message", msgs[0].topic)
	}
}

func TestPublishNeverBlocksOnStalledBroker(t *testing.T) {
	broker := &fakeMQTT{blocked: make(chan struct{})}

	b, err := New(Options{
		MQTTClient: broker,
		Commander:  &fakeCommander{},
		Logger:     &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Release the broker before Close so the worker can exit.
	defer b.Close()
	defer close(broker.blocked)

	// Overflow the queue while the broker is wedged. Publish must
	// return promptly every time, dropping the excess.
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventQueueSize*2; i++ {
			b.Publish(engine.Event{
				Type:     engine.EventAvailability,
				DeviceID: "front-door",
				Health:   &engine.ConnectionHealth{Available: true},
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled broker")
	}
}

func TestHandleCommandDispatch(t *testing.T) {
	_, broker, commander := newTestBridge(t)

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
		want    *actuation
	}{
		{
			name:    "activate door",
			topic:   "intercom/front-door/relay/1/set",
			payload: "activate",
			want:    &actuation{deviceID: "front-door", relayIndex: 1, cmd: engine.CommandActivate},
		},
		{
			name:    "open gate with whitespace and case",
			topic:   "intercom/front-door/relay/2/set",
			payload: " OPEN\n",
			want:    &actuation{deviceID: "front-door", relayIndex: 2, cmd: engine.CommandOpen},
		},
		{
			name:    "stop gate",
			topic:   "intercom/front-door/relay/2/set",
			payload: "stop",
			want:    &actuation{deviceID: "front-door", relayIndex: 2, cmd: engine.CommandStop},
		},
		{
			name:    "unknown command",
			topic:   "intercom/front-door/relay/1/set",
			payload: "toggle",
			wantErr: true,
		},
		{
			name:    "malformed topic",
			topic:   "intercom/front-door/relay/abc/set",
			payload: "activate",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(commander.all())
			err := broker.handler(tt.topic, []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if len(commander.all()) != before {
					t.Error("rejected command reached the engine")
				}
				return
			}
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			calls := commander.all()
			if len(calls) != before+1 {
				t.Fatalf("actuations = %d, want %d", len(calls), before+1)
			}
			if got := calls[len(calls)-1]; got != *tt.want {
				t.Errorf("actuation = %+v, want %+v", got, *tt.want)
			}
		})
	}
}

func TestHandleCommandEngineError(t *testing.T) {
	_, broker, commander := newTestBridge(t)
	commander.err = engine.ErrBusy

	err := broker.handler("intercom/front-door/relay/1/set", []byte("activate"))
	if !errors.Is(err, engine.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if !strings.Contains(err.Error(), "front-door") {
		t.Errorf("error %q does not name the device", err)
	}
}
