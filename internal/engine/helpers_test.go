package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// testLogger returns a logger that discards everything.
func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// relayCall records one ControlRelay invocation.
type relayCall struct {
	index  int
	action intercom.RelayAction
}

// fakeClient is a scriptable DeviceClient.
type fakeClient struct {
	mu sync.Mutex

	// statusFn is invoked per GetCallStatus call; defaults to idle.
	statusFn func(call int) (intercom.CallSnapshot, error)
	// relayFn is invoked per ControlRelay call; defaults to success.
	relayFn func(call relayCall) (bool, error)
	// directory returned by GetDirectory.
	directory []intercom.DirectoryEntry

	statusCalls int
	relayCalls  []relayCall
}

func (f *fakeClient) GetCallStatus(_ context.Context) (intercom.CallSnapshot, error) {
	f.mu.Lock()
	call := f.statusCalls
	f.statusCalls++
	fn := f.statusFn
	f.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return intercom.CallSnapshot{State: intercom.CallStateIdle, ObservedAt: time.Now()}, nil
}

func (f *fakeClient) ControlRelay(_ context.Context, index int, action intercom.RelayAction) (bool, error) {
	call := relayCall{index: index, action: action}
	f.mu.Lock()
	f.relayCalls = append(f.relayCalls, call)
	fn := f.relayFn
	f.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return true, nil
}

func (f *fakeClient) GetDirectory(_ context.Context) ([]intercom.DirectoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.directory, nil
}

func (f *fakeClient) calls() []relayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]relayCall, len(f.relayCalls))
	copy(out, f.relayCalls)
	return out
}

func (f *fakeClient) countActions(action intercom.RelayAction) int {
	n := 0
	for _, call := range f.calls() {
		if call.action == action {
			n++
		}
	}
	return n
}

// collectSink accumulates published events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *collectSink) ofType(t EventType) []Event {
	var out []Event
	for _, event := range s.all() {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

// waitFor polls condition until it holds or the deadline passes.
func waitFor(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return condition()
}

// Snapshot constructors for detector tests.
func ringingSnap(at time.Time, caller *intercom.CallerInfo) intercom.CallSnapshot {
	return intercom.CallSnapshot{
		Ringing:    true,
		State:      intercom.CallStateRinging,
		Caller:     caller,
		ObservedAt: at,
	}
}

func idleSnap(at time.Time) intercom.CallSnapshot {
	return intercom.CallSnapshot{
		State:      intercom.CallStateIdle,
		ObservedAt: at,
	}
}

// Relay config fixtures.
func doorRelay(index int, pulseMS int) config.RelayConfig {
	return config.RelayConfig{Index: index, Name: "door", Kind: config.RelayKindDoor, Duration: pulseMS}
}

func gateRelay(index int, travelMS int) config.RelayConfig {
	return config.RelayConfig{Index: index, Name: "gate", Kind: config.RelayKindGate, Duration: travelMS}
}
