package engine

import (
	"testing"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

func TestDetectorSingleEpisode(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	caller := &intercom.CallerInfo{Name: "John Doe", Button: 1}

	started, ended := d.Observe(ringingSnap(base, caller))
	if started == nil {
		t.Fatal("first ringing snapshot did not open an episode")
	}
	if ended != nil {
		t.Fatal("first ringing snapshot must not close anything")
	}
	if started.Caller.Name != "John Doe" {
		t.Errorf("caller name = %q, want John Doe", started.Caller.Name)
	}
	if started.ID == "" {
		t.Error("episode has no ID")
	}

	// Ringing continues across two more polls: same episode, no new events.
	for i := 1; i <= 2; i++ {
		s, e := d.Observe(ringingSnap(base.Add(time.Duration(i)*5*time.Second), caller))
		if s != nil || e != nil {
			t.Fatalf("continuation poll %d produced events (started=%v ended=%v)", i, s, e)
		}
	}

	// Ring stops.
	started, ended = d.Observe(idleSnap(base.Add(15 * time.Second)))
	if started != nil {
		t.Fatal("idle snapshot opened an episode")
	}
	if ended == nil {
		t.Fatal("idle snapshot did not close the episode")
	}
	if ended.EndedBy != RingEndedIdle {
		t.Errorf("EndedBy = %q, want %q", ended.EndedBy, RingEndedIdle)
	}
	if got := ended.Duration(); got != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", got)
	}
	if ended.Caller.Name != "John Doe" || ended.Caller.Button != 1 {
		t.Errorf("closed episode caller = %+v", ended.Caller)
	}
}

func TestDetectorLateCallerMetadata(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	// First poll carries no caller; metadata resolves on the second.
	started, _ := d.Observe(ringingSnap(base, nil))
	if started == nil {
		t.Fatal("episode did not open")
	}
	if !started.Caller.IsZero() {
		t.Errorf("opening caller = %+v, want empty", started.Caller)
	}

	d.Observe(ringingSnap(base.Add(5*time.Second), &intercom.CallerInfo{Name: "Flat 2", Button: 2}))

	_, ended := d.Observe(idleSnap(base.Add(10 * time.Second)))
	if ended == nil {
		t.Fatal("episode did not close")
	}
	if ended.Caller.Name != "Flat 2" || ended.Caller.Button != 2 {
		t.Errorf("merged caller = %+v, want Flat 2 button 2", ended.Caller)
	}
}

func TestDetectorDuplicateSnapshotsIdempotent(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	snap := ringingSnap(base, &intercom.CallerInfo{Button: 1})
	opened := 0
	for i := 0; i < 3; i++ {
		started, ended := d.Observe(snap)
		if started != nil {
			opened++
		}
		if ended != nil {
			t.Fatal("duplicate snapshot closed the episode")
		}
	}
	if opened != 1 {
		t.Errorf("identical snapshots opened %d episodes, want 1", opened)
	}
}

func TestDetectorTimeoutClosesSilentRing(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	d.Observe(ringingSnap(base, nil))

	// Feed goes silent. Before the timeout, nothing expires.
	if ended := d.Expire(base.Add(29 * time.Second)); ended != nil {
		t.Fatal("episode expired before the ring timeout")
	}

	ended := d.Expire(base.Add(31 * time.Second))
	if ended == nil {
		t.Fatal("episode did not expire after the ring timeout")
	}
	if ended.EndedBy != RingEndedTimeout {
		t.Errorf("EndedBy = %q, want %q", ended.EndedBy, RingEndedTimeout)
	}

	// Detector is clean afterwards: a new ring opens a fresh episode.
	started, _ := d.Observe(ringingSnap(base.Add(time.Minute), nil))
	if started == nil {
		t.Fatal("new ring after expiry did not open an episode")
	}
	if ended != nil && started.ID == ended.ID {
		t.Error("new episode reused the expired episode's ID")
	}
}

func TestDetectorCloseOpen(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	if ended := d.CloseOpen(RingEndedTimeout); ended != nil {
		t.Fatal("CloseOpen returned an episode when none was open")
	}

	started, _ := d.Observe(ringingSnap(base, nil))
	if started == nil {
		t.Fatal("ringing snapshot did not open an episode")
	}

	ended := d.CloseOpen(RingEndedTimeout)
	if ended == nil {
		t.Fatal("CloseOpen did not close the open episode")
	}
	if ended.ID != started.ID {
		t.Error("closed episode does not match the opened one")
	}
	if ended.EndedBy != RingEndedTimeout {
		t.Errorf("EndedBy = %q, want %q", ended.EndedBy, RingEndedTimeout)
	}

	if _, stillOpen := d.OpenDeadline(); stillOpen {
		t.Error("episode still open after CloseOpen")
	}
}

func TestDetectorTwoSeparateRuns(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	var events []*RingEvent
	sequence := []intercom.CallSnapshot{
		ringingSnap(base, nil),
		idleSnap(base.Add(5 * time.Second)),
		idleSnap(base.Add(10 * time.Second)),
		ringingSnap(base.Add(15*time.Second), nil),
		idleSnap(base.Add(20 * time.Second)),
	}
	for _, snap := range sequence {
		started, ended := d.Observe(snap)
		if started != nil {
			events = append(events, started)
		}
		_ = ended
	}

	if len(events) != 2 {
		t.Fatalf("got %d episodes, want 2", len(events))
	}
	if events[0].ID == events[1].ID {
		t.Error("separate runs shared an episode ID")
	}
}

func TestDetectorOpenDeadline(t *testing.T) {
	base := time.Now()
	d := NewDetector("front-door", 30*time.Second)

	if _, ok := d.OpenDeadline(); ok {
		t.Fatal("deadline reported with no open episode")
	}

	d.Observe(ringingSnap(base, nil))
	deadline, ok := d.OpenDeadline()
	if !ok {
		t.Fatal("no deadline reported with an open episode")
	}
	if want := base.Add(30 * time.Second); !deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", deadline, want)
	}
}
