package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
)

// Backoff and availability policy.
const (
	// maxBackoff caps the delay between poll attempts during outages.
	maxBackoff = 60 * time.Second

	// defaultFailureThreshold is how many consecutive failures mark the
	// device unavailable. One, so dependents react immediately rather
	// than waiting for the backoff cap.
	defaultFailureThreshold = 1

	// expiryGrace pushes the ring-expiry wake-up slightly past the
	// deadline so the timeout condition holds when the timer fires.
	expiryGrace = 20 * time.Millisecond
)

// backoffDelay returns the capped exponential delay after the given
// number of consecutive failures: min(2^failures, 60) seconds.
func backoffDelay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	// 2^6 already exceeds the cap.
	if failures >= 6 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(failures)) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// EnrichFunc resolves missing caller metadata when a ring opens, using
// the device directory. Best-effort; returning the input unchanged is
// always valid.
type EnrichFunc func(ctx context.Context, caller intercom.CallerInfo) intercom.CallerInfo

// Poller owns one device's polling loop and health state.
//
// It runs a single goroutine: poll, publish, sleep for the base interval
// (or the backoff delay after failures), repeat. Snapshots are delivered
// to the detector in strict arrival order because delivery happens
// inline in the loop.
type Poller struct {
	deviceID string
	client   StatusClient
	store    *Store
	detector *Detector
	sink     EventSink
	logger   *logging.Logger

	interval         time.Duration
	failureThreshold int

	// backoff and now are replaceable in tests.
	backoff func(failures int) time.Duration
	now     func() time.Time

	// enrich is optional caller enrichment, invoked when a ring opens
	// without a resolved name.
	enrich EnrichFunc

	// health is poller-owned; the store holds the published copy.
	health ConnectionHealth

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a poller for one device. Call Start to begin polling.
func NewPoller(deviceID string, client StatusClient, store *Store, detector *Detector, sink EventSink, logger *logging.Logger, interval time.Duration) *Poller {
	return &Poller{
		deviceID:         deviceID,
		client:           client,
		store:            store,
		detector:         detector,
		sink:             sink,
		logger:           logger.With("device_id", deviceID),
		interval:         interval,
		failureThreshold: defaultFailureThreshold,
		backoff:          backoffDelay,
		now:              time.Now,
	}
}

// SetEnrichFunc installs optional caller enrichment. Must be called
// before Start.
func (p *Poller) SetEnrichFunc(enrich EnrichFunc) {
	p.enrich = enrich
}

// Start launches the polling loop. The first poll happens immediately.
//
// The loop runs until Stop is called or ctx is cancelled; cancellation
// ends the in-flight request as well as the wait.
func (p *Poller) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)
}

// Stop ends the loop and waits for the goroutine to exit. Safe to call
// more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay, terminal := p.pollOnce(ctx)
		if terminal {
			return
		}
		if ctx.Err() != nil {
			return
		}

		// Close a ring left open by a silent feed.
		if ended := p.detector.Expire(p.now()); ended != nil {
			p.publishRingEnd(ended)
		}

		timer.Reset(p.nextWait(delay))
	}
}

// nextWait caps the sleep at the open ring's expiry deadline, so a long
// backoff cannot delay the implicit ring close beyond its timeout.
func (p *Poller) nextWait(delay time.Duration) time.Duration {
	deadline, ok := p.detector.OpenDeadline()
	if !ok {
		return delay
	}
	untilExpiry := deadline.Sub(p.now()) + expiryGrace
	if untilExpiry < 0 {
		untilExpiry = expiryGrace
	}
	if untilExpiry < delay {
		return untilExpiry
	}
	return delay
}

// pollOnce performs one poll attempt and returns the delay before the
// next one. terminal is true only for credential rejection, which stops
// the loop for good.
func (p *Poller) pollOnce(ctx context.Context) (delay time.Duration, terminal bool) {
	snap, err := p.client.GetCallStatus(ctx)
	now := p.now()

	switch {
	case err == nil:
		p.handleSuccess(ctx, snap, now)
		return p.interval, false

	case errors.Is(err, intercom.ErrAuth):
		p.logger.Error("device rejected credentials, polling stopped", "error", err)
		p.health.Available = false
		p.health.NeedsReauth = true
		p.health.LastError = err.Error()
		p.health.NextRetryAt = time.Time{}
		p.store.SetHealth(p.health)
		p.publishHealth(now)

		// The loop will not wake again, so a ring still open in the
		// detector has to be closed here or its end never fires.
		if ended := p.detector.CloseOpen(RingEndedTimeout); ended != nil {
			p.publishRingEnd(ended)
		}
		return 0, true

	case errors.Is(err, context.Canceled):
		return 0, true

	default:
		return p.handleFailure(err, now), false
	}
}

func (p *Poller) handleSuccess(ctx context.Context, snap intercom.CallSnapshot, now time.Time) {
	wasUnavailable := !p.health.Available

	p.health.Available = true
	p.health.ConsecutiveFailures = 0
	p.health.NextRetryAt = time.Time{}
	p.health.LastSuccessAt = now
	p.health.LastError = ""

	p.store.SetSnapshot(snap)
	p.store.SetHealth(p.health)

	if wasUnavailable {
		p.publishHealth(now)
	}

	p.sink.Publish(Event{
		Type:      EventSnapshot,
		DeviceID:  p.deviceID,
		Timestamp: now,
		Snapshot:  &snap,
	})

	started, ended := p.detector.Observe(snap)
	if started != nil {
		started = p.enrichRing(ctx, started)
		p.logger.Info("ring started", "ring_id", started.ID, "caller", started.Caller.Name)
		p.sink.Publish(Event{
			Type:      EventRingStart,
			DeviceID:  p.deviceID,
			Timestamp: now,
			Ring:      started,
		})
	}
	if ended != nil {
		p.publishRingEnd(ended)
	}
}

func (p *Poller) handleFailure(err error, now time.Time) time.Duration {
	p.health.ConsecutiveFailures++
	delay := p.backoff(p.health.ConsecutiveFailures)

	p.health.LastError = err.Error()
	p.health.NextRetryAt = now.Add(delay)

	wasAvailable := p.health.Available
	if p.health.ConsecutiveFailures >= p.failureThreshold {
		p.health.Available = false
	}
	p.store.SetHealth(p.health)

	p.logger.Warn("poll failed",
		"error", err,
		"consecutive_failures", p.health.ConsecutiveFailures,
		"retry_in", delay.String(),
	)

	if wasAvailable && !p.health.Available {
		p.publishHealth(now)
	}
	return delay
}

// enrichRing fills a missing caller name from the device directory and
// folds the result back into the open episode so the completed event
// carries it too.
func (p *Poller) enrichRing(ctx context.Context, ring *RingEvent) *RingEvent {
	if p.enrich == nil || ring.Caller.Name != "" {
		return ring
	}

	enriched := p.enrich(ctx, ring.Caller)
	p.detector.MergeCaller(enriched)

	clone := *ring
	clone.Caller = ring.Caller.Merge(enriched)
	return &clone
}

func (p *Poller) publishRingEnd(ended *RingEvent) {
	now := p.now()
	p.logger.Info("ring ended",
		"ring_id", ended.ID,
		"ended_by", string(ended.EndedBy),
		"duration", ended.Duration().String(),
	)
	p.sink.Publish(Event{
		Type:      EventRingEnd,
		DeviceID:  p.deviceID,
		Timestamp: now,
		Ring:      ended,
	})
}

func (p *Poller) publishHealth(now time.Time) {
	health := p.health
	p.sink.Publish(Event{
		Type:      EventAvailability,
		DeviceID:  p.deviceID,
		Timestamp: now,
		Health:    &health,
	})
}
