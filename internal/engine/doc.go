// Package engine implements the per-device polling and actuation core.
//
// Each configured intercom gets one Engine instance composed of:
//
//   - a poller that reads call status on a fixed interval, applies capped
//     exponential backoff on failure, and owns the device's health state
//   - a ring detector that folds the snapshot sequence into de-duplicated
//     doorbell episodes
//   - one actuator per configured relay: a momentary switch state machine
//     for doors, a timed cover state machine for gates
//   - a state store caching the latest snapshot, health and relay states
//
// Engines are independent units. No state is shared across devices; the
// Manager composes them and fans their events out to subscribers (the
// HTTP API, the MQTT bridge, history and telemetry writers).
//
// # Ownership
//
// The store is single-writer-per-field: the poller owns snapshot and
// health, each actuator owns only its own relay's state. Subscribers
// receive immutable event values and never mutate engine state.
//
// # Failure Semantics
//
// Poll failures are absorbed into health state and backoff; they are
// never surfaced per-call. Actuation failures are surfaced synchronously
// to the caller and never retried, since repeating a relay command can
// double-fire hardware. Rejected concurrent commands return ErrBusy,
// which is a normal outcome, not a fault.
package engine
