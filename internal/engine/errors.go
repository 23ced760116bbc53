package engine

import "errors"

// Sentinel errors for engine operations.
//
// These can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, engine.ErrBusy) {
//	    // Normal rejected-transition outcome, not a fault
//	}
var (
	// ErrBusy indicates an actuator rejected a command because a
	// transition is already in flight or the cooldown has not elapsed.
	// This is a normal outcome and distinct from hardware failure.
	ErrBusy = errors.New("engine: relay busy")

	// ErrUnavailable indicates a command was rejected fast because the
	// device's health is currently unavailable. Commands are never
	// queued while the device is unreachable.
	ErrUnavailable = errors.New("engine: device unavailable")

	// ErrReauthRequired indicates the device rejected the configured
	// credentials. Polling is stopped; operator intervention is needed.
	ErrReauthRequired = errors.New("engine: device needs reauthorisation")

	// ErrUnknownDevice indicates no engine exists for the device ID.
	ErrUnknownDevice = errors.New("engine: unknown device")

	// ErrUnknownRelay indicates the relay index is not configured on
	// the device.
	ErrUnknownRelay = errors.New("engine: unknown relay")

	// ErrInvalidCommand indicates the command does not apply to the
	// relay's kind (e.g. open on a door, activate on a gate).
	ErrInvalidCommand = errors.New("engine: invalid command for relay kind")

	// ErrStopped indicates the engine has been stopped and no longer
	// accepts commands.
	ErrStopped = errors.New("engine: stopped")
)
