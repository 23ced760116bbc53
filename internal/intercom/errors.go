package intercom

import "errors"

// Sentinel errors for device API operations.
//
// These can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, intercom.ErrAuth) {
//	    // Stop polling, credentials need operator attention
//	}
var (
	// ErrConnection indicates a network-level failure reaching the device.
	// Transient; callers may retry with backoff.
	ErrConnection = errors.New("intercom: connection failed")

	// ErrAuth indicates the device rejected the configured credentials
	// (HTTP 401 or 403). Terminal; retrying with the same credentials
	// cannot succeed.
	ErrAuth = errors.New("intercom: authentication failed")

	// ErrProtocol indicates the device was reachable but returned a
	// malformed or error response.
	ErrProtocol = errors.New("intercom: protocol error")
)
