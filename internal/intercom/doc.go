// Package intercom implements the HTTP client for 2N IP intercom devices.
//
// It is a thin, stateless boundary over the vendor's HTTP API. Each method
// maps to exactly one vendor endpoint; no retries, no caching, no polling.
// Retry and backoff policy belongs to the callers (the poll scheduler and
// relay actuators in internal/engine).
//
// # Vendor API Surface
//
//	GET /api/call/status      call state and caller metadata
//	GET /api/switch/ctrl      relay actuation (on/off/trigger)
//	GET /api/dir/query        directory entries for caller enrichment
//	GET /api/camera/snapshot  JPEG snapshot
//	GET /api/system/info      firmware and hardware identity
//
// All endpoints use HTTP Basic authentication and wrap responses in a
// common envelope:
//
//	{"success": true, "result": {...}}
//	{"success": false, "error": {"code": 12, "description": "..."}}
//
// # Error Taxonomy
//
// Every method classifies failures into three sentinel errors, checked
// with errors.Is():
//
//   - ErrConnection: network-level failure (dial, timeout, TLS)
//   - ErrAuth: 401/403 from the device (credentials rejected)
//   - ErrProtocol: reachable device returned something unparseable or
//     an envelope-level error
//
// # TLS
//
// 2N devices ship with self-signed certificates. Certificate verification
// is therefore off by default and opt-in per device (verify_tls in
// config.yaml).
package intercom
