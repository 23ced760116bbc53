package intercom

import "time"

// CallState is the device-reported call state.
type CallState string

// Call states reported by /api/call/status. Any value the device returns
// outside this set maps to CallStateUnknown.
const (
	CallStateIdle      CallState = "idle"
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
	CallStateUnknown   CallState = "unknown"
)

// CallerInfo carries the caller metadata attached to a call, when the
// device resolves it. All fields are best-effort; early polls during a
// ring may return the call state before the caller fields populate.
type CallerInfo struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	Button int    `json:"button,omitempty"`
}

// Merge fills empty fields of c from other, never overwriting populated
// ones. Used by the ring detector as caller metadata resolves across
// successive polls of one ring episode.
func (c CallerInfo) Merge(other CallerInfo) CallerInfo {
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.Number == "" {
		c.Number = other.Number
	}
	if c.Button == 0 {
		c.Button = other.Button
	}
	return c
}

// IsZero reports whether no caller field is populated.
func (c CallerInfo) IsZero() bool {
	return c.Name == "" && c.Number == "" && c.Button == 0
}

// CallSnapshot is the point-in-time result of one status poll.
//
// Snapshots are immutable values: a new one is produced each poll cycle
// and never mutated after creation.
type CallSnapshot struct {
	// Ringing is true when the device reports an incoming ring.
	Ringing bool

	// State is the normalised call state.
	State CallState

	// Direction is the raw call direction string, when reported.
	Direction string

	// Caller is the caller metadata, nil until the device resolves it.
	Caller *CallerInfo

	// ObservedAt is when the poll response was received.
	ObservedAt time.Time

	// Latency is the round-trip time of the status request.
	Latency time.Duration
}

// DirectoryEntry is one user record from /api/dir/query.
type DirectoryEntry struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Buttons string `json:"buttons,omitempty"`
}

// SystemInfo is the device identity from /api/system/info.
type SystemInfo struct {
	Variant         string `json:"variant"`
	SerialNumber    string `json:"serialNumber"`
	HWVersion       string `json:"hwVersion"`
	SWVersion       string `json:"swVersion"`
	BuildType       string `json:"buildType"`
	DeviceName      string `json:"deviceName"`
	MACAddr         string `json:"macAddr"`
	UpTime          int64  `json:"upTime"`
	FirmwarePackage string `json:"firmwarePackage,omitempty"`
}

// RelayAction is a raw action accepted by /api/switch/ctrl.
type RelayAction string

// Actions accepted by the switch control endpoint.
const (
	RelayActionOn      RelayAction = "on"
	RelayActionOff     RelayAction = "off"
	RelayActionTrigger RelayAction = "trigger"
)
