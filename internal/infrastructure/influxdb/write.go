package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePollSample records the outcome of one polling cycle against a device.
//
// This is the primary telemetry feed for intercom reachability. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the intercom (e.g., "front-door")
//   - success: Whether the poll completed without error
//   - latency: Round-trip time of the status request
//
// Example:
//
//	client.WritePollSample("front-door", true, 42*time.Millisecond)
func (c *Client) WritePollSample(deviceID string, success bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRingEvent records a completed ring event.
//
// Called once per ring, when the event closes. Duration covers first
// to last ringing observation; endedBy is "idle" or "timeout".
func (c *Client) WriteRingEvent(deviceID string, duration time.Duration, endedBy string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"ring",
		map[string]string{
			"device_id": deviceID,
			"ended_by":  endedBy,
		},
		map[string]interface{}{
			"duration_s": duration.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRelayActuation records a relay command issued against a device.
//
// Parameters:
//   - deviceID: Device identifier
//   - relayIndex: Hardware relay index (1-4)
//   - action: The issued action (e.g., "activate", "open", "close", "stop")
//   - success: Whether the device accepted the command
func (c *Client) WriteRelayActuation(deviceID string, relayIndex int, action string, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"relay",
		map[string]string{
			"device_id": deviceID,
			"action":    action,
		},
		map[string]interface{}{
			"relay_index": relayIndex,
			"success":     success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records a device availability transition.
//
// Written only on transitions, not on every poll, to keep cardinality low.
func (c *Client) WriteAvailability(deviceID string, available bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"availability",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"available": available,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "intercomd-01"},
//	    map[string]interface{}{"goroutines": 42, "memory_mb": 128})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed history).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
