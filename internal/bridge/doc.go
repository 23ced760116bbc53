// Package bridge mirrors engine events onto MQTT and feeds relay
// commands received over MQTT back into the engine manager.
//
// The bridge is the integration surface for host automation systems
// (Home Assistant and friends). It publishes:
//
//   - intercom/{device}/ring          ring episode start/end (JSON)
//   - intercom/{device}/availability  "online"/"offline" (retained)
//   - intercom/{device}/relay/{n}     relay state changes (retained JSON)
//
// and subscribes to intercom/+/relay/+/set, accepting the plain-text
// commands "activate", "open", "close" and "stop".
//
// Outbound events pass through a buffered queue drained by a worker
// goroutine. Broker round-trips block only that worker, never the
// engines; when the queue overflows or a publish fails, the event is
// logged and dropped.
package bridge
