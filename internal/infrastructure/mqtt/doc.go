// Package mqtt provides MQTT client connectivity for intercomd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the boundary between the intercom engine and host automation
// bridges (Home Assistant, openHAB, scripts). The engine publishes ring
// events, relay states, and device availability; bridges may send relay
// commands back over the command topics.
//
//	intercomd ↔ MQTT Broker ↔ automation bridges
//
// The broker is optional: with mqtt.enabled=false the engine runs with
// the HTTP API and WebSocket stream only.
//
// # Security Considerations
//
//   - TLS is recommended for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Relay command topics actuate physical hardware; lock them down in
//     the broker ACL to the bridge identities that need them
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a retained relay state
//	topic := mqtt.Topics{}.RelayState("front-door", 1)
//	client.PublishRetained(topic, []byte(`{"state":"idle"}`))
//
//	// Receive relay commands from bridges
//	err = client.Subscribe(mqtt.Topics{}.RelayCommandSubscription(), 1,
//	    func(topic string, payload []byte) error {
//	        // dispatch to the engine
//	        return nil
//	    })
package mqtt
