//go:build integration

package mqtt

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
)

// Integration tests require a running MQTT broker.
//
// Run with:
//
//	MQTT_TEST_HOST=localhost MQTT_TEST_PORT=1883 go test -tags=integration ./internal/infrastructure/mqtt/
func testBrokerConfig(t *testing.T) config.MQTTConfig {
	t.Helper()

	host := os.Getenv("MQTT_TEST_HOST")
	if host == "" {
		t.Skip("MQTT_TEST_HOST not set, skipping broker integration tests")
	}

	port := 1883
	if p := os.Getenv("MQTT_TEST_PORT"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("invalid MQTT_TEST_PORT: %v", err)
		}
		port = parsed
	}

	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     port,
			ClientID: "intercomd-test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		},
		QoS: 1,
	}
}

func TestConnectAndClose(t *testing.T) {
	client, err := Connect(testBrokerConfig(t))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false after successful Connect")
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	client, err := Connect(testBrokerConfig(t))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	topic := Topics{}.RelayCommand("integration-test", 1)
	payload := []byte(`{"action":"activate"}`)

	var (
		mu       sync.Mutex
		received []byte
	)
	done := make(chan struct{})

	err = client.Subscribe(Topics{}.RelayCommandSubscription(), func(gotTopic string, gotPayload []byte) error {
		if gotTopic != topic {
			return nil
		}
		mu.Lock()
		received = append([]byte(nil), gotPayload...)
		mu.Unlock()
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := client.Publish(topic, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(payload) {
		t.Errorf("received %q, want %q", received, payload)
	}
}

func TestRetainedAvailability(t *testing.T) {
	publisher, err := Connect(testBrokerConfig(t))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer publisher.Close()

	topic := Topics{}.DeviceAvailability("integration-test")
	if err := publisher.PublishRetained(topic, []byte("online")); err != nil {
		t.Fatalf("PublishRetained failed: %v", err)
	}

	// A fresh subscriber must receive the retained message immediately.
	subscriber, err := Connect(testBrokerConfig(t))
	if err != nil {
		t.Fatalf("Connect (subscriber) failed: %v", err)
	}
	defer subscriber.Close()

	done := make(chan string, 1)
	err = subscriber.Subscribe(topic, func(_ string, payload []byte) error {
		select {
		case done <- string(payload):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case got := <-done:
		if got != "online" {
			t.Errorf("retained payload = %q, want %q", got, "online")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for retained message")
	}

	// Clean up the retained message.
	_ = publisher.PublishRetained(topic, nil)
}

func TestSubscriptionRestoredState(t *testing.T) {
	client, err := Connect(testBrokerConfig(t))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	filter := Topics{}.RelayCommandSubscription()
	if err := client.Subscribe(filter, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !client.HasSubscription(filter) {
		t.Error("HasSubscription = false after Subscribe")
	}
	if got := client.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount = %d, want 1", got)
	}

	if err := client.Unsubscribe(filter); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if client.HasSubscription(filter) {
		t.Error("HasSubscription = true after Unsubscribe")
	}
}
