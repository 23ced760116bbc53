package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// disconnectedClient returns a client that was never connected.
// Validation paths must fail cleanly before touching the paho layer.
func disconnectedClient() *Client {
	return &Client{
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{"empty topic", "", ErrInvalidTopic},
		{"single level wildcard", "intercom/+/ring", ErrInvalidTopic},
		{"multi level wildcard", "intercom/#", ErrInvalidTopic},
		{"valid topic but disconnected", "intercom/front-door/ring", ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, []byte("{}"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish(%q) = %v, want %v", tt.topic, err, tt.wantErr)
			}
		})
	}
}

func TestPublishRetainedValidation(t *testing.T) {
	c := disconnectedClient()

	if err := c.PublishRetained("intercom/#", []byte("{}")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("PublishRetained with wildcard = %v, want ErrInvalidTopic", err)
	}
	if err := c.PublishRetained("intercom/front-door/availability", []byte("online")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	handler := func(topic string, payload []byte) error { return nil }

	if err := c.Subscribe("", handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe with empty topic = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("intercom/+/relay/+/set", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe with nil handler = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("intercom/+/relay/+/set", handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe with empty topic = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("intercom/+/relay/+/set"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck while disconnected = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck with cancelled context = %v, want context.Canceled", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := disconnectedClient()

	if c.SubscriptionCount() != 0 {
		t.Fatalf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("intercom/+/relay/+/set") {
		t.Error("HasSubscription reported a subscription that was never made")
	}
}

func TestCloseNilClient(t *testing.T) {
	c := disconnectedClient()
	if err := c.Close(); err != nil {
		t.Errorf("Close on never-connected client = %v, want nil", err)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("intercomd-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status field: %s", online)
	}
	if !strings.Contains(online, "intercomd-test") {
		t.Errorf("online payload missing client ID: %s", online)
	}

	offline := buildOfflinePayload("intercomd-test")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload missing status field: %s", offline)
	}
}
