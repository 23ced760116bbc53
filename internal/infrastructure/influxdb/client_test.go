package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect with disabled config = %v, want ErrDisabled", err)
	}
}

func TestDisconnectedClientIsSafe(t *testing.T) {
	// A zero-value client must treat all writes as no-ops and report
	// unhealthy without panicking.
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() = true for zero-value client")
	}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck = %v, want ErrNotConnected", err)
	}

	// None of these should panic even though writeAPI is nil.
	c.WritePollSample("front-door", true, 10*time.Millisecond)
	c.WriteRingEvent("front-door", 5*time.Second, "idle")
	c.WriteRelayActuation("front-door", 1, "activate", true)
	c.WriteAvailability("front-door", false)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.WritePointWithTime("custom", nil, map[string]interface{}{"v": 1}, time.Now())
	c.Flush()

	if err := c.Close(); err != nil {
		t.Errorf("Close on zero-value client = %v, want nil", err)
	}
}
