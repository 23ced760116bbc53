package mqtt

import (
	"fmt"
	"strings"
)

// Publish sends a message to the specified topic.
//
// The message is published with the QoS level from configuration.
// This method blocks until the publish completes or times out.
//
// Parameters:
//   - topic: Target topic (e.g., "intercom/front-door/ring")
//   - payload: Message payload (typically JSON-encoded)
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrPublishFailed on timeout/failure
func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained sends a retained message to the specified topic.
//
// Retained messages are delivered to new subscribers immediately on
// subscription. Device availability and relay state topics use retained
// publishes so consumers see the current state without waiting for the
// next transition.
//
// Parameters:
//   - topic: Target topic (e.g., "intercom/front-door/availability")
//   - payload: Message payload (typically JSON-encoded)
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrPublishFailed on timeout/failure
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

// PublishString is a convenience method for publishing string payloads.
func (c *Client) PublishString(topic string, payload string) error {
	return c.Publish(topic, []byte(payload))
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if err := validateTopic(topic); err != nil {
		return err
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

// validateTopic checks that a topic is valid for publishing.
// Publish topics must not contain wildcards.
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
