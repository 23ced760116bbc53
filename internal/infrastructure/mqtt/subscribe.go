package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// The topic may contain MQTT wildcards:
//   - "+" matches a single level (e.g., "intercom/+/relay/+/set")
//   - "#" matches all remaining levels (must be last)
//
// The subscription is tracked and automatically restored on reconnection.
// Subscribing to an already-subscribed topic replaces the handler.
//
// Parameters:
//   - topic: Topic filter to subscribe to
//   - handler: Callback invoked for each received message
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrSubscribeFailed on failure
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for topic %s", ErrSubscribeFailed, topic)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot subscribe to %s", ErrNotConnected, topic)
	}

	qos := byte(c.cfg.QoS)
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	// Track for re-subscription on reconnect
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes the subscription for the specified topic.
//
// Parameters:
//   - topic: Topic filter to unsubscribe from
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrUnsubscribeFailed on failure
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot unsubscribe from %s", ErrNotConnected, topic)
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout unsubscribing from %s", ErrUnsubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return nil
}

// SubscriptionCount returns the number of active tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether a subscription exists for the topic filter.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
