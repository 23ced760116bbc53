package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes for the intercomd MQTT namespace.
//
// All device topics use the flat scheme: intercom/{device_id}/{suffix}
const (
	// TopicPrefix is the base for all intercom topics.
	TopicPrefix = "intercom"

	// TopicPrefixSystem is the base for daemon-level topics.
	TopicPrefixSystem = "intercom/system"
)

// Topics provides builders for intercomd MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	ringTopic := topics.DeviceRing("front-door")
//	// Returns: "intercom/front-door/ring"
type Topics struct{}

// DeviceRing returns the topic for ring events from a device.
//
// Example: intercom/front-door/ring
func (Topics) DeviceRing(deviceID string) string {
	return fmt.Sprintf("%s/%s/ring", TopicPrefix, deviceID)
}

// DeviceAvailability returns the retained topic for device availability.
//
// Example: intercom/front-door/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefix, deviceID)
}

// RelayState returns the retained topic for one relay's state.
//
// Example: intercom/front-door/relay/1
func (Topics) RelayState(deviceID string, relayIndex int) string {
	return fmt.Sprintf("%s/%s/relay/%d", TopicPrefix, deviceID, relayIndex)
}

// RelayCommand returns the topic bridges publish relay commands to.
//
// Example: intercom/front-door/relay/1/set
func (Topics) RelayCommand(deviceID string, relayIndex int) string {
	return fmt.Sprintf("%s/%s/relay/%d/set", TopicPrefix, deviceID, relayIndex)
}

// RelayCommandSubscription returns the wildcard pattern covering all
// relay command topics for all configured devices.
//
// Example: intercom/+/relay/+/set
func (Topics) RelayCommandSubscription() string {
	return TopicPrefix + "/+/relay/+/set"
}

// SystemStatus returns the daemon status topic (also used as the LWT topic).
//
// Example: intercom/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ParseRelayCommandTopic extracts the device ID and relay index from a
// relay command topic (intercom/{device}/relay/{n}/set).
//
// Returns ok=false if the topic does not match the command scheme.
func ParseRelayCommandTopic(topic string) (deviceID string, relayIndex int, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[2] != "relay" || parts[4] != "set" {
		return "", 0, false
	}

	idx, err := strconv.Atoi(parts[3])
	if err != nil || parts[1] == "" {
		return "", 0, false
	}

	return parts[1], idx, true
}
