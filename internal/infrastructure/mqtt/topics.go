package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Hanibi MQTT namespace.
//
// Device topics use the scheme: hanibi/{deviceId}/{channel}
// where channel is one of telemetry, heartbeat, event, or a
// camera sub-channel. The deviceId segment comes straight from the
// appliance firmware, so IDs are validated before they are ever used
// as a topic segment.
const (
	// TopicPrefix is the base for all Hanibi topics.
	TopicPrefix = "hanibi"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hanibi/system"
)

// Device channel names.
const (
	ChannelTelemetry = "telemetry"
	ChannelHeartbeat = "heartbeat"
	ChannelEvent     = "event"
)

// Topics provides builders for Hanibi MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	captureTopic := topics.CameraCapture("HANIBI-001")
//	// Returns: "hanibi/HANIBI-001/camera/capture"
type Topics struct{}

// DeviceTelemetry returns the topic a device publishes sensor reports to.
//
// Example: hanibi/HANIBI-001/telemetry
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, deviceID, ChannelTelemetry)
}

// DeviceHeartbeat returns the topic a device publishes heartbeats to.
//
// Example: hanibi/HANIBI-001/heartbeat
func (Topics) DeviceHeartbeat(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, deviceID, ChannelHeartbeat)
}

// DeviceEvent returns the topic a device publishes lifecycle events to.
//
// Example: hanibi/HANIBI-001/event
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, deviceID, ChannelEvent)
}

// CameraCapture returns the topic the server publishes capture commands to.
//
// Example: hanibi/HANIBI-001/camera/capture
func (Topics) CameraCapture(deviceID string) string {
	return fmt.Sprintf("%s/%s/camera/capture", TopicPrefix, deviceID)
}

// SystemStatus returns the system status topic.
//
// Example: hanibi/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceTelemetry returns a pattern matching every device's telemetry.
//
// Pattern: hanibi/+/telemetry
func (Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, ChannelTelemetry)
}

// AllDeviceHeartbeats returns a pattern matching every device's heartbeats.
//
// Pattern: hanibi/+/heartbeat
func (Topics) AllDeviceHeartbeats() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, ChannelHeartbeat)
}

// AllDeviceEvents returns a pattern matching every device's events.
//
// Pattern: hanibi/+/event
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, ChannelEvent)
}

// ParseDeviceTopic splits an inbound device topic into its deviceId and
// channel. Returns an error for topics outside the hanibi/{deviceId}/{channel}
// shape, including system topics.
func ParseDeviceTopic(topic string) (deviceID, channel string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if parts[1] == "" || parts[1] == "system" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	switch parts[2] {
	case ChannelTelemetry, ChannelHeartbeat, ChannelEvent:
		return parts[1], parts[2], nil
	}
	return "", "", fmt.Errorf("%w: unknown channel in %q", ErrInvalidTopic, topic)
}
