package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1MB, in line with typical
// broker limits. Capture commands and status payloads are far smaller.
const maxPayloadSize = 1 << 20

// Publish sends a message to an MQTT topic and waits for the broker's
// acknowledgement (per the requested QoS level).
//
// Retained messages are for state topics such as the system status,
// where a late subscriber should see the current value. Commands like
// camera captures must not be retained, or a rebooting device would
// replay the last one.
//
// Example:
//
//	topic := mqtt.Topics{}.CameraCapture("HANIBI-001")
//	err := client.Publish(topic, payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message with the configured
// default QoS. Use for state topics.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
