package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/mqtt"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// Subscriber is the slice of the MQTT client the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// RequestRecorder records one inbound request outcome in the request
// log. Implementations write asynchronously.
type RequestRecorder interface {
	Record(deviceID, endpoint, status, message string)
}

// Request log status values shared with the HTTP surface.
const (
	StatusSuccess          = "SUCCESS"
	StatusValidationFailed = "VALIDATION_FAILED"
	StatusError            = "ERROR"
)

// telemetryPayload is the MQTT body on hanibi/{deviceId}/telemetry.
// Identical to the HTTP report body minus deviceId, which the topic
// carries.
type telemetryPayload struct {
	Timestamp        *time.Time   `json:"timestamp,omitempty"`
	SensorData       SensorValues `json:"sensorData"`
	ProcessingStatus string       `json:"processingStatus,omitempty"`
}

// heartbeatPayload is the MQTT body on hanibi/{deviceId}/heartbeat.
type heartbeatPayload struct {
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	WifiSignal      *int       `json:"wifiSignal,omitempty"`
	FirmwareVersion *string    `json:"firmwareVersion,omitempty"`
}

// eventPayload is the MQTT body on hanibi/{deviceId}/event.
type eventPayload struct {
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	EventType string            `json:"eventType"`
	SessionID *string           `json:"sessionId,omitempty"`
	EventData session.EventData `json:"eventData,omitempty"`
}

// Consumer feeds MQTT device messages into the ingest service. It is
// a thin adapter: parsing and topic routing here, all semantics in the
// Service.
type Consumer struct {
	service  *Service
	client   Subscriber
	recorder RequestRecorder
	qos      byte
	logger   Logger
}

// NewConsumer creates an MQTT consumer over the shared ingest service.
// The recorder is optional.
func NewConsumer(service *Service, client Subscriber, qos byte) *Consumer {
	return &Consumer{
		service: service,
		client:  client,
		qos:     qos,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the consumer.
func (c *Consumer) SetLogger(logger Logger) {
	c.logger = logger
}

// SetRecorder attaches the request-log recorder.
func (c *Consumer) SetRecorder(recorder RequestRecorder) {
	c.recorder = recorder
}

// Start subscribes to the device telemetry, heartbeat and event
// wildcards. Inbound handling begins as soon as this returns.
func (c *Consumer) Start() error {
	topics := mqtt.Topics{}

	subscriptions := []string{
		topics.AllDeviceTelemetry(),
		topics.AllDeviceHeartbeats(),
		topics.AllDeviceEvents(),
	}
	for _, topic := range subscriptions {
		if err := c.client.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	c.logger.Info("mqtt ingest started", "subscriptions", len(subscriptions))
	return nil
}

// handleMessage routes one inbound device message by its channel.
// Malformed messages are logged and recorded, never returned as
// errors; there is no requester to bounce them to.
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	deviceID, channel, err := mqtt.ParseDeviceTopic(topic)
	if err != nil {
		c.logger.Warn("dropping message on unroutable topic", "topic", topic, "error", err)
		return nil
	}

	ctx := context.Background()
	switch channel {
	case mqtt.ChannelTelemetry:
		c.handleTelemetry(ctx, topic, deviceID, payload)
	case mqtt.ChannelHeartbeat:
		c.handleHeartbeat(ctx, topic, deviceID, payload)
	case mqtt.ChannelEvent:
		c.handleEvent(ctx, topic, deviceID, payload)
	}
	return nil
}

func (c *Consumer) handleTelemetry(ctx context.Context, topic, deviceID string, payload []byte) {
	var body telemetryPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		c.drop(deviceID, topic, StatusValidationFailed, "malformed telemetry payload", err)
		return
	}

	result, err := c.service.HandleReport(ctx, Report{
		DeviceID:         deviceID,
		Timestamp:        body.Timestamp,
		SensorData:       body.SensorData,
		ProcessingStatus: body.ProcessingStatus,
	})
	if err != nil {
		c.drop(deviceID, topic, classify(err), "sensor report rejected", err)
		return
	}

	c.record(deviceID, topic, StatusSuccess, "")
	c.logger.Debug("mqtt report accepted",
		"device_id", deviceID, "state", result.State)
}

func (c *Consumer) handleHeartbeat(ctx context.Context, topic, deviceID string, payload []byte) {
	var body heartbeatPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		c.drop(deviceID, topic, StatusValidationFailed, "malformed heartbeat payload", err)
		return
	}

	_, err := c.service.HandleHeartbeat(ctx, HeartbeatInput{
		DeviceID:        deviceID,
		Timestamp:       body.Timestamp,
		WifiSignal:      body.WifiSignal,
		FirmwareVersion: body.FirmwareVersion,
	})
	if err != nil {
		c.drop(deviceID, topic, classify(err), "heartbeat rejected", err)
		return
	}

	c.record(deviceID, topic, StatusSuccess, "")
}

func (c *Consumer) handleEvent(ctx context.Context, topic, deviceID string, payload []byte) {
	var body eventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		c.drop(deviceID, topic, StatusValidationFailed, "malformed event payload", err)
		return
	}

	result, err := c.service.HandleEvent(ctx, EventInput{
		DeviceID:  deviceID,
		Timestamp: body.Timestamp,
		EventType: body.EventType,
		SessionID: body.SessionID,
		EventData: body.EventData,
	})
	if err != nil {
		c.drop(deviceID, topic, classify(err), "event rejected", err)
		return
	}

	c.record(deviceID, topic, StatusSuccess, "")
	c.logger.Debug("mqtt event accepted",
		"device_id", deviceID, "event_type", body.EventType,
		"state", result.State, "anomalous", result.Anomalous)
}

// drop logs and records a rejected message.
func (c *Consumer) drop(deviceID, topic, status, msg string, err error) {
	c.logger.Warn("dropping mqtt message",
		"device_id", deviceID, "topic", topic, "status", status, "error", err)
	c.record(deviceID, topic, status, fmt.Sprintf("%s: %v", msg, err))
}

func (c *Consumer) record(deviceID, topic, status, message string) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(deviceID, topic, status, message)
}

// classify maps a pipeline error onto a request-log status.
func classify(err error) string {
	var validation *telemetry.ValidationError
	if errors.As(err, &validation) {
		return StatusValidationFailed
	}
	if errors.Is(err, session.ErrInvalidEventType) || errors.Is(err, device.ErrInvalidDeviceID) {
		return StatusValidationFailed
	}
	return StatusError
}
