package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/influxdb"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsMirror receives accepted readings and closed-session metrics
// for the time-series mirror. Writes are non-blocking and best-effort;
// the SQLite store stays authoritative.
type MetricsMirror interface {
	WriteReading(deviceID string, fields influxdb.ReadingFields, observedAt time.Time)
	WriteSessionMetrics(deviceID, sessionID string, fields influxdb.SessionFields, completedAt time.Time)
}

// SensorValues carries the raw sensor fields of one report. Any field
// may be absent; -999 is the firmware's sensor-unavailable sentinel.
type SensorValues struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Gas         *float64 `json:"gas,omitempty"`
}

// Report is one inbound sensor report before normalization.
type Report struct {
	DeviceID         string
	Timestamp        *time.Time
	SensorData       SensorValues
	ProcessingStatus string
}

// HeartbeatInput is one inbound explicit heartbeat.
type HeartbeatInput struct {
	DeviceID        string
	Timestamp       *time.Time
	WifiSignal      *int
	FirmwareVersion *string
}

// EventInput is one inbound device event before type validation.
type EventInput struct {
	DeviceID  string
	Timestamp *time.Time
	EventType string
	SessionID *string
	EventData session.EventData
}

// ReportResult is the outcome of an accepted sensor report.
type ReportResult struct {
	SessionID *string
	State     session.State
}

// HeartbeatResult is the outcome of an accepted heartbeat.
type HeartbeatResult struct {
	ConnectionStatus device.ConnectionStatus
}

// EventResult is the outcome of an accepted event.
type EventResult struct {
	SessionID *string
	State     session.State
	Anomalous bool
}

// Service is the single inbound pipeline shared by all transports.
type Service struct {
	registry   *device.Registry
	engine     *session.Engine
	readings   telemetry.Repository
	cache      *telemetry.LatestCache
	dispatcher *Dispatcher
	mirror     MetricsMirror
	logger     Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates the ingest pipeline over its collaborators.
// The dispatcher and mirror are optional; nil disables the respective
// side effects.
func NewService(registry *device.Registry, engine *session.Engine, readings telemetry.Repository, cache *telemetry.LatestCache) *Service {
	return &Service{
		registry: registry,
		engine:   engine,
		readings: readings,
		cache:    cache,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetDispatcher attaches the side-effect dispatcher.
func (s *Service) SetDispatcher(d *Dispatcher) {
	s.dispatcher = d
}

// SetMirror attaches the time-series mirror.
func (s *Service) SetMirror(m MetricsMirror) {
	s.mirror = m
}

// HandleReport runs one sensor report through the pipeline:
// auto-registration, normalization, the implicit heartbeat, session
// resolution and storage. A validation failure rejects the report
// before any state is touched.
func (s *Service) HandleReport(ctx context.Context, report Report) (ReportResult, error) {
	if err := device.ValidateID(report.DeviceID); err != nil {
		return ReportResult{}, err
	}

	values, err := telemetry.Normalize(telemetry.Values{
		Temperature: report.SensorData.Temperature,
		Humidity:    report.SensorData.Humidity,
		Weight:      report.SensorData.Weight,
		Gas:         report.SensorData.Gas,
	})
	if err != nil {
		return ReportResult{}, err
	}

	receivedAt := s.now().UTC()
	observedAt := observedOrReceived(report.Timestamp, receivedAt)

	if _, err := s.registry.RegisterOrGet(ctx, report.DeviceID); err != nil {
		return ReportResult{}, err
	}
	// An accepted report counts as liveness evidence.
	if _, err := s.registry.Touch(ctx, report.DeviceID, receivedAt); err != nil {
		return ReportResult{}, err
	}

	active, err := s.engine.ApplyReading(ctx, report.DeviceID, parseProcessingStatus(report.ProcessingStatus), receivedAt)
	if err != nil {
		return ReportResult{}, err
	}

	reading := &telemetry.Reading{
		DeviceID:    report.DeviceID,
		Temperature: values.Temperature,
		Humidity:    values.Humidity,
		Weight:      values.Weight,
		Gas:         values.Gas,
		ObservedAt:  observedAt,
		ReceivedAt:  receivedAt,
	}
	if active != nil {
		id := active.SessionID
		reading.SessionID = &id
	}

	if err := s.readings.Insert(ctx, reading); err != nil {
		return ReportResult{}, fmt.Errorf("storing reading: %w", err)
	}
	s.cache.Put(reading)

	if s.mirror != nil {
		s.mirror.WriteReading(report.DeviceID, influxdb.ReadingFields{
			Temperature: values.Temperature,
			Humidity:    values.Humidity,
			Weight:      values.Weight,
			Gas:         values.Gas,
		}, observedAt)
	}

	result := ReportResult{State: session.StateIdle}
	if active != nil {
		result.SessionID = reading.SessionID
		result.State = active.State
	}
	return result, nil
}

// HandleHeartbeat records one explicit heartbeat, auto-registering the
// device on first contact.
func (s *Service) HandleHeartbeat(ctx context.Context, hb HeartbeatInput) (HeartbeatResult, error) {
	if _, err := s.registry.RegisterOrGet(ctx, hb.DeviceID); err != nil {
		return HeartbeatResult{}, err
	}

	observedAt := observedOrReceived(hb.Timestamp, s.now().UTC())
	updated, err := s.registry.RecordHeartbeat(ctx, hb.DeviceID, device.Heartbeat{
		ObservedAt:      observedAt,
		WifiSignal:      hb.WifiSignal,
		FirmwareVersion: hb.FirmwareVersion,
	})
	if err != nil {
		return HeartbeatResult{}, err
	}

	return HeartbeatResult{ConnectionStatus: updated.ConnectionStatus}, nil
}

// HandleEvent runs one device event through the state machine and
// dispatches its side effects. Duplicate deliveries are accepted but
// dispatch nothing.
func (s *Service) HandleEvent(ctx context.Context, input EventInput) (EventResult, error) {
	if err := device.ValidateID(input.DeviceID); err != nil {
		return EventResult{}, err
	}
	eventType, err := session.ParseEventType(input.EventType)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: %q", err, input.EventType)
	}

	if _, err := s.registry.RegisterOrGet(ctx, input.DeviceID); err != nil {
		return EventResult{}, err
	}

	receivedAt := s.now().UTC()
	if _, err := s.registry.Touch(ctx, input.DeviceID, receivedAt); err != nil {
		return EventResult{}, err
	}

	outcome, err := s.engine.ApplyEvent(ctx, session.Event{
		DeviceID:   input.DeviceID,
		Type:       eventType,
		SessionID:  input.SessionID,
		ObservedAt: observedOrReceived(input.Timestamp, receivedAt),
		ReceivedAt: receivedAt,
		Data:       input.EventData,
	})
	if err != nil {
		return EventResult{}, err
	}

	if outcome.Applied {
		s.applySideEffects(ctx, input.DeviceID, eventType, outcome)
	}

	result := EventResult{State: outcome.State, Anomalous: outcome.Anomalous}
	if outcome.Session != nil {
		id := outcome.Session.SessionID
		result.SessionID = &id
	}
	return result, nil
}

// applySideEffects runs the device-record and collaborator effects of
// an applied (non-duplicate) event. Device-record updates are
// best-effort here; the session transition is already committed.
func (s *Service) applySideEffects(ctx context.Context, deviceID string, eventType session.EventType, outcome session.Outcome) {
	switch eventType {
	case session.EventDoorOpened, session.EventDoorClosed:
		open := eventType == session.EventDoorOpened
		if _, err := s.registry.SetDoorState(ctx, deviceID, open); err != nil {
			s.logger.Error("failed to update door state",
				"device_id", deviceID, "open", open, "error", err)
		}

	case session.EventSensorError:
		if _, err := s.registry.MarkFault(ctx, deviceID); err != nil {
			s.logger.Error("failed to mark device faulted",
				"device_id", deviceID, "error", err)
		}

	case session.EventFoodInputBefore, session.EventFoodInputAfter:
		if s.dispatcher != nil && outcome.Session != nil {
			s.dispatcher.RequestCapture(deviceID, outcome.Session.SessionID, string(eventType))
		}
	}

	if outcome.Session != nil && (outcome.Session.State == session.StateCompleted || outcome.Session.State == session.StateError) {
		s.mirrorClosedSession(outcome.Session)
		if s.dispatcher != nil {
			s.dispatcher.SessionClosed(outcome.Session.Copy())
		}
	}
}

// mirrorClosedSession writes a terminal session's metrics to the
// time-series mirror.
func (s *Service) mirrorClosedSession(closed *session.Session) {
	if s.mirror == nil {
		return
	}
	completedAt := s.now().UTC()
	if closed.CompletedAt != nil {
		completedAt = *closed.CompletedAt
	}
	s.mirror.WriteSessionMetrics(closed.DeviceID, closed.SessionID, influxdb.SessionFields{
		State:           string(closed.State),
		ProcessedAmount: closed.ProcessedAmount,
		DurationMinutes: closed.DurationMinutes,
		EnergyConsumed:  closed.EnergyConsumed,
		Anomalous:       closed.Anomalous,
	}, completedAt)
}

// parseProcessingStatus maps the device's claimed status onto a session
// state. Only PROCESSING acts as a start signal; anything else,
// including an absent or unrecognised value, reads as idle.
func parseProcessingStatus(raw string) session.State {
	switch session.State(strings.ToUpper(strings.TrimSpace(raw))) {
	case session.StateProcessing:
		return session.StateProcessing
	case session.StateCompleted:
		return session.StateCompleted
	case session.StateError:
		return session.StateError
	}
	return session.StateIdle
}

// observedOrReceived resolves the device-supplied timestamp, falling
// back to server receipt time when the device sent none.
func observedOrReceived(ts *time.Time, receivedAt time.Time) time.Time {
	if ts != nil {
		return ts.UTC()
	}
	return receivedAt
}
