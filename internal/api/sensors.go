package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanibi/hanibi-core/internal/audit"
	"github.com/hanibi/hanibi-core/internal/ingest"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// sensorDataRequest is the POST /sensors/data body.
type sensorDataRequest struct {
	DeviceID         string              `json:"deviceId"`
	Timestamp        *time.Time          `json:"timestamp,omitempty"`
	SensorData       ingest.SensorValues `json:"sensorData"`
	ProcessingStatus string              `json:"processingStatus,omitempty"`
}

// heartbeatRequest is the POST /sensors/heartbeat body.
type heartbeatRequest struct {
	DeviceID        string     `json:"deviceId"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	WifiSignal      *int       `json:"wifiSignal,omitempty"`
	FirmwareVersion *string    `json:"firmwareVersion,omitempty"`
}

// eventRequest is the POST /sensors/events body.
type eventRequest struct {
	DeviceID  string            `json:"deviceId"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	EventType string            `json:"eventType"`
	SessionID *string           `json:"sessionId,omitempty"`
	EventData session.EventData `json:"eventData"`
}

// handleSensorData accepts one sensor report.
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req sensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordRequest("", r.URL.Path, audit.StatusValidationFailed, "invalid JSON body", start)
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.ingest.HandleReport(r.Context(), ingest.Report{
		DeviceID:         req.DeviceID,
		Timestamp:        req.Timestamp,
		SensorData:       req.SensorData,
		ProcessingStatus: req.ProcessingStatus,
	})
	if err != nil {
		s.recordRequest(req.DeviceID, r.URL.Path, statusForError(err), err.Error(), start)
		writeDomainError(w, err)
		return
	}

	s.recordRequest(req.DeviceID, r.URL.Path, audit.StatusSuccess, "", start)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": result.SessionID,
		"state":     result.State,
	})
}

// handleHeartbeat accepts one explicit heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordRequest("", r.URL.Path, audit.StatusValidationFailed, "invalid JSON body", start)
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.ingest.HandleHeartbeat(r.Context(), ingest.HeartbeatInput{
		DeviceID:        req.DeviceID,
		Timestamp:       req.Timestamp,
		WifiSignal:      req.WifiSignal,
		FirmwareVersion: req.FirmwareVersion,
	})
	if err != nil {
		s.recordRequest(req.DeviceID, r.URL.Path, statusForError(err), err.Error(), start)
		writeDomainError(w, err)
		return
	}

	s.recordRequest(req.DeviceID, r.URL.Path, audit.StatusSuccess, "", start)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"connectionStatus": result.ConnectionStatus,
	})
}

// handleEvent accepts one device event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	s.applyEvent(w, r, "")
}

// handleFoodInputBefore accepts a pre-processing weigh-in; the event
// type is fixed by the route.
func (s *Server) handleFoodInputBefore(w http.ResponseWriter, r *http.Request) {
	s.applyEvent(w, r, string(session.EventFoodInputBefore))
}

// handleFoodInputAfter accepts a post-processing weigh-out.
func (s *Server) handleFoodInputAfter(w http.ResponseWriter, r *http.Request) {
	s.applyEvent(w, r, string(session.EventFoodInputAfter))
}

// applyEvent runs one event request through the pipeline. A non-empty
// forcedType overrides whatever event type the body carries.
func (s *Server) applyEvent(w http.ResponseWriter, r *http.Request, forcedType string) {
	start := time.Now()

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordRequest("", r.URL.Path, audit.StatusValidationFailed, "invalid JSON body", start)
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if forcedType != "" {
		req.EventType = forcedType
	}

	result, err := s.ingest.HandleEvent(r.Context(), ingest.EventInput{
		DeviceID:  req.DeviceID,
		Timestamp: req.Timestamp,
		EventType: req.EventType,
		SessionID: req.SessionID,
		EventData: req.EventData,
	})
	if err != nil {
		s.recordRequest(req.DeviceID, r.URL.Path, statusForError(err), err.Error(), start)
		writeDomainError(w, err)
		return
	}

	s.recordRequest(req.DeviceID, r.URL.Path, audit.StatusSuccess, "", start)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": result.SessionID,
		"state":     result.State,
		"anomalous": result.Anomalous,
	})
}

// handleLatest returns a device's most recent reading together with its
// connection status and active session, the dashboard's one-call query.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	ctx := r.Context()

	dev, err := s.registry.GetDevice(ctx, deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Cache first; fall back to the store after a restart.
	reading, ok := s.latest.Get(deviceID)
	if !ok {
		reading, err = s.readings.Latest(ctx, deviceID)
		if err != nil && !errors.Is(err, telemetry.ErrReadingNotFound) {
			writeInternalError(w, "failed to load latest reading")
			return
		}
		if reading != nil {
			s.latest.Put(reading)
		}
	}

	active, err := s.engine.ActiveSession(ctx, deviceID)
	if err != nil {
		writeInternalError(w, "failed to resolve active session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":         deviceID,
		"connectionStatus": dev.ConnectionStatus,
		"reading":          reading,
		"session":          active,
	})
}

// handleRequestLogs returns the sensor request log, newest first.
//
// Query parameters: deviceId, status, limit, offset.
func (s *Server) handleRequestLogs(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		DeviceID: r.URL.Query().Get("deviceId"),
		Status:   r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	result, err := s.logs.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list request logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
