package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanibi/hanibi-core/internal/device"
)

// handleListDevices returns all devices, optionally filtered by
// connection status.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if status := r.URL.Query().Get("status"); status != "" {
		if !device.ValidStatus(device.ConnectionStatus(status)) {
			writeBadRequest(w, "invalid connection status")
			return
		}
		devices, err := s.registry.GetDevicesByStatus(ctx, device.ConnectionStatus(status))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListSessions returns a device's session history within a time
// range, newest first.
//
// Query parameters: from, to (RFC3339), limit.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	from, to, limit, err := timeRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	sessions, err := s.sessions.ListByDeviceAndTimeRange(r.Context(), deviceID, from, to, limit)
	if err != nil {
		writeInternalError(w, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleListReadings returns a device's stored readings within a time
// range, newest first.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	from, to, limit, err := timeRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.readings.ListByDeviceAndTimeRange(r.Context(), deviceID, from, to, limit)
	if err != nil {
		writeInternalError(w, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// timeRangeParams parses the shared from/to/limit query parameters.
// Absent bounds default to the epoch and now respectively.
func timeRangeParams(r *http.Request) (from, to time.Time, limit int, err error) {
	to = time.Now().UTC()

	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, fmt.Errorf("invalid query parameter: from")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, fmt.Errorf("invalid query parameter: to")
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return from, to, 0, fmt.Errorf("invalid query parameter: limit")
		}
	}
	return from, to, limit, nil
}
