package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// registerCameraRequest is the POST /camera/register body.
type registerCameraRequest struct {
	DeviceID string `json:"deviceId"`
	RTSPURL  string `json:"rtspUrl"`
	Model    string `json:"model,omitempty"`
}

// handleRegisterCamera records a device's camera endpoint.
func (s *Server) handleRegisterCamera(w http.ResponseWriter, r *http.Request) {
	var req registerCameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RTSPURL == "" {
		writeBadRequest(w, "rtspUrl is required")
		return
	}

	dev, err := s.camera.RegisterCamera(r.Context(), req.DeviceID, req.RTSPURL, req.Model)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "device": dev})
}

// handleGetCamera returns the device record carrying the camera info.
func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	dev, err := s.camera.GetCamera(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCompleteCapture accepts an uploaded snapshot image. The body is
// the raw image; the optional snapshotId query parameter correlates it
// to a specific capture request, otherwise the most recent PENDING
// snapshot is completed.
func (s *Server) handleCompleteCapture(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	snapshotID := r.URL.Query().Get("snapshotId")

	image, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read image body")
		return
	}
	if len(image) == 0 {
		writeBadRequest(w, "image body is required")
		return
	}

	snapshot, err := s.camera.CompleteCapture(r.Context(), deviceID, snapshotID, image)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "snapshot": snapshot})
}

// handleListSnapshots returns a device's snapshots within a time range,
// newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	from, to, limit, err := timeRangeParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	snapshots, err := s.camera.ListSnapshots(r.Context(), deviceID, from, to, limit)
	if err != nil {
		writeInternalError(w, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots, "count": len(snapshots)})
}
