package device

import (
	"strings"
	"time"
)

// Device represents one appliance known to the server.
// This matches the database schema in migrations/20260815_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	DeviceID string `json:"device_id"`

	// Connectivity
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastHeartbeatAt  *time.Time       `json:"last_heartbeat_at,omitempty"`
	WifiSignal       *int             `json:"wifi_signal,omitempty"`
	FirmwareVersion  *string          `json:"firmware_version,omitempty"`

	// Physical state
	DoorOpen bool `json:"door_open"`

	// Camera attachment
	RTSPURL     *string `json:"rtsp_url,omitempty"`
	CameraModel *string `json:"camera_model,omitempty"`

	// Version is the optimistic concurrency counter. Every persisted
	// write increments it; writes carrying a stale version are rejected
	// with ErrVersionConflict.
	Version int64 `json:"version"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy creates an independent copy of the Device. Pointer fields are
// cloned so modifications to the copy do not affect the original.
func (d *Device) Copy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.LastHeartbeatAt = copyTime(d.LastHeartbeatAt)
	cpy.WifiSignal = copyInt(d.WifiSignal)
	cpy.FirmwareVersion = copyString(d.FirmwareVersion)
	cpy.RTSPURL = copyString(d.RTSPURL)
	cpy.CameraModel = copyString(d.CameraModel)
	return &cpy
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ConnectionStatus represents the connectivity state of a device.
type ConnectionStatus string

// ConnectionStatus constants.
const (
	StatusOnline  ConnectionStatus = "ONLINE"
	StatusOffline ConnectionStatus = "OFFLINE"
	StatusError   ConnectionStatus = "ERROR"
)

// AllConnectionStatuses returns all valid connection status values.
func AllConnectionStatuses() []ConnectionStatus {
	return []ConnectionStatus{StatusOnline, StatusOffline, StatusError}
}

// ValidStatus reports whether s is a recognised connection status.
func ValidStatus(s ConnectionStatus) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError:
		return true
	}
	return false
}

const maxDeviceIDLength = 64

// ValidateID checks that a device ID is non-empty, within length limits
// and free of whitespace. IDs arrive from the field and are used as
// database keys and MQTT topic segments, so they are checked at the edge.
func ValidateID(id string) error {
	if id == "" || len(id) > maxDeviceIDLength {
		return ErrInvalidDeviceID
	}
	if strings.ContainsAny(id, " \t\n/#+") {
		return ErrInvalidDeviceID
	}
	return nil
}

// Heartbeat carries the connectivity fields a device reports.
type Heartbeat struct {
	ObservedAt      time.Time
	WifiSignal      *int
	FirmwareVersion *string
}
