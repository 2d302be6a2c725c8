package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByStatus retrieves all devices with a specific connection status.
	ListByStatus(ctx context.Context, status ConnectionStatus) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update persists the device's mutable fields using the version the
	// caller read as the optimistic concurrency check. On success the
	// device's Version is incremented in place.
	// Returns ErrVersionConflict if another writer got there first.
	Update(ctx context.Context, device *Device) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT device_id, connection_status, last_heartbeat_at, wifi_signal,
			firmware_version, door_open, rtsp_url, camera_model, version,
			created_at, updated_at
		FROM devices
		WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT device_id, connection_status, last_heartbeat_at, wifi_signal,
			firmware_version, door_open, rtsp_url, camera_model, version,
			created_at, updated_at
		FROM devices
		ORDER BY device_id`

	return r.queryDevices(ctx, query)
}

// ListByStatus retrieves all devices with a specific connection status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status ConnectionStatus) ([]Device, error) {
	query := `
		SELECT device_id, connection_status, last_heartbeat_at, wifi_signal,
			firmware_version, door_open, rtsp_url, camera_model, version,
			created_at, updated_at
		FROM devices
		WHERE connection_status = ?
		ORDER BY device_id`

	return r.queryDevices(ctx, query, string(status))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	if device.ConnectionStatus == "" {
		device.ConnectionStatus = StatusOffline
	}
	device.Version = 1

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, connection_status, last_heartbeat_at, wifi_signal,
			firmware_version, door_open, rtsp_url, camera_model, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.DeviceID,
		string(device.ConnectionStatus),
		nullableTime(device.LastHeartbeatAt),
		nullableInt(device.WifiSignal),
		nullableString(device.FirmwareVersion),
		device.DoorOpen,
		nullableString(device.RTSPURL),
		nullableString(device.CameraModel),
		device.Version,
		device.CreatedAt.Format(time.RFC3339Nano),
		device.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update persists the device's mutable fields with a version check.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET connection_status = ?, last_heartbeat_at = ?, wifi_signal = ?,
			firmware_version = ?, door_open = ?, rtsp_url = ?, camera_model = ?,
			version = version + 1, updated_at = ?
		WHERE device_id = ? AND version = ?`,
		string(device.ConnectionStatus),
		nullableTime(device.LastHeartbeatAt),
		nullableInt(device.WifiSignal),
		nullableString(device.FirmwareVersion),
		device.DoorOpen,
		nullableString(device.RTSPURL),
		nullableString(device.CameraModel),
		now.Format(time.RFC3339Nano),
		device.DeviceID,
		device.Version,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from a lost version race.
		if _, getErr := r.GetByID(ctx, device.DeviceID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	device.Version++
	device.UpdatedAt = now
	return nil
}

// queryDevices executes a query and scans all resulting devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status string
	var lastHeartbeatAt, firmwareVersion, rtspURL, cameraModel sql.NullString
	var wifiSignal sql.NullInt64
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.DeviceID,
		&status,
		&lastHeartbeatAt,
		&wifiSignal,
		&firmwareVersion,
		&d.DoorOpen,
		&rtspURL,
		&cameraModel,
		&d.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ConnectionStatus = ConnectionStatus(status)

	if lastHeartbeatAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastHeartbeatAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_heartbeat_at: %w", err)
		}
		d.LastHeartbeatAt = &t
	}
	if wifiSignal.Valid {
		v := int(wifiSignal.Int64)
		d.WifiSignal = &v
	}
	if firmwareVersion.Valid {
		d.FirmwareVersion = &firmwareVersion.String
	}
	if rtspURL.Valid {
		d.RTSPURL = &rtspURL.String
	}
	if cameraModel.Valid {
		d.CameraModel = &cameraModel.String
	}

	d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
