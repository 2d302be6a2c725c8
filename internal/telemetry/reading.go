package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrReadingNotFound is returned when a device has no stored readings.
var ErrReadingNotFound = errors.New("telemetry: reading not found")

// Reading is one normalised telemetry sample. Immutable once stored.
//
// ObservedAt is the device-reported sample time (server receipt time if the
// device sent none). ReceivedAt is the server receipt time and is
// authoritative for ordering; device clocks are not trusted.
type Reading struct {
	ID          int64     `json:"id,omitempty"`
	DeviceID    string    `json:"device_id"`
	SessionID   *string   `json:"session_id,omitempty"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Weight      *float64  `json:"weight"`
	Gas         *float64  `json:"gas"`
	ObservedAt  time.Time `json:"observed_at"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Copy returns an independent copy of the reading.
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.SessionID = copyString(r.SessionID)
	cpy.Temperature = copyFloat(r.Temperature)
	cpy.Humidity = copyFloat(r.Humidity)
	cpy.Weight = copyFloat(r.Weight)
	cpy.Gas = copyFloat(r.Gas)
	return &cpy
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Repository defines the interface for reading persistence.
type Repository interface {
	// Insert stores a new reading and fills in its ID.
	Insert(ctx context.Context, reading *Reading) error

	// Latest returns the most recently received reading for a device.
	// Returns ErrReadingNotFound if the device has no readings.
	Latest(ctx context.Context, deviceID string) (*Reading, error)

	// ListByDeviceAndTimeRange returns readings for a device received
	// within [from, to], newest first, capped at limit.
	ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Reading, error)
}

const (
	defaultReadingLimit = 100
	maxReadingLimit     = 1000
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed reading repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores a new reading and fills in its ID.
func (r *SQLiteRepository) Insert(ctx context.Context, reading *Reading) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO readings (device_id, session_id, temperature, humidity, weight, gas, observed_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.DeviceID,
		nullableStringValue(reading.SessionID),
		nullableFloat(reading.Temperature),
		nullableFloat(reading.Humidity),
		nullableFloat(reading.Weight),
		nullableFloat(reading.Gas),
		reading.ObservedAt.UTC().Format(time.RFC3339Nano),
		reading.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	reading.ID = id

	return nil
}

// Latest returns the most recently received reading for a device.
func (r *SQLiteRepository) Latest(ctx context.Context, deviceID string) (*Reading, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, session_id, temperature, humidity, weight, gas, observed_at, received_at
		FROM readings
		WHERE device_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT 1`,
		deviceID,
	)

	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return reading, nil
}

// ListByDeviceAndTimeRange returns readings received within [from, to], newest first.
func (r *SQLiteRepository) ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = defaultReadingLimit
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, session_id, temperature, humidity, weight, gas, observed_at, received_at
		FROM readings
		WHERE device_id = ? AND received_at >= ? AND received_at <= ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?`,
		deviceID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return readings, nil
}

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(scanner rowScanner) (*Reading, error) {
	var rd Reading
	var sessionID sql.NullString
	var temperature, humidity, weight, gas sql.NullFloat64
	var observedAt, receivedAt string

	err := scanner.Scan(
		&rd.ID,
		&rd.DeviceID,
		&sessionID,
		&temperature,
		&humidity,
		&weight,
		&gas,
		&observedAt,
		&receivedAt,
	)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		rd.SessionID = &sessionID.String
	}
	if temperature.Valid {
		rd.Temperature = &temperature.Float64
	}
	if humidity.Valid {
		rd.Humidity = &humidity.Float64
	}
	if weight.Valid {
		rd.Weight = &weight.Float64
	}
	if gas.Valid {
		rd.Gas = &gas.Float64
	}

	var parseErr error
	rd.ObservedAt, parseErr = time.Parse(time.RFC3339Nano, observedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing observed_at: %w", parseErr)
	}
	rd.ReceivedAt, parseErr = time.Parse(time.RFC3339Nano, receivedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing received_at: %w", parseErr)
	}

	return &rd, nil
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableStringValue(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
