package camera

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Errors returned by the camera package.
var (
	ErrSnapshotNotFound  = errors.New("camera: snapshot not found")
	ErrNoPendingSnapshot = errors.New("camera: no pending snapshot for device")
	ErrNotPublishable    = errors.New("camera: capture transport not available")
)

// SnapshotStatus is the lifecycle state of one capture.
type SnapshotStatus string

// Snapshot status values.
const (
	StatusPending   SnapshotStatus = "PENDING"
	StatusCompleted SnapshotStatus = "COMPLETED"
	StatusFailed    SnapshotStatus = "FAILED"
)

// Snapshot is one camera capture record. A capture starts PENDING when
// the command is published and completes when the appliance uploads
// the image.
type Snapshot struct {
	SnapshotID  string         `json:"snapshot_id"`
	DeviceID    string         `json:"device_id"`
	SessionID   *string        `json:"session_id,omitempty"`
	TriggerType string         `json:"trigger_type"`
	Status      SnapshotStatus `json:"status"`
	ImageURL    *string        `json:"image_url,omitempty"`
	CapturedAt  *time.Time     `json:"captured_at,omitempty"`

	// LatencyMs is the measured time from capture request to image
	// upload.
	LatencyMs *int64 `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Copy returns an independent copy of the snapshot.
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.SessionID != nil {
		v := *s.SessionID
		cpy.SessionID = &v
	}
	if s.ImageURL != nil {
		v := *s.ImageURL
		cpy.ImageURL = &v
	}
	if s.CapturedAt != nil {
		v := *s.CapturedAt
		cpy.CapturedAt = &v
	}
	if s.LatencyMs != nil {
		v := *s.LatencyMs
		cpy.LatencyMs = &v
	}
	return &cpy
}

// Repository defines the interface for snapshot persistence.
type Repository interface {
	// Create inserts a new snapshot record.
	Create(ctx context.Context, snapshot *Snapshot) error

	// GetByID retrieves a snapshot by its identifier.
	// Returns ErrSnapshotNotFound if it does not exist.
	GetByID(ctx context.Context, snapshotID string) (*Snapshot, error)

	// LatestPending returns the device's most recent PENDING snapshot.
	// Returns ErrNoPendingSnapshot if the device has none.
	LatestPending(ctx context.Context, deviceID string) (*Snapshot, error)

	// Update persists the snapshot's mutable capture fields.
	// Returns ErrSnapshotNotFound if the snapshot does not exist.
	Update(ctx context.Context, snapshot *Snapshot) error

	// ListByDeviceAndTimeRange returns snapshots created within
	// [from, to], newest first, capped at limit.
	ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Snapshot, error)
}

const (
	defaultSnapshotLimit = 100
	maxSnapshotLimit     = 1000
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed snapshot repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new snapshot record.
func (r *SQLiteRepository) Create(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, device_id, session_id, trigger_type,
			status, image_url, captured_at, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.SnapshotID,
		snapshot.DeviceID,
		nullableString(snapshot.SessionID),
		snapshot.TriggerType,
		string(snapshot.Status),
		nullableString(snapshot.ImageURL),
		nullableTimeString(snapshot.CapturedAt),
		nullableInt(snapshot.LatencyMs),
		snapshot.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, snapshotID string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshotQuery+` WHERE snapshot_id = ?`, snapshotID)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying snapshot by id: %w", err)
	}
	return snapshot, nil
}

// LatestPending returns the device's most recent PENDING snapshot.
func (r *SQLiteRepository) LatestPending(ctx context.Context, deviceID string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		selectSnapshotQuery+`
		WHERE device_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		deviceID, string(StatusPending),
	)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoPendingSnapshot
		}
		return nil, fmt.Errorf("querying pending snapshot: %w", err)
	}
	return snapshot, nil
}

// Update persists the snapshot's mutable capture fields.
func (r *SQLiteRepository) Update(ctx context.Context, snapshot *Snapshot) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE snapshots
		SET status = ?, image_url = ?, captured_at = ?, latency_ms = ?
		WHERE snapshot_id = ?`,
		string(snapshot.Status),
		nullableString(snapshot.ImageURL),
		nullableTimeString(snapshot.CapturedAt),
		nullableInt(snapshot.LatencyMs),
		snapshot.SnapshotID,
	)
	if err != nil {
		return fmt.Errorf("updating snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

// ListByDeviceAndTimeRange returns snapshots created within [from, to], newest first.
func (r *SQLiteRepository) ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	if limit > maxSnapshotLimit {
		limit = maxSnapshotLimit
	}

	rows, err := r.db.QueryContext(ctx,
		selectSnapshotQuery+`
		WHERE device_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ?`,
		deviceID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	return snapshots, nil
}

const selectSnapshotQuery = `
	SELECT snapshot_id, device_id, session_id, trigger_type, status,
		image_url, captured_at, latency_ms, created_at
	FROM snapshots`

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(scanner rowScanner) (*Snapshot, error) {
	var s Snapshot
	var status string
	var sessionID, imageURL, capturedAt sql.NullString
	var latencyMs sql.NullInt64
	var createdAt string

	err := scanner.Scan(
		&s.SnapshotID,
		&s.DeviceID,
		&sessionID,
		&s.TriggerType,
		&status,
		&imageURL,
		&capturedAt,
		&latencyMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = SnapshotStatus(status)

	if sessionID.Valid {
		s.SessionID = &sessionID.String
	}
	if imageURL.Valid {
		s.ImageURL = &imageURL.String
	}
	if capturedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, capturedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing captured_at: %w", err)
		}
		s.CapturedAt = &t
	}
	if latencyMs.Valid {
		s.LatencyMs = &latencyMs.Int64
	}

	s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &s, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
