package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for session persistence operations.
type Repository interface {
	// GetByID retrieves a session by its unique identifier.
	// Returns ErrSessionNotFound if the session does not exist.
	GetByID(ctx context.Context, sessionID string) (*Session, error)

	// GetActive returns the device's PROCESSING session.
	// Returns ErrSessionNotFound if the device has none.
	GetActive(ctx context.Context, deviceID string) (*Session, error)

	// ListByDeviceAndTimeRange returns sessions started within [from, to],
	// newest first, capped at limit.
	ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Session, error)

	// Create inserts a new session.
	// Returns ErrActiveSessionExists if the device already has a
	// PROCESSING session.
	Create(ctx context.Context, session *Session) error

	// Update modifies an existing session.
	// Returns ErrSessionNotFound if the session does not exist.
	Update(ctx context.Context, session *Session) error

	// RecordEvent journals an applied event under the dedup key
	// (deviceID, eventType, sessionID, observedAt). Returns false when
	// the key was already journalled, meaning the event is a duplicate.
	RecordEvent(ctx context.Context, deviceID string, eventType EventType, sessionID string, observedAt time.Time) (bool, error)

	// FindEvent looks up a journalled event by (deviceID, eventType,
	// observedAt), returning the session it was applied to. found is
	// false when no such event was journalled.
	FindEvent(ctx context.Context, deviceID string, eventType EventType, observedAt time.Time) (sessionID string, found bool, err error)
}

const (
	defaultSessionLimit = 100
	maxSessionLimit     = 1000
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed session repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a session by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, selectSessionQuery+` WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session by id: %w", err)
	}
	return session, nil
}

// GetActive returns the device's PROCESSING session.
func (r *SQLiteRepository) GetActive(ctx context.Context, deviceID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		selectSessionQuery+` WHERE device_id = ? AND state = ?`,
		deviceID, string(StateProcessing),
	)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying active session: %w", err)
	}
	return session, nil
}

// ListByDeviceAndTimeRange returns sessions started within [from, to], newest first.
func (r *SQLiteRepository) ListByDeviceAndTimeRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	if limit > maxSessionLimit {
		limit = maxSessionLimit
	}

	rows, err := r.db.QueryContext(ctx,
		selectSessionQuery+`
		WHERE device_id = ? AND started_at >= ? AND started_at <= ?
		ORDER BY started_at DESC
		LIMIT ?`,
		deviceID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return sessions, nil
}

// Create inserts a new session.
func (r *SQLiteRepository) Create(ctx context.Context, session *Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, device_id, state, started_at, completed_at,
			initial_weight, final_weight, processed_amount, duration_minutes,
			energy_consumed, anomalous, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		session.DeviceID,
		string(session.State),
		session.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTimeString(session.CompletedAt),
		nullableFloat(session.InitialWeight),
		nullableFloat(session.FinalWeight),
		nullableFloat(session.ProcessedAmount),
		nullableFloat(session.DurationMinutes),
		nullableFloat(session.EnergyConsumed),
		session.Anomalous,
		session.CreatedAt.Format(time.RFC3339Nano),
		session.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		// The partial unique index on (device_id) WHERE state='PROCESSING'
		// backs the single-active-session invariant.
		if isUniqueConstraintError(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// Update modifies an existing session.
func (r *SQLiteRepository) Update(ctx context.Context, session *Session) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = ?, completed_at = ?, initial_weight = ?, final_weight = ?,
			processed_amount = ?, duration_minutes = ?, energy_consumed = ?,
			anomalous = ?, updated_at = ?
		WHERE session_id = ?`,
		string(session.State),
		nullableTimeString(session.CompletedAt),
		nullableFloat(session.InitialWeight),
		nullableFloat(session.FinalWeight),
		nullableFloat(session.ProcessedAmount),
		nullableFloat(session.DurationMinutes),
		nullableFloat(session.EnergyConsumed),
		session.Anomalous,
		now.Format(time.RFC3339Nano),
		session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	session.UpdatedAt = now
	return nil
}

// RecordEvent journals an applied event, reporting false for duplicates.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, deviceID string, eventType EventType, sessionID string, observedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO session_events (device_id, event_type, session_id, observed_at, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		deviceID,
		string(eventType),
		sessionID,
		observedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("journalling event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking journal result: %w", err)
	}
	return rows > 0, nil
}

// FindEvent looks up a journalled event by (deviceID, eventType, observedAt).
func (r *SQLiteRepository) FindEvent(ctx context.Context, deviceID string, eventType EventType, observedAt time.Time) (string, bool, error) {
	var sessionID string
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id
		FROM session_events
		WHERE device_id = ? AND event_type = ? AND observed_at = ?`,
		deviceID,
		string(eventType),
		observedAt.UTC().Format(time.RFC3339Nano),
	).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying event journal: %w", err)
	}
	return sessionID, true, nil
}

const selectSessionQuery = `
	SELECT session_id, device_id, state, started_at, completed_at,
		initial_weight, final_weight, processed_amount, duration_minutes,
		energy_consumed, anomalous, created_at, updated_at
	FROM sessions`

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner rowScanner) (*Session, error) {
	var s Session
	var state string
	var completedAt sql.NullString
	var initialWeight, finalWeight, processedAmount, durationMinutes, energyConsumed sql.NullFloat64
	var startedAt, createdAt, updatedAt string

	err := scanner.Scan(
		&s.SessionID,
		&s.DeviceID,
		&state,
		&startedAt,
		&completedAt,
		&initialWeight,
		&finalWeight,
		&processedAmount,
		&durationMinutes,
		&energyConsumed,
		&s.Anomalous,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.State = State(state)

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		s.CompletedAt = &t
	}
	if initialWeight.Valid {
		s.InitialWeight = &initialWeight.Float64
	}
	if finalWeight.Valid {
		s.FinalWeight = &finalWeight.Float64
	}
	if processedAmount.Valid {
		s.ProcessedAmount = &processedAmount.Float64
	}
	if durationMinutes.Valid {
		s.DurationMinutes = &durationMinutes.Float64
	}
	if energyConsumed.Valid {
		s.EnergyConsumed = &energyConsumed.Float64
	}

	s.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &s, nil
}

func nullableTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
