// Package audit records the outcome of inbound sensor requests in the
// request_logs table and serves the request-log query endpoint.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Request outcome statuses.
const (
	StatusSuccess          = "SUCCESS"
	StatusValidationFailed = "VALIDATION_FAILED"
	StatusError            = "ERROR"
)

// RequestLog is one recorded inbound request outcome.
type RequestLog struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id,omitempty"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`

	// LatencyMs is measured request-handling time. Absent for
	// transports where a per-request latency is meaningless.
	LatencyMs *int64 `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which request logs to return.
type Filter struct {
	DeviceID string // optional: filter by device
	Status   string // optional: filter by outcome status
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated request log results.
type ListResult struct {
	Logs   []RequestLog `json:"logs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Repository defines the interface for request log operations.
type Repository interface {
	Create(ctx context.Context, log *RequestLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores request logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new request log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new request log entry. CreatedAt is generated if zero.
func (r *SQLiteRepository) Create(ctx context.Context, log *RequestLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO request_logs (device_id, endpoint, status, message, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullableString(log.DeviceID),
		log.Endpoint,
		log.Status,
		nullableString(log.Message),
		nullableInt(log.LatencyMs),
		log.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		log.ID = id
	}
	return nil
}

// List returns request logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE is assembled from parameterised conditions only; no user
	// input reaches the SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM request_logs %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting request logs: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, device_id, endpoint, status, message, latency_ms, created_at FROM request_logs %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying request logs: %w", err)
	}
	defer rows.Close()

	var logs []RequestLog
	for rows.Next() {
		var log RequestLog
		var deviceID, message sql.NullString
		var latencyMs sql.NullInt64
		var createdAt string

		if err := rows.Scan(&log.ID, &deviceID, &log.Endpoint, &log.Status,
			&message, &latencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}

		if deviceID.Valid {
			log.DeviceID = deviceID.String
		}
		if message.Valid {
			log.Message = message.String
		}
		if latencyMs.Valid {
			log.LatencyMs = &latencyMs.Int64
		}

		log.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing request log timestamp %q: %w", createdAt, err)
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request logs: %w", err)
	}

	if logs == nil {
		logs = []RequestLog{}
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// nullableString returns nil for empty strings. Used for nullable TEXT
// columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}
