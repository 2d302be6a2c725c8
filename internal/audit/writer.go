package audit

import (
	"context"
	"sync"
	"time"
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

const (
	writerBufferSize    = 256
	writerInsertTimeout = 5 * time.Second
)

// Writer records request outcomes asynchronously so logging never sits
// on the request path. Entries are queued onto a bounded channel; when
// the queue is full new entries are dropped with a warning rather than
// blocking the caller.
type Writer struct {
	repo   Repository
	logger Logger

	entries chan *RequestLog
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWriter creates the async writer and starts its worker.
func NewWriter(repo Repository) *Writer {
	w := &Writer{
		repo:    repo,
		logger:  noopLogger{},
		entries: make(chan *RequestLog, writerBufferSize),
	}

	w.wg.Add(1)
	go w.run()
	return w
}

// SetLogger sets the logger for the writer.
func (w *Writer) SetLogger(logger Logger) {
	w.logger = logger
}

// Record queues one request outcome. Non-blocking; safe for concurrent
// use.
func (w *Writer) Record(deviceID, endpoint, status, message string) {
	w.enqueue(&RequestLog{
		DeviceID:  deviceID,
		Endpoint:  endpoint,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

// RecordWithLatency queues one request outcome with its measured
// handling time.
func (w *Writer) RecordWithLatency(deviceID, endpoint, status, message string, latency time.Duration) {
	ms := latency.Milliseconds()
	w.enqueue(&RequestLog{
		DeviceID:  deviceID,
		Endpoint:  endpoint,
		Status:    status,
		Message:   message,
		LatencyMs: &ms,
		CreatedAt: time.Now().UTC(),
	})
}

func (w *Writer) enqueue(entry *RequestLog) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("request log queue full, dropping entry",
			"device_id", entry.DeviceID, "endpoint", entry.Endpoint)
	}
	w.mu.Unlock()
}

// Close stops accepting entries, drains the queue and waits for the
// worker to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.entries)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()

	for entry := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writerInsertTimeout)
		if err := w.repo.Create(ctx, entry); err != nil {
			w.logger.Error("failed to write request log",
				"device_id", entry.DeviceID, "endpoint", entry.Endpoint, "error", err)
		}
		cancel()
	}
}
