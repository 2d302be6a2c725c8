package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hanibi/hanibi-core/internal/session"
)

func completedSession(deviceID, sessionID string, amount *float64) *session.Session {
	at := time.Now().UTC()
	return &session.Session{
		SessionID:       sessionID,
		DeviceID:        deviceID,
		State:           session.StateCompleted,
		StartedAt:       at.Add(-time.Minute),
		CompletedAt:     &at,
		ProcessedAmount: amount,
	}
}

type capturingLogger struct {
	mu   sync.Mutex
	msgs []string
	args [][]any
}

func (l *capturingLogger) record(msg string, a []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, a)
}

func (l *capturingLogger) Debug(msg string, args ...any) { l.record(msg, args) }
func (l *capturingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *capturingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *capturingLogger) Error(msg string, args ...any) { l.record(msg, args) }

func TestLogNotifier_SessionClosed(t *testing.T) {
	logger := &capturingLogger{}
	n := NewLogNotifier(logger)

	amount := 1300.0
	closed := completedSession("HANIBI-001", "session-1", &amount)
	if err := n.SessionClosed(context.Background(), closed); err != nil {
		t.Fatalf("SessionClosed() error = %v", err)
	}

	if len(logger.msgs) != 1 || logger.msgs[0] != "processing session closed" {
		t.Fatalf("logged messages = %v, want one session-closed record", logger.msgs)
	}
	attrs := loggedAttrs(logger.args[0])
	if attrs["device_id"] != "HANIBI-001" || attrs["session_id"] != "session-1" {
		t.Errorf("attrs = %v, correlation lost", attrs)
	}
	if attrs["processed_amount"] != 1300.0 {
		t.Errorf("processed_amount = %v, want 1300", attrs["processed_amount"])
	}
}

func TestLogNotifier_NilLoggerIsSilent(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.SessionClosed(context.Background(), completedSession("HANIBI-001", "session-1", nil)); err != nil {
		t.Fatalf("SessionClosed() error = %v", err)
	}
}

func loggedAttrs(args []any) map[string]any {
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs[key] = args[i+1]
	}
	return attrs
}
