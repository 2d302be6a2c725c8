package ingest

import (
	"context"

	"github.com/hanibi/hanibi-core/internal/session"
)

// LogNotifier is the default Notifier: terminal sessions are recorded
// in the structured log. Deployments with a real push channel swap in
// their own implementation.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a notifier writing to logger. A nil logger
// silences it.
func NewLogNotifier(logger Logger) *LogNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogNotifier{logger: logger}
}

// SessionClosed logs the outcome of a closed session.
func (n *LogNotifier) SessionClosed(_ context.Context, closed *session.Session) error {
	args := []any{
		"device_id", closed.DeviceID,
		"session_id", closed.SessionID,
		"state", string(closed.State),
		"anomalous", closed.Anomalous,
	}
	if closed.ProcessedAmount != nil {
		args = append(args, "processed_amount", *closed.ProcessedAmount)
	}
	n.logger.Info("processing session closed", args...)
	return nil
}
