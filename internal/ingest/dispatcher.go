package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/hanibi/hanibi-core/internal/session"
)

// Default timeout for one collaborator call.
const defaultDispatchTimeout = 10 * time.Second

// CameraClient requests a snapshot capture from a device's camera.
// Implemented by the camera service; captures are correlated to the
// session that triggered them.
type CameraClient interface {
	RequestCapture(ctx context.Context, deviceID, sessionID, triggerType string) error
}

// Notifier is told about terminal session transitions. Implementations
// push to external channels (dashboards, alerting).
type Notifier interface {
	SessionClosed(ctx context.Context, closed *session.Session) error
}

// Dispatcher fans applied events out to collaborators without ever
// blocking or failing the inbound request. Each dispatch runs in its
// own goroutine with a bounded timeout; failures are logged and
// dropped, so collaborators must tolerate missed calls.
type Dispatcher struct {
	camera   CameraClient
	notifier Notifier
	logger   Logger
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Either collaborator may be nil,
// which disables that side effect.
func NewDispatcher(camera CameraClient, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		camera:   camera,
		notifier: notifier,
		logger:   noopLogger{},
		timeout:  defaultDispatchTimeout,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// RequestCapture asks the camera collaborator for a snapshot,
// fire-and-forget.
func (d *Dispatcher) RequestCapture(deviceID, sessionID, triggerType string) {
	if d.camera == nil {
		return
	}
	d.dispatch(func(ctx context.Context) {
		if err := d.camera.RequestCapture(ctx, deviceID, sessionID, triggerType); err != nil {
			d.logger.Warn("camera capture request failed",
				"device_id", deviceID, "session_id", sessionID,
				"trigger", triggerType, "error", err)
			return
		}
		d.logger.Debug("camera capture requested",
			"device_id", deviceID, "session_id", sessionID, "trigger", triggerType)
	})
}

// SessionClosed notifies collaborators of a terminal session,
// fire-and-forget.
func (d *Dispatcher) SessionClosed(closed *session.Session) {
	if d.notifier == nil || closed == nil {
		return
	}
	d.dispatch(func(ctx context.Context) {
		if err := d.notifier.SessionClosed(ctx, closed); err != nil {
			d.logger.Warn("session-closed notification failed",
				"device_id", closed.DeviceID, "session_id", closed.SessionID, "error", err)
		}
	})
}

// dispatch runs fn on its own goroutine under the dispatch timeout.
func (d *Dispatcher) dispatch(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until all in-flight dispatches finish. Called during
// graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
