package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Engine.
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

// Engine is the per-device session state machine.
//
// All mutations for one device are serialised behind a per-device mutex,
// so the single-active-session invariant holds under concurrent inbound
// reports. The lock map is grow-only; the fleet is bounded (hundreds of
// devices), so entries are never evicted.
type Engine struct {
	repo   Repository
	logger Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine creates a session engine over the given repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo:   repo,
		logger: noopLogger{},
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// deviceLock returns the mutex serialising one device's mutations.
func (e *Engine) deviceLock(deviceID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	l, ok := e.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[deviceID] = l
	}
	return l
}

// ActiveSession returns the device's PROCESSING session, or nil if the
// device is idle.
func (e *Engine) ActiveSession(ctx context.Context, deviceID string) (*Session, error) {
	session, err := e.repo.GetActive(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// ApplyReading resolves the session context for an accepted sensor
// report. An active session is returned as-is; with no active session,
// processingStatus=PROCESSING is a start signal and opens one. Any other
// status leaves the device idle.
func (e *Engine) ApplyReading(ctx context.Context, deviceID string, status State, receivedAt time.Time) (*Session, error) {
	lock := e.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	active, err := e.ActiveSession(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	if status != StateProcessing {
		return nil, nil
	}

	return e.openSession(ctx, deviceID, receivedAt, false)
}

// ApplyEvent applies one device event to the state machine.
//
// Duplicates (same device, type and observedAt as a journalled event)
// are accepted but produce no second transition. An event implying a
// session that does not exist creates one retroactively, flagged
// anomalous; this is a recorded anomaly, not an error.
func (e *Engine) ApplyEvent(ctx context.Context, ev Event) (Outcome, error) {
	lock := e.deviceLock(ev.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	// Duplicate delivery check against the journal. The client-supplied
	// sessionId is advisory and deliberately not part of the match.
	priorSessionID, found, err := e.repo.FindEvent(ctx, ev.DeviceID, ev.Type, ev.ObservedAt)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return e.duplicateOutcome(ctx, ev, priorSessionID)
	}

	active, err := e.ActiveSession(ctx, ev.DeviceID)
	if err != nil {
		return Outcome{}, err
	}
	if ev.SessionID != nil && active != nil && *ev.SessionID != active.SessionID {
		e.logger.Debug("client session id ignored, engine resolution wins",
			"device_id", ev.DeviceID, "client_session_id", *ev.SessionID,
			"active_session_id", active.SessionID)
	}

	outcome, err := e.transition(ctx, ev, active)
	if err != nil {
		return Outcome{}, err
	}

	journalID := ""
	if outcome.Session != nil {
		journalID = outcome.Session.SessionID
	}
	if _, err := e.repo.RecordEvent(ctx, ev.DeviceID, ev.Type, journalID, ev.ObservedAt); err != nil {
		// The transition is committed; a journal failure only weakens
		// dedup for this one event.
		e.logger.Error("failed to journal applied event",
			"device_id", ev.DeviceID, "event_type", ev.Type, "error", err)
	}

	return outcome, nil
}

// duplicateOutcome reports the current state for a replayed event
// without applying any transition.
func (e *Engine) duplicateOutcome(ctx context.Context, ev Event, priorSessionID string) (Outcome, error) {
	e.logger.Debug("duplicate event suppressed",
		"device_id", ev.DeviceID, "event_type", ev.Type, "observed_at", ev.ObservedAt)

	if priorSessionID != "" {
		session, err := e.repo.GetByID(ctx, priorSessionID)
		if err == nil {
			return Outcome{Session: session, State: session.State, Applied: false, Anomalous: session.Anomalous}, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return Outcome{}, err
		}
	}
	return Outcome{State: StateIdle, Applied: false}, nil
}

// transition applies the event's effect given the resolved active session.
func (e *Engine) transition(ctx context.Context, ev Event, active *Session) (Outcome, error) {
	switch ev.Type {
	case EventProcessingStarted:
		if active != nil {
			// Transition into PROCESSING is only valid from idle; a
			// start on a running session attaches without effect.
			e.logger.Warn("start event while session already processing",
				"device_id", ev.DeviceID, "session_id", active.SessionID)
			return Outcome{Session: active, State: active.State, Applied: true}, nil
		}
		session, err := e.openSession(ctx, ev.DeviceID, ev.ReceivedAt, false)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Session: session, State: session.State, Applied: true}, nil

	case EventFoodInputBefore, EventFoodInputAfter:
		return e.applyFoodInput(ctx, ev, active)

	case EventProcessingCompleted:
		return e.applyOutcome(ctx, ev, active, StateCompleted)

	case EventProcessingFailed, EventSensorError:
		return e.applyOutcome(ctx, ev, active, StateError)

	case EventDoorOpened, EventDoorClosed, EventTemperatureAlert, EventCleaningRequired:
		// Status events are journalled but drive no session transition.
		state := StateIdle
		if active != nil {
			state = active.State
		}
		return Outcome{Session: active, State: state, Applied: true}, nil
	}

	return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidEventType, ev.Type)
}

// applyFoodInput records the before/after weight on the active session,
// creating a retroactive one when the event arrived without a start.
func (e *Engine) applyFoodInput(ctx context.Context, ev Event, active *Session) (Outcome, error) {
	anomalous := false
	if active == nil {
		var err error
		active, err = e.openSession(ctx, ev.DeviceID, ev.ReceivedAt, true)
		if err != nil {
			return Outcome{}, err
		}
		anomalous = true
	}

	if ev.Data.Weight != nil {
		w := *ev.Data.Weight
		if ev.Type == EventFoodInputBefore {
			active.InitialWeight = &w
		} else {
			active.FinalWeight = &w
		}
		if err := e.repo.Update(ctx, active); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Session: active, State: active.State, Applied: true, Anomalous: anomalous}, nil
}

// applyOutcome closes the active session as COMPLETED or ERROR,
// reconstructing a session retroactively when none is active.
func (e *Engine) applyOutcome(ctx context.Context, ev Event, active *Session, terminal State) (Outcome, error) {
	anomalous := false
	if active == nil {
		var err error
		active, err = e.openSession(ctx, ev.DeviceID, ev.ReceivedAt, true)
		if err != nil {
			return Outcome{}, err
		}
		anomalous = true
	}

	completedAt := ev.ReceivedAt
	active.State = terminal
	active.CompletedAt = &completedAt

	if terminal == StateCompleted {
		// Explicit processedAmount wins over the weight-derived value.
		switch {
		case ev.Data.ProcessedAmount != nil:
			active.ProcessedAmount = copyFloat(ev.Data.ProcessedAmount)
		case active.InitialWeight != nil && active.FinalWeight != nil:
			derived := *active.InitialWeight - *active.FinalWeight
			active.ProcessedAmount = &derived
		}
		if ev.Data.DurationMinutes != nil {
			active.DurationMinutes = copyFloat(ev.Data.DurationMinutes)
		}
		if ev.Data.EnergyConsumed != nil {
			active.EnergyConsumed = copyFloat(ev.Data.EnergyConsumed)
		}
	}

	if err := e.repo.Update(ctx, active); err != nil {
		return Outcome{}, err
	}

	e.logger.Info("session closed",
		"device_id", ev.DeviceID, "session_id", active.SessionID,
		"state", active.State, "anomalous", active.Anomalous || anomalous)

	return Outcome{Session: active, State: active.State, Applied: true, Anomalous: anomalous}, nil
}

// openSession creates and persists a new PROCESSING session.
func (e *Engine) openSession(ctx context.Context, deviceID string, startedAt time.Time, anomalous bool) (*Session, error) {
	session := &Session{
		SessionID: uuid.New().String(),
		DeviceID:  deviceID,
		State:     StateProcessing,
		StartedAt: startedAt,
		Anomalous: anomalous,
	}

	if err := e.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	e.logger.Info("session opened",
		"device_id", deviceID, "session_id", session.SessionID, "anomalous", anomalous)
	return session, nil
}
