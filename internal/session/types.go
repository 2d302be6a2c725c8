package session

import "time"

// State represents the lifecycle state of a processing session.
// IDLE is never persisted; it is the implicit state of a device with no
// active session.
type State string

// State constants.
const (
	StateIdle       State = "IDLE"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
)

// Session represents one run of an appliance's core operation.
// This matches the database schema in migrations/20260815_120000_initial_schema.up.sql.
type Session struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	State     State  `json:"state"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Weights in grams as reported by the food-input events.
	InitialWeight   *float64 `json:"initial_weight,omitempty"`
	FinalWeight     *float64 `json:"final_weight,omitempty"`
	ProcessedAmount *float64 `json:"processed_amount,omitempty"`

	DurationMinutes *float64 `json:"duration_minutes,omitempty"`
	EnergyConsumed  *float64 `json:"energy_consumed,omitempty"`

	// Anomalous marks a session reconstructed from an incomplete event
	// sequence, such as a completion that arrived with no prior start.
	Anomalous bool `json:"anomalous"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy creates an independent copy of the Session.
func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.CompletedAt = copyTime(s.CompletedAt)
	cpy.InitialWeight = copyFloat(s.InitialWeight)
	cpy.FinalWeight = copyFloat(s.FinalWeight)
	cpy.ProcessedAmount = copyFloat(s.ProcessedAmount)
	cpy.DurationMinutes = copyFloat(s.DurationMinutes)
	cpy.EnergyConsumed = copyFloat(s.EnergyConsumed)
	return &cpy
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// EventType identifies a discrete lifecycle or status event reported by
// a device. The set is closed; unknown strings are rejected at parse
// time rather than carried through the state machine.
type EventType string

// Lifecycle events: these drive session-state transitions.
const (
	EventProcessingStarted   EventType = "PROCESSING_STARTED"
	EventProcessingCompleted EventType = "PROCESSING_COMPLETED"
	EventProcessingFailed    EventType = "PROCESSING_FAILED"
	EventSensorError         EventType = "SENSOR_ERROR"
	EventFoodInputBefore     EventType = "FOOD_INPUT_BEFORE"
	EventFoodInputAfter      EventType = "FOOD_INPUT_AFTER"
)

// Status events: recorded and deduplicated but cause no session
// transition. Door events additionally update the device record.
const (
	EventDoorOpened       EventType = "DOOR_OPENED"
	EventDoorClosed       EventType = "DOOR_CLOSED"
	EventTemperatureAlert EventType = "TEMPERATURE_ALERT"
	EventCleaningRequired EventType = "CLEANING_REQUIRED"
)

// AllEventTypes returns all valid event type values.
func AllEventTypes() []EventType {
	return []EventType{
		EventProcessingStarted, EventProcessingCompleted, EventProcessingFailed,
		EventSensorError, EventFoodInputBefore, EventFoodInputAfter,
		EventDoorOpened, EventDoorClosed, EventTemperatureAlert, EventCleaningRequired,
	}
}

// ParseEventType validates a raw event-type string from the wire.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(raw)
	switch et {
	case EventProcessingStarted, EventProcessingCompleted, EventProcessingFailed,
		EventSensorError, EventFoodInputBefore, EventFoodInputAfter,
		EventDoorOpened, EventDoorClosed, EventTemperatureAlert, EventCleaningRequired:
		return et, nil
	}
	return "", ErrInvalidEventType
}

// EventData carries the optional payload fields an event may attach.
type EventData struct {
	Weight          *float64 `json:"weight,omitempty"`
	ProcessedAmount *float64 `json:"processedAmount,omitempty"`
	DurationMinutes *float64 `json:"durationMinutes,omitempty"`
	EnergyConsumed  *float64 `json:"energyConsumed,omitempty"`
	Message         *string  `json:"message,omitempty"`
}

// Event is one inbound device event after boundary validation.
//
// SessionID is the client-supplied correlation hint. It is advisory
// only: the engine resolves the device's actual active session and
// ignores mismatches.
type Event struct {
	DeviceID   string
	Type       EventType
	SessionID  *string
	ObservedAt time.Time
	ReceivedAt time.Time
	Data       EventData
}

// Outcome reports what applying an inbound unit did.
type Outcome struct {
	// Session is the session the unit attached to or created, nil when
	// the device is idle and the unit carried no start signal.
	Session *Session

	// State is the device's session state after the unit: the session's
	// state, or IDLE when Session is nil.
	State State

	// Applied is false when the event was a duplicate and produced no
	// transition.
	Applied bool

	// Anomalous is true when the unit forced a retroactive session.
	Anomalous bool
}
