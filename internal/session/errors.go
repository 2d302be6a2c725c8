package session

import "errors"

// Domain errors for the session package.
var (
	// ErrSessionNotFound is returned when a session ID does not exist or
	// a device has no active session.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrActiveSessionExists is returned by the store when an insert
	// would create a second PROCESSING session for the same device.
	ErrActiveSessionExists = errors.New("session: active session already exists")

	// ErrInvalidEventType is returned when an event type is not recognised.
	ErrInvalidEventType = errors.New("session: invalid event type")
)
