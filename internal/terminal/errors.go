package terminal

import "errors"

var (
	// ErrSessionNotFound means no session with that ID is registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed means the operation hit a session that is not Active.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnauthorized means the caller identity does not own the session.
	ErrUnauthorized = errors.New("session owner mismatch")
	// ErrAlreadyAttached means a client connection already holds the session.
	ErrAlreadyAttached = errors.New("session already attached")
	// ErrGlobalLimit means the service-wide session cap is reached.
	ErrGlobalLimit = errors.New("global session limit exceeded")
	// ErrPerContainerLimit means the per-container session cap is reached.
	ErrPerContainerLimit = errors.New("per-container session limit exceeded")
)
