package collage

import "errors"

var (
	// ErrInvalidDirection is returned when a session is started with an
	// unknown layout direction.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrNoSession is returned by operations that require an active session.
	ErrNoSession = errors.New("no active session")

	// ErrSessionProcessing is returned when a session is already being
	// rendered and cannot be changed anymore.
	ErrSessionProcessing = errors.New("session is already being processed")
)
