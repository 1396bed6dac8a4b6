package session

import "errors"

var (
	// ErrNotFound is returned when a session has no readable record.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidInput is returned for requests that cannot be serviced as sent.
	ErrInvalidInput = errors.New("invalid input")
)
