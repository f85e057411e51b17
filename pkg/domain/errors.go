package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidSubject       = errors.New("invalid subject")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrRoomClosed           = errors.New("room closed")
	// ErrInvalidState indicates the room status does not allow the operation.
	ErrInvalidState = errors.New("invalid room state")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned by conditional store updates whose predicate did not match.
	ErrConflict = errors.New("conflict")
)
