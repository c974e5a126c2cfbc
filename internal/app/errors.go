package app

import "errors"

var (
	// ErrBusy means the same logical action is already in flight.
	ErrBusy = errors.New("operation already in flight")

	// ErrNoSession means no active session is selected.
	ErrNoSession = errors.New("no active session")

	// ErrPendingMessage means the edit target has no server id yet.
	ErrPendingMessage = errors.New("message not yet confirmed by the server")

	// ErrInputTooLong means the message exceeds the server's input cap.
	ErrInputTooLong = errors.New("input exceeds the 20000 character limit")
)
