package hiddenservice

import "errors"

var (
	// ErrAlreadyStarted is returned by Start when the manager is already running.
	ErrAlreadyStarted = errors.New("hidden service manager is already running")

	// ErrManagerStopped is returned by Start after Stop has been called.
	// Stopped is terminal; create a new Manager to publish again.
	ErrManagerStopped = errors.New("hidden service manager has been stopped")
)
