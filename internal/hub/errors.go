package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEmptyClassroomID  = errors.New("classroom id cannot be empty")
	ErrJobPanicked       = errors.New("lane job panicked")
)
