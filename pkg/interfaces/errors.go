package interfaces

import "errors"

// Common store errors used across backends
var (
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateJoinCode = errors.New("join code already in use")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrStoreClosed       = errors.New("store is closed")
)
