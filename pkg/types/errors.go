package types

import "errors"

// Error kinds shared by every component. Specific errors wrap one of these
// so callers can branch with errors.Is on the kind alone.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUploadFailed      = errors.New("upload failed")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrForbidden         = errors.New("forbidden")
)

// Validation errors, each wrapped in ErrInvalidArgument by the validators
var (
	ErrMissingContent       = errors.New("content is required for text and math messages")
	ErrMissingAttachmentURL = errors.New("attachmentUrl is required for image and file messages")
	ErrInvalidMessageType   = errors.New("type must be one of text, math, image, file")
	ErrInvalidCategory      = errors.New("category must be one of exercise, homework, correction, general")
	ErrInvalidRole          = errors.New("role must be 'teacher' or 'student'")
	ErrContentTooLarge      = errors.New("message content exceeds 64KB limit")
)
