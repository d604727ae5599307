package storage

import "errors"

var (
	ErrUnknownProvider   = errors.New("unknown storage provider")
	ErrMissingCredential = errors.New("cloudinary credentials are incomplete")
	ErrInvalidPublicID   = errors.New("public id must be a local relative path")
	ErrEmptyBody         = errors.New("upload body is required")
)
