package websocket

import "errors"

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Registry errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrEmptyRoom     = errors.New("classroom id cannot be empty")
)

// Handler errors
var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedEvent = errors.New("malformed event payload")
)
