package interfaces

import "classhub/pkg/types"

// Connection represents a realtime client connection.
// Implementations must serialize writes; Send may be called from any goroutine.
type Connection interface {
	// ID returns a process-unique identifier for the connection
	ID() string

	// Identity returns the immutable identity captured at handshake
	Identity() *types.Identity

	// Send queues an already encoded frame without blocking.
	// It fails when the connection is closed or its buffer is full.
	Send(data []byte) error

	// Close closes the connection and releases its resources
	Close() error
}

// Broadcaster fans events out to the members of a room
type Broadcaster interface {
	Broadcast(classroomID string, event interface{}) int
}
