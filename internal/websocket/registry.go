package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"classhub/pkg/interfaces"
)

// Registry maps classroom rooms to the connections joined to them. It is an
// injected instance; nothing here is package state.
type Registry struct {
	mu          sync.RWMutex
	connections map[interfaces.Connection]struct{}
	rooms       map[string]map[interfaces.Connection]struct{}
	memberships map[interfaces.Connection]map[string]struct{}
}

var _ interfaces.Broadcaster = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[interfaces.Connection]struct{}),
		rooms:       make(map[string]map[interfaces.Connection]struct{}),
		memberships: make(map[interfaces.Connection]map[string]struct{}),
	}
}

// Register tracks a live connection that has not joined any room yet
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	r.connections[conn] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Join adds conn to the room for classroomID. Joining twice is a no-op.
// A connection may be in several rooms at once.
func (r *Registry) Join(classroomID string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if classroomID == "" {
		return ErrEmptyRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn] = struct{}{}

	room, ok := r.rooms[classroomID]
	if !ok {
		room = make(map[interfaces.Connection]struct{})
		r.rooms[classroomID] = room
	}
	room[conn] = struct{}{}

	joined, ok := r.memberships[conn]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[conn] = joined
	}
	joined[classroomID] = struct{}{}
	return nil
}

// Leave removes conn from every room and forgets it. Idempotent.
func (r *Registry) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.removeLocked(conn)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(conn interfaces.Connection) {
	for classroomID := range r.memberships[conn] {
		if room, ok := r.rooms[classroomID]; ok {
			delete(room, conn)
			if len(room) == 0 {
				delete(r.rooms, classroomID)
			}
		}
	}
	delete(r.memberships, conn)
	delete(r.connections, conn)
}

// Broadcast encodes event once and queues it on every connection joined to
// classroomID, sender included. Connections that cannot take the frame are
// dropped from all rooms and closed. It returns the number of connections
// the frame was queued on.
func (r *Registry) Broadcast(classroomID string, event interface{}) int {
	r.mu.RLock()
	room := r.rooms[classroomID]
	targets := make([]interfaces.Connection, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode broadcast", "classroom_id", classroomID, "error", err)
		return 0
	}

	delivered := 0
	var failed []interfaces.Connection
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			failed = append(failed, conn)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, conn := range failed {
			r.removeLocked(conn)
		}
		r.mu.Unlock()

		for _, conn := range failed {
			slog.Warn("dropping unresponsive connection",
				"classroom_id", classroomID, "conn_id", conn.ID(), "user_id", conn.Identity().UserID)
			_ = conn.Close()
		}
	}

	return delivered
}

// RoomSize returns the number of connections joined to classroomID
func (r *Registry) RoomSize(classroomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[classroomID])
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
	}
}
