// Package router is the chat message pipeline: validate, persist, then
// broadcast to the classroom.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// LaneExecutor serializes work per classroom
type LaneExecutor interface {
	Execute(ctx context.Context, classroomID string, job func(ctx context.Context) error) error
}

// Config tunes the pipeline
type Config struct {
	StoreTimeout      time.Duration
	MessagesPerMinute int
}

// maxTrackedClassrooms bounds the timestamp cache. Evicted classrooms are
// reseeded from the store on their next message.
const maxTrackedClassrooms = 1024

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		StoreTimeout:      5 * time.Second,
		MessagesPerMinute: 100,
	}
}

// Router validates chat submissions, persists them and fans them out.
// Persistence and broadcast for a classroom happen inside its lane, so the
// order members receive messages is the order they were stored.
type Router struct {
	store       interfaces.ClassroomStore
	broadcaster interfaces.Broadcaster
	lanes       LaneExecutor
	rateLimiter *RateLimiter
	config      Config
	now         func() time.Time

	mu            sync.Mutex
	lastTimestamp map[string]time.Time
}

// NewRouter creates a message router
func NewRouter(store interfaces.ClassroomStore, broadcaster interfaces.Broadcaster, lanes LaneExecutor, config Config) *Router {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Router{
		store:         store,
		broadcaster:   broadcaster,
		lanes:         lanes,
		rateLimiter:   NewRateLimiter(config.MessagesPerMinute, time.Minute),
		config:        config,
		now:           time.Now,
		lastTimestamp: make(map[string]time.Time),
	}
}

// RateLimiter exposes the limiter so its cleanup loop can be scheduled
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// SubmitMessage runs one chat submission through the pipeline and returns
// the stored message. Nothing is broadcast unless the append succeeded.
func (r *Router) SubmitMessage(ctx context.Context, identity *types.Identity, req *types.ChatRequest) (*types.Message, error) {
	if identity == nil || identity.UserID == "" {
		return nil, types.ErrUnauthenticated
	}
	if req == nil {
		return nil, ErrNilRequest
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, ErrNoStore)
	}
	if !r.rateLimiter.Allow(identity.UserID) {
		return nil, ErrRateLimited
	}

	message := &types.Message{
		ID:             uuid.New().String(),
		SenderID:       identity.UserID,
		SenderUsername: identity.Username,
		Content:        req.Content,
		Type:           req.Type,
	}
	if types.IsAttachmentType(req.Type) {
		message.AttachmentURL = req.AttachmentURL
	}

	job := func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
		message.Timestamp = r.nextTimestamp(storeCtx, req.ClassroomID)
		err := r.store.AppendMessage(storeCtx, req.ClassroomID, message)
		cancel()
		if err != nil {
			if errors.Is(err, interfaces.ErrClassroomNotFound) {
				return fmt.Errorf("%w: %w", types.ErrNotFound, err)
			}
			return fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
		}
		r.commitTimestamp(req.ClassroomID, message.Timestamp)

		if r.broadcaster != nil {
			delivered := r.broadcaster.Broadcast(req.ClassroomID, types.Event{
				Event: types.EventMessage,
				Data:  message,
			})
			slog.Debug("message broadcast",
				"classroom_id", req.ClassroomID,
				"message_id", message.ID,
				"delivered", delivered)
		}
		return nil
	}

	var err error
	if r.lanes != nil {
		err = r.lanes.Execute(ctx, req.ClassroomID, job)
	} else {
		err = job(ctx)
	}
	if err != nil {
		return nil, err
	}
	return message, nil
}

// nextTimestamp returns now, clamped so timestamps never go backwards within
// a classroom. Must run inside the classroom's lane.
func (r *Router) nextTimestamp(ctx context.Context, classroomID string) time.Time {
	now := r.now().UTC()

	r.mu.Lock()
	last, ok := r.lastTimestamp[classroomID]
	r.mu.Unlock()
	if !ok {
		last, ok = r.lastStored(ctx, classroomID)
	}
	if ok && now.Before(last) {
		return last
	}
	return now
}

// lastStored reads the newest persisted timestamp, covering restarts and
// cache evictions
func (r *Router) lastStored(ctx context.Context, classroomID string) (time.Time, bool) {
	messages, err := r.store.ListMessages(ctx, classroomID, 1)
	if err != nil {
		slog.Debug("could not seed message timestamp", "classroom_id", classroomID, "error", err)
		return time.Time{}, false
	}
	if len(messages) == 0 {
		return time.Time{}, false
	}
	return messages[len(messages)-1].Timestamp.UTC(), true
}

func (r *Router) commitTimestamp(classroomID string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lastTimestamp[classroomID]; !ok && len(r.lastTimestamp) >= maxTrackedClassrooms {
		for id := range r.lastTimestamp {
			delete(r.lastTimestamp, id)
			break
		}
	}
	r.lastTimestamp[classroomID] = ts
}

// GetStats returns router statistics for monitoring
func (r *Router) GetStats() map[string]interface{} {
	r.mu.Lock()
	classrooms := len(r.lastTimestamp)
	r.mu.Unlock()

	return map[string]interface{}{
		"classrooms_seen":    classrooms,
		"rate_limited_users": r.rateLimiter.Tracked(),
	}
}
