// Package hub serializes work per classroom. Each active classroom gets one
// lane goroutine; jobs submitted for the same classroom run one at a time in
// submission order, jobs for different classrooms run concurrently.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a unit of work run inside a classroom lane
type Job = func(ctx context.Context) error

// Config tunes lane lifetime and queue depth
type Config struct {
	LaneIdleTimeout time.Duration
	LaneQueueSize   int
}

// DefaultConfig returns the lane defaults
func DefaultConfig() Config {
	return Config{
		LaneIdleTimeout: time.Minute,
		LaneQueueSize:   64,
	}
}

// Hub owns the per-classroom lanes
type Hub struct {
	config Config

	mu      sync.Mutex
	lanes   map[string]*lane
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed uint64
}

type lane struct {
	classroomID string
	jobs        chan *job
	// pending counts jobs handed to Execute but not yet finished; guarded by Hub.mu
	pending int
}

type job struct {
	ctx    context.Context
	fn     Job
	result chan error
}

// NewHub creates a stopped hub
func NewHub(config Config) *Hub {
	if config.LaneIdleTimeout <= 0 {
		config.LaneIdleTimeout = DefaultConfig().LaneIdleTimeout
	}
	if config.LaneQueueSize <= 0 {
		config.LaneQueueSize = DefaultConfig().LaneQueueSize
	}
	return &Hub{
		config: config,
		lanes:  make(map[string]*lane),
	}
}

// Start enables Execute. Cancelling ctx stops the hub like Stop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	slog.Info("hub started", "lane_idle_timeout", h.config.LaneIdleTimeout.String())
	return nil
}

// Stop ends every lane and waits for running jobs to return
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	h.lanes = make(map[string]*lane)
	h.mu.Unlock()

	slog.Info("hub stopped")
	return nil
}

// Execute runs fn in the lane for classroomID and returns its error. It
// blocks until fn has finished, ctx is done before fn was queued, or the hub
// stops.
func (h *Hub) Execute(ctx context.Context, classroomID string, fn Job) error {
	if classroomID == "" {
		return ErrEmptyClassroomID
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	l, ok := h.lanes[classroomID]
	if !ok {
		l = &lane{
			classroomID: classroomID,
			jobs:        make(chan *job, h.config.LaneQueueSize),
		}
		h.lanes[classroomID] = l
		h.wg.Add(1)
		go h.runLane(l)
	}
	l.pending++
	hubCtx := h.ctx
	h.mu.Unlock()

	j := &job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case l.jobs <- j:
	case <-ctx.Done():
		h.release(l)
		return ctx.Err()
	case <-hubCtx.Done():
		h.release(l)
		return ErrHubNotRunning
	}

	select {
	case err := <-j.result:
		return err
	case <-hubCtx.Done():
		return ErrHubNotRunning
	}
}

func (h *Hub) release(l *lane) {
	h.mu.Lock()
	l.pending--
	h.mu.Unlock()
}

// runLane drains one classroom's queue and exits after it has been idle
// with nothing pending for the configured timeout
func (h *Hub) runLane(l *lane) {
	defer h.wg.Done()

	h.mu.Lock()
	hubCtx := h.ctx
	h.mu.Unlock()

	idle := time.NewTimer(h.config.LaneIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j := <-l.jobs:
			j.result <- runJob(j)
			h.mu.Lock()
			l.pending--
			h.processed++
			h.mu.Unlock()
			idle.Reset(h.config.LaneIdleTimeout)

		case <-idle.C:
			h.mu.Lock()
			if l.pending == 0 {
				if h.lanes[l.classroomID] == l {
					delete(h.lanes, l.classroomID)
				}
				h.mu.Unlock()
				slog.Debug("lane retired", "classroom_id", l.classroomID)
				return
			}
			h.mu.Unlock()
			idle.Reset(h.config.LaneIdleTimeout)

		case <-hubCtx.Done():
			return
		}
	}
}

func runJob(j *job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lane job panicked", "panic", fmt.Sprint(r))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return j.fn(j.ctx)
}

// GetStats returns lane statistics for monitoring
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	pending := 0
	for _, l := range h.lanes {
		pending += l.pending
	}
	return map[string]interface{}{
		"running":        h.running,
		"active_lanes":   len(h.lanes),
		"pending_jobs":   pending,
		"processed_jobs": h.processed,
	}
}

// IsRunning reports whether the hub accepts work
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}
