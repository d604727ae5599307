package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// MessageSubmitter runs the chat pipeline for one inbound chatMessage
type MessageSubmitter interface {
	SubmitMessage(ctx context.Context, identity *types.Identity, req *types.ChatRequest) (*types.Message, error)
}

// LaneExecutor serializes work per classroom
type LaneExecutor interface {
	Execute(ctx context.Context, classroomID string, job func(ctx context.Context) error) error
}

// HistorySource supplies the backlog sent to a joining connection
type HistorySource interface {
	ListMessages(ctx context.Context, classroomID string, limit int) ([]*types.Message, error)
}

// HandlerConfig tunes the transport and join behaviour
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	// HistoryLimit caps the history frame; 0 sends the whole log
	HistoryLimit int
	// VerifyMembership admits joinRoom only for the classroom's teacher and students
	VerifyMembership bool
	// AllowedOrigins lists accepted cross-site Origin hosts; "*" accepts any.
	// Empty admits same-origin handshakes only.
	AllowedOrigins []string
	// OperationTimeout bounds each dispatched event
	OperationTimeout time.Duration
}

// DefaultHandlerConfig returns the transport defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		BufferSize:       256,
		OperationTimeout: 30 * time.Second,
	}
}

// Handler upgrades authenticated requests and runs the read pump
type Handler struct {
	registry   *Registry
	auth       interfaces.SessionAuthenticator
	submitter  MessageSubmitter
	lanes      LaneExecutor
	history    HistorySource
	membership interfaces.MembershipChecker
	config     HandlerConfig
	upgrader   websocket.Upgrader
}

// NewHandler wires the realtime endpoint. membership may be nil when
// config.VerifyMembership is false.
func NewHandler(registry *Registry, auth interfaces.SessionAuthenticator, submitter MessageSubmitter,
	lanes LaneExecutor, history HistorySource, membership interfaces.MembershipChecker, config HandlerConfig) *Handler {
	h := &Handler{
		registry:   registry,
		auth:       auth,
		submitter:  submitter,
		lanes:      lanes,
		history:    history,
		membership: membership,
		config:     config,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWebSocket resolves the session identity before upgrading. Requests
// without one get 401 and never become connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil || identity == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	conn := NewConnection(ws, identity, h.config.BufferSize, h.config.WriteTimeout, h.config.PingInterval)
	if err := h.registry.Register(conn); err != nil {
		slog.Error("failed to register connection", "user_id", identity.UserID, "error", err)
		_ = conn.Close()
		return
	}

	slog.Info("websocket connected", "conn_id", conn.ID(), "user_id", identity.UserID, "role", identity.Role)
	go h.readPump(conn)
}

// readPump dispatches inbound frames until the socket fails, then removes
// the connection from every room
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.registry.Leave(conn)
		_ = conn.Close()
		slog.Info("websocket disconnected", "conn_id", conn.ID(), "user_id", conn.identity.UserID)
	}()

	conn.conn.SetReadLimit(1 << 20)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := h.dispatch(conn, data); err != nil {
			slog.Warn("dropped realtime event",
				"conn_id", conn.ID(), "user_id", conn.identity.UserID, "error", err)
		}
	}
}

func (h *Handler) dispatch(conn *Connection, data []byte) error {
	var in types.InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ctx, cancel := context.WithTimeout(conn.ctx, h.config.OperationTimeout)
	defer cancel()

	switch in.Event {
	case types.EventJoinRoom:
		classroomID, err := decodeJoinRoom(in.Data)
		if err != nil {
			return err
		}
		return h.joinRoom(ctx, conn, classroomID)

	case types.EventChatMessage:
		var req types.ChatRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		_, err := h.submitter.SubmitMessage(ctx, conn.Identity(), &req)
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}
}

// joinRoom admits conn to the classroom room. History and the join run in
// the classroom's lane, so no broadcast can fall between them.
func (h *Handler) joinRoom(ctx context.Context, conn *Connection, classroomID string) error {
	identity := conn.Identity()

	if h.config.VerifyMembership && h.membership != nil {
		if err := h.membership.ValidateMembership(ctx, classroomID, identity.UserID); err != nil {
			return fmt.Errorf("join refused for classroom %s: %w", classroomID, err)
		}
	}

	return h.lanes.Execute(ctx, classroomID, func(ctx context.Context) error {
		if h.history != nil {
			h.sendHistory(ctx, conn, classroomID)
		}
		if err := h.registry.Join(classroomID, conn); err != nil {
			return err
		}
		slog.Debug("joined room", "classroom_id", classroomID, "user_id", identity.UserID)
		return nil
	})
}

func (h *Handler) sendHistory(ctx context.Context, conn *Connection, classroomID string) {
	messages, err := h.history.ListMessages(ctx, classroomID, h.config.HistoryLimit)
	if err != nil {
		if !errors.Is(err, interfaces.ErrClassroomNotFound) {
			slog.Warn("failed to load history", "classroom_id", classroomID, "error", err)
		}
		return
	}
	if len(messages) == 0 {
		return
	}

	data, err := json.Marshal(types.Event{Event: types.EventHistory, Data: messages})
	if err != nil {
		slog.Error("failed to encode history", "classroom_id", classroomID, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("failed to send history", "classroom_id", classroomID, "conn_id", conn.ID(), "error", err)
	}
}

// decodeJoinRoom accepts either a bare classroom id string or an object
// carrying classroomId
func decodeJoinRoom(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var obj struct {
			ClassroomID string `json:"classroomId"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("%w: joinRoom expects a classroom id", ErrMalformedEvent)
		}
		id = obj.ClassroomID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: joinRoom expects a classroom id", ErrMalformedEvent)
	}
	return id, nil
}
