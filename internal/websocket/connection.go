package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Connection wraps a websocket with a single writer goroutine. The identity
// is captured at handshake and never changes.
type Connection struct {
	id           string
	conn         *websocket.Conn
	identity     types.Identity
	writeCh      chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection starts the writer for conn. bufferSize bounds the frames
// queued for a slow client; pingInterval of zero disables pings.
func NewConnection(conn *websocket.Conn, identity *types.Identity, bufferSize int, writeTimeout, pingInterval time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		identity:     *identity,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write failed", "conn_id", c.id, "user_id", c.identity.UserID, "error", err)
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Identity returns a copy of the handshake identity
func (c *Connection) Identity() *types.Identity {
	identity := c.identity
	return &identity
}

// Send queues data for the writer without blocking. It fails when the
// connection is closed or the client has fallen a full buffer behind.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
