package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a websocket connection bound to a verified principal.
type Client struct {
	id        string
	principal auth.Principal
	conn      *websocket.Conn
	send      chan events.Event
	logger    *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps conn with a send buffer of the given size.
func NewClient(conn *websocket.Conn, principal auth.Principal, buffer int, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	return &Client{
		id:        id,
		principal: principal,
		conn:      conn,
		send:      make(chan events.Event, buffer),
		logger:    logger.With(zap.String("connection_id", id)),
		closed:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Principal returns the identity verified at upgrade.
func (c *Client) Principal() auth.Principal { return c.principal }

// Send queues event without blocking.
func (c *Client) Send(event events.Event) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- event:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) readPump(handle func(raw []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if len(raw) == 0 {
			continue
		}
		handle(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frameFor(event)); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
