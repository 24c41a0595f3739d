package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace/internal/constants"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 15 * time.Second
	pingPeriod     = 10 * time.Second // below pongWait
	maxMessageSize = 4096
)

// Client is one authenticated connection. The server only pushes events to
// it; the sole client command is an application level ping.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *WSMessage

	accountID string
	username  string
	sessionID string

	registered atomic.Bool
	closed     atomic.Bool
	closeConn  sync.Once
	closeSend  sync.Once
	dropped    atomic.Int64

	logger *slog.Logger
}

// NewClient wraps conn for an account that has already been authenticated.
func NewClient(hub *Hub, conn *websocket.Conn, accountID, username string) *Client {
	sessionID := uuid.NewString()
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan *WSMessage, constants.WSClientSendBufferSize),
		accountID: accountID,
		username:  username,
		sessionID: sessionID,
		logger:    hub.logger.With("account_id", accountID, "session_id", sessionID),
	}
}

// Start greets the peer, registers with the hub and starts both pumps.
func (c *Client) Start() {
	c.send <- &WSMessage{Op: OpHello, Data: HelloPayload{HeartbeatIntervalMS: pingPeriod.Milliseconds()}}

	if !c.hub.register(c) {
		c.Close()
		return
	}
	c.registered.Store(true)

	c.hub.deliver(c, &WSMessage{
		Op: OpReady,
		Data: ReadyPayload{
			ProtocolVersion: ProtocolVersion,
			SessionID:       c.sessionID,
			AccountID:       c.accountID,
			Username:        c.username,
		},
	})

	go c.writeLoop()
	go c.readLoop()
	c.logger.Debug("client connected")
}

// Close drops the connection. The pumps notice and unregister.
func (c *Client) Close() {
	c.closed.Store(true)
	c.closeConn.Do(func() { c.conn.Close() })
}

// IsClosed reports whether Close or shutdown has run.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// canReceive reports whether the hub may still queue messages for c.
func (c *Client) canReceive() bool {
	return c.registered.Load() && !c.closed.Load()
}

// shutdownSend closes the outbound queue. The hub calls it with h.mu held
// for writing, so no sender is in flight.
func (c *Client) shutdownSend() {
	c.closeSend.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
	c.closeConn.Do(func() { c.conn.Close() })
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		if msg.Op != OpDispatch {
			continue
		}
		c.hub.deliver(c, c.reply(msg.Type))
	}
}

func (c *Client) reply(command string) *WSMessage {
	if command == CmdPing {
		return &WSMessage{Op: OpDispatch, Type: EventPong}
	}
	return &WSMessage{
		Op:   OpDispatch,
		Type: EventError,
		Data: ErrorPayload{Code: constants.ErrCodeInvalidRequest, Message: "Unknown command"},
	}
}

func (c *Client) writeLoop() {
	heartbeat := time.NewTicker(pingPeriod)
	defer func() {
		heartbeat.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if c.IsClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
