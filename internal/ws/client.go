package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{SubprotocolProtobuf, SubprotocolJSON},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol protocol
}

// ServeWS upgrades the request and registers the connection. An optional
// ?underlying= query subscribes the client immediately.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var initial string
	if q := r.URL.Query().Get("underlying"); q != "" {
		g, ok := h.validGroup(q)
		if !ok {
			http.Error(w, "unknown underlying", http.StatusBadRequest)
			return
		}
		initial = g
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	p := protocolJSON
	if conn.Subprotocol() == SubprotocolProtobuf {
		p = protocolProtobuf
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connID:   uuid.NewString(),
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: p,
	}

	if !h.add(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client.enqueue(connectedMessage(client.connID))
	if initial != "" {
		h.JoinGroup(client, initial)
	}

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(messageType, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	msgType := c.protocol.messageType()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(messageType int, data []byte) {
	msg, err := parseUpstreamMessage(messageType, data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.Stringer("protocol", c.protocol),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *subscribeRequest:
		group, ok := c.hub.validGroup(m.group)
		if ok {
			c.hub.JoinGroup(c, group)
		} else {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.group),
			)
		}
		if m.ackID != nil {
			c.enqueue(ackMessage(*m.ackID, ok))
		}

	case *unsubscribeRequest:
		group, ok := c.hub.validGroup(m.group)
		if ok {
			c.hub.LeaveGroup(c, group)
		}
		if m.ackID != nil {
			c.enqueue(ackMessage(*m.ackID, ok))
		}

	case *pingRequest:
		c.enqueue(pongMessage())
	}
}

// enqueue renders msg in the client's protocol and queues it unless the
// client has already been removed.
func (c *Client) enqueue(msg map[string]any) {
	frame, err := c.hub.encoder.encode(c.protocol, msg)
	if err != nil {
		c.logger.Warn("failed to encode message", zap.String("connID", c.connID), zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
		go c.hub.disconnect(c)
	}
}
