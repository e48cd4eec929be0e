package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum client message size
	maxMessageSize = 4096

	// sendBufferSize is the per-client outbound queue
	sendBufferSize = 256
)

// Client is one websocket connection and its subscriptions
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu            sync.RWMutex
	subscriptions map[SubscriptionType]bool
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        logger,
		subscriptions: make(map[SubscriptionType]bool),
	}
}

// IsSubscribed reports whether the client receives events of type t
func (c *Client) IsSubscribed(t SubscriptionType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[t]
}

func (c *Client) subscribe(t SubscriptionType) {
	c.mu.Lock()
	c.subscriptions[t] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(t SubscriptionType) {
	c.mu.Lock()
	delete(c.subscriptions, t)
	c.mu.Unlock()
}

// ReadPump reads client messages until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage answers one client message
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(MessageError, ErrorMessage{Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case MessagePing:
		c.reply(MessagePong, nil)

	case MessageSubscribe, MessageUnsubscribe:
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || !req.Type.Valid() {
			c.reply(MessageError, ErrorMessage{Error: fmt.Sprintf("invalid subscription type %q", req.Type)})
			return
		}
		if msg.Type == MessageSubscribe {
			c.subscribe(req.Type)
			c.reply(MessageSubscribed, SubscribeRequest{Type: req.Type})
		} else {
			c.unsubscribe(req.Type)
			c.reply(MessageUnsubscribed, SubscribeRequest{Type: req.Type})
		}

	default:
		c.reply(MessageError, ErrorMessage{Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// reply queues a direct response; it is dropped when the queue is full
func (c *Client) reply(msgType string, payload interface{}) {
	data, err := encodeMessage(msgType, payload)
	if err != nil {
		c.logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	c.hub.sendTo(c, data)
}

// WritePump writes queued messages and keep-alive pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
