package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// SubscriptionMessage is sent by clients to change what they receive.
type SubscriptionMessage struct {
	Action string   `json:"action"` // subscribe, unsubscribe
	RunIDs []string `json:"run_ids"`
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger

	mu     sync.RWMutex
	runIDs map[string]bool
}

// NewClient wraps a websocket connection. The caller is expected to start
// ReadPump and WritePump.
func NewClient(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		log:    log.WithFields(zap.String("component", "ws-client")),
		runIDs: make(map[string]bool),
	}
}

// ReadPump reads subscription messages until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.log.Warn("invalid subscription message", zap.Error(err))
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			for _, runID := range subMsg.RunIDs {
				c.Subscribe(runID)
			}
		case "unsubscribe":
			for _, runID := range subMsg.RunIDs {
				c.Unsubscribe(runID)
			}
		default:
			c.log.Warn("unknown action", zap.String("action", subMsg.Action))
		}
	}
}

// WritePump flushes outbound payloads and keeps the connection alive with
// pings.
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain whatever else is queued into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// Send queues a payload, reporting false when the buffer is full.
func (c *Client) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Subscribe adds a run to the client's interest set.
func (c *Client) Subscribe(runID string) {
	c.mu.Lock()
	c.runIDs[runID] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, runID)
	c.log.Debug("subscribed to run", zap.String("run_id", runID))
}

// Unsubscribe removes a run from the client's interest set.
func (c *Client) Unsubscribe(runID string) {
	c.mu.Lock()
	delete(c.runIDs, runID)
	c.mu.Unlock()
	c.hub.UnsubscribeClient(c, runID)
	c.log.Debug("unsubscribed from run", zap.String("run_id", runID))
}

// IsSubscribed reports whether the client follows the run.
func (c *Client) IsSubscribed(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runIDs[runID]
}
