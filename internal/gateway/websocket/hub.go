// Package websocket streams run transitions to connected UI clients. Clients
// subscribe to individual run IDs (or "*" for everything); the hub fans the
// bus's run events out to the matching connections.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/events"
	"github.com/diane-assistant/agent-gateway/internal/events/bus"
)

// SubscribeAll is the wildcard run ID that matches every run.
const SubscribeAll = "*"

// Hub tracks connected clients and their run subscriptions.
type Hub struct {
	log *logger.Logger

	mu            sync.RWMutex
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool // run ID -> clients
	closed        bool

	busSub bus.Subscription
}

// NewHub creates a hub. Call Run to attach it to the event bus.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.WithFields(zap.String("component", "ws-hub")),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// Run subscribes the hub to run transitions on the bus. Events are forwarded
// to clients subscribed to the event's run ID or to the wildcard.
func (h *Hub) Run(eventBus bus.EventBus) error {
	sub, err := eventBus.Subscribe(events.SubjectRunAll, func(ctx context.Context, ev *bus.Event) error {
		runID, _ := ev.Data["run_id"].(string)
		if runID == "" {
			return nil
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		h.Broadcast(runID, payload)
		return nil
	})
	if err != nil {
		return err
	}
	h.busSub = sub
	return nil
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	h.clients[c] = true
}

// Unregister removes a client and all its subscriptions.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for runID, subs := range h.subscriptions {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, runID)
		}
	}
	close(c.send)
}

// SubscribeClient adds a run subscription for a client.
func (h *Hub) SubscribeClient(c *Client, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.subscriptions[runID]
	if !ok {
		subs = make(map[*Client]bool)
		h.subscriptions[runID] = subs
	}
	subs[c] = true
}

// UnsubscribeClient removes a run subscription.
func (h *Hub) UnsubscribeClient(c *Client, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscriptions[runID]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.subscriptions, runID)
	}
}

// Broadcast delivers a payload to every client subscribed to the run or to
// the wildcard. Clients with a full send buffer are dropped.
func (h *Hub) Broadcast(runID string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, 4)
	for c := range h.subscriptions[runID] {
		targets = append(targets, c)
	}
	for c := range h.subscriptions[SubscribeAll] {
		if _, dup := h.subscriptions[runID][c]; !dup {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(payload) {
			h.log.Warn("dropping slow websocket client")
			h.Unregister(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and detaches from the bus.
func (h *Hub) Close() {
	if h.busSub != nil {
		h.busSub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.subscriptions = make(map[string]map[*Client]bool)
}
