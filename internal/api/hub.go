package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
)

// Hub fans capability and discovery events out to WebSocket clients.
//
// Subscribers are indexed per channel, so a broadcast only visits the
// clients that asked for that channel. A client whose send buffer is full
// misses the event; the miss is counted in Dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	channels map[string]map[*wsClient]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub with one empty subscriber set per channel.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
		channels: make(map[string]map[*wsClient]struct{}, len(wsChannels)),
	}
	for ch := range wsChannels {
		h.channels[ch] = make(map[*wsClient]struct{})
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	for ch := range h.channels {
		h.channels[ch] = make(map[*wsClient]struct{})
	}
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// unregister drops c from the hub and every channel. It is idempotent.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	for _, subs := range h.channels {
		delete(subs, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if existed {
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// subscribe adds c to channels, or removes it when on is false. Unknown
// channels must be rejected by the caller.
func (h *Hub) subscribe(c *wsClient, channels []string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for _, ch := range channels {
		if on {
			h.channels[ch][c] = struct{}{}
		} else {
			delete(h.channels[ch], c)
		}
	}
}

// Broadcast sends payload as an event to the subscribers of channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]*wsClient, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Dropped returns how many events were not delivered to a slow or
// departing client.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
