package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// frame is the envelope for every inbound message
type frame struct {
	Event string          `json:"event"`
	AckID json.RawMessage `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is the envelope for every outbound message
type outFrame struct {
	Event string          `json:"event"`
	AckID json.RawMessage `json:"ackId,omitempty"`
	Data  interface{}     `json:"data,omitempty"`
}

func encode(event string, ackID json.RawMessage, payload interface{}) ([]byte, bool) {
	b, err := json.Marshal(outFrame{Event: event, AckID: ackID, Data: payload})
	if err != nil {
		metrics.WebSocketFramesDroppedTotal.WithLabelValues("encode").Inc()
		logger.Error("Failed to encode frame",
			zap.String("event", event),
			zap.Error(err))
		return nil, false
	}
	return b, true
}

// ConnectionIndex resolves a username to its live connection ids
type ConnectionIndex interface {
	Connections(username string) []string
}

// Hub owns the live clients and room membership, and delivers frames to
// them. It implements the emitter interfaces of the signaling and relay
// services.
type Hub struct {
	index ConnectionIndex

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

// NewHub creates a new Hub
func NewHub(index ConnectionIndex) *Hub {
	return &Hub{
		index:   index,
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.id)
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = nil
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.clients[c.id]; !live {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// ToConnection sends to a single connection
func (h *Hub) ToConnection(connID, event string, payload interface{}) {
	msg, ok := encode(event, nil, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

// ToUser sends to every connection of username
func (h *Hub) ToUser(username, event string, payload interface{}) {
	ids := h.index.Connections(username)
	if len(ids) == 0 {
		return
	}
	msg, ok := encode(event, nil, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// ToRoom sends to every connection joined to room except exceptConnID
func (h *Hub) ToRoom(room, event string, payload interface{}, exceptConnID string) {
	msg, ok := encode(event, nil, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Broadcast sends to every live connection
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, ok := encode(event, nil, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Len returns the number of live connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections joined to room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.close()
	}
}
