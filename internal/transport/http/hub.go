package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/domain"
)

const defaultSendBuffer = 64

// client is the hub's side of one websocket: an outbound queue drained by
// the connection's write pump.
type client struct {
	id        string
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks live connections and room broadcast groups. It implements
// app.Broadcaster; every method is non-blocking so sessions may call it
// while holding their own lock.
type Hub struct {
	bufferSize int

	mu    sync.RWMutex
	conns map[string]*client
	rooms map[string]map[string]struct{}
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Hub{
		bufferSize: bufferSize,
		conns:      make(map[string]*client),
		rooms:      make(map[string]map[string]struct{}),
	}
}

// Register adds a connection and returns the queue its write pump drains.
func (h *Hub) Register(id string) <-chan []byte {
	c := &client{id: id, send: make(chan []byte, h.bufferSize)}
	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		old.close()
	}
	h.conns[id] = c
	h.mu.Unlock()
	return c.send
}

// Unregister removes a connection from the hub and every room group.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) Subscribe(code, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[code] = members
	}
	members[id] = struct{}{}
}

func (h *Hub) Unsubscribe(code, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[code]; ok {
		delete(members, id)
	}
}

func (h *Hub) Broadcast(code string, evt domain.Event) {
	data, ok := encode(evt)
	if !ok {
		return
	}

	var slow []string
	h.mu.RLock()
	for id := range h.rooms[code] {
		if c, ok := h.conns[id]; ok && !enqueue(c, data) {
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	h.dropSlow(slow)
}

func (h *Hub) Send(id string, evt domain.Event) {
	data, ok := encode(evt)
	if !ok {
		return
	}

	h.mu.RLock()
	c, ok := h.conns[id]
	full := ok && !enqueue(c, data)
	h.mu.RUnlock()

	if full {
		h.dropSlow([]string{id})
	}
}

// Drop closes a connection's queue; the write pump flushes what is already
// queued and then closes the socket.
func (h *Hub) Drop(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

func (h *Hub) CloseRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}

// Members returns how many connections are subscribed to a room.
func (h *Hub) Members(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

func (h *Hub) removeLocked(id string) {
	c, ok := h.conns[id]
	if !ok {
		return
	}
	delete(h.conns, id)
	for _, members := range h.rooms {
		delete(members, id)
	}
	c.close()
}

func (h *Hub) dropSlow(ids []string) {
	for _, id := range ids {
		log.Warn().Str("conn_id", id).Msg("send buffer full, dropping connection")
		h.Drop(id)
	}
}

// enqueue must run under the hub lock: queues are only closed under the
// write lock, so a queue seen in conns is still open.
func enqueue(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func encode(evt domain.Event) ([]byte, bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("event", string(evt.Type)).Msg("marshal event")
		return nil, false
	}
	return data, true
}
