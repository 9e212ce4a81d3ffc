package broadcast

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ride-sync/internal/rooms"
)

// ErrNoSession is returned when a unicast targets a connection this process
// does not hold.
var ErrNoSession = errors.New("no live session")

// Envelope is the frame exchanged with clients over the websocket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn is the subset of a websocket connection the hub needs.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// session wraps a connection with a write lock; gorilla/websocket allows only
// one concurrent writer.
type session struct {
	mu sync.Mutex
	c  Conn
}

func (s *session) send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.WriteJSON(Envelope{Event: event, Data: data})
}

// Hub holds the live connections served by this process and delivers events
// to them, consulting the membership registry for room fan-out.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*session
	members *rooms.Registry
	logger  *slog.Logger
}

func NewHub(members *rooms.Registry, logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[string]*session), members: members, logger: logger}
}

func (h *Hub) Register(sid string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sid] = &session{c: c}
}

func (h *Hub) Unregister(sid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, sid)
}

// Send unicasts an event to one locally-held connection.
func (h *Hub) Send(sid, event string, data any) error {
	h.mu.RLock()
	s, ok := h.conns[sid]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(event, data)
}

// Deliver fans an event out to the local members of room, excluding
// excludeSID. Delivery is at-most-once best-effort; a member that
// disconnects mid-broadcast simply misses the event.
func (h *Hub) Deliver(room, event string, data any, excludeSID string) {
	for _, sid := range h.members.Members(room) {
		if sid == excludeSID {
			continue
		}
		h.mu.RLock()
		s, ok := h.conns[sid]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.send(event, data); err != nil {
			h.logger.Warn("room delivery failed", "room", room, "event", event, "sid", sid, "error", err)
		}
	}
}
