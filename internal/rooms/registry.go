package rooms

import "sync"

// Session records which rider a live connection joined a room as. It exists
// so abrupt disconnects can be cleaned up without an explicit leave.
type Session struct {
	UserName string
	RideCode string
}

// Registry tracks which live connections are subscribed to which ride code.
// Membership here is independent of durable ride membership and is never
// validated against the rider store.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{}
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		sessions: make(map[string]Session),
	}
}

// Join subscribes session sid to rideCode and records who it joined as.
func (r *Registry) Join(rideCode, sid, userName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[rideCode]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[rideCode] = room
	}
	room[sid] = struct{}{}
	r.sessions[sid] = Session{UserName: userName, RideCode: rideCode}
}

// Leave removes sid from rideCode. Safe to call when sid is not a member.
func (r *Registry) Leave(rideCode, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(rideCode, sid)
}

// Drop removes sid from whatever room it joined and returns the recorded
// session, if any. Used for cleanup on abrupt disconnect.
func (r *Registry) Drop(sid string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if ok {
		r.removeLocked(s.RideCode, sid)
	}
	return s, ok
}

// Members returns a snapshot of the sessions currently in rideCode.
func (r *Registry) Members(rideCode string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[rideCode]
	out := make([]string, 0, len(room))
	for sid := range room {
		out = append(out, sid)
	}
	return out
}

// Session returns the rider identity sid joined as.
func (r *Registry) Session(sid string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Registry) removeLocked(rideCode, sid string) {
	if room, ok := r.rooms[rideCode]; ok {
		delete(room, sid)
		if len(room) == 0 {
			delete(r.rooms, rideCode)
		}
	}
	// A leave naming a room the session never joined must not erase the
	// record of the room it did join.
	if s, ok := r.sessions[sid]; ok && s.RideCode == rideCode {
		delete(r.sessions, sid)
	}
}
