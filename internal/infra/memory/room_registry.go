package memory

import (
	"sync"

	"quiz-room-service/internal/app"
)

// RoomRegistry is an in-memory implementation of app.RoomRegistry.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*app.Session
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*app.Session),
	}
}

func (r *RoomRegistry) GetOrCreate(code string, create func() *app.Session) (*app.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.rooms[code]; ok {
		return session, false
	}
	session := create()
	r.rooms[code] = session
	return session, true
}

func (r *RoomRegistry) Get(code string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.rooms[code]
	return session, ok
}

func (r *RoomRegistry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
}

func (r *RoomRegistry) List() []*app.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*app.Session, 0, len(r.rooms))
	for _, session := range r.rooms {
		sessions = append(sessions, session)
	}
	return sessions
}
