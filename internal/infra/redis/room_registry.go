package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/app"
)

const markerTimeout = 2 * time.Second

// clearMarkerScript deletes a room marker only while it still belongs to the
// room that is being closed, so a late clear never removes the marker of a
// room re-created under the same code.
var clearMarkerScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "marker") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoomRegistry is a Redis-aware implementation of app.RoomRegistry.
// Notes:
//   - Sessions live in a local map; a room's timers and broadcast group are
//     process-bound, so the session itself cannot move between instances.
//   - Redis holds a liveness marker per room (HSET quiz:room:{code} host ...
//     max_players ... flow ... marker ...) so operators and other instances
//     can see which codes are taken.
//   - Marker writes are best-effort; a Redis outage never blocks a room.
//   - No Redis call runs under the registry lock. Markers are cleared in the
//     background; Wait blocks until pending clears finish.
type RoomRegistry struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	rooms map[string]*room

	pending sync.WaitGroup
}

type room struct {
	session *app.Session
	marker  string
}

func NewRoomRegistry(client *redis.Client, ttl time.Duration) *RoomRegistry {
	return &RoomRegistry{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*room),
	}
}

func (r *RoomRegistry) GetOrCreate(code string, create func() *app.Session) (*app.Session, bool) {
	r.mu.Lock()
	if existing, ok := r.rooms[code]; ok {
		r.mu.Unlock()
		return existing.session, false
	}
	entry := &room{session: create(), marker: uuid.NewString()}
	r.rooms[code] = entry
	r.mu.Unlock()

	r.mark(entry)
	return entry.session, true
}

func (r *RoomRegistry) Get(code string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Delete forgets the room at once and clears its marker asynchronously.
func (r *RoomRegistry) Delete(code string) {
	r.mu.Lock()
	entry, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.clear(code, entry.marker)
	}()
}

func (r *RoomRegistry) List() []*app.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*app.Session, 0, len(r.rooms))
	for _, entry := range r.rooms {
		sessions = append(sessions, entry.session)
	}
	return sessions
}

// Wait blocks until every pending marker clear has finished.
func (r *RoomRegistry) Wait() {
	r.pending.Wait()
}

// Touch extends the marker TTL of every live room.
func (r *RoomRegistry) Touch(ctx context.Context) error {
	if r.ttl <= 0 {
		return nil
	}
	r.mu.RLock()
	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	r.mu.RUnlock()
	if len(codes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, code := range codes {
		pipe.Expire(ctx, Key(code), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RoomRegistry) mark(entry *room) {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()

	session := entry.session
	key := Key(session.Code())
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"host", session.HostID(),
		"max_players", strconv.Itoa(session.MaxPlayers()),
		"flow", string(session.Flow()),
		"marker", entry.marker,
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("room", session.Code()).Msg("set room marker")
	}
}

func (r *RoomRegistry) clear(code, marker string) {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := clearMarkerScript.Run(ctx, r.client, []string{Key(code)}, marker).Err(); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("clear room marker")
	}
}

// Key returns the Redis key holding a room's liveness marker.
func Key(code string) string {
	return "quiz:room:" + code
}
