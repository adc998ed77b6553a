package realtime

import "sync"

// Registry tracks which rooms each connected session is subscribed to.
// Rooms exist implicitly: the first subscriber creates the entry and the
// last one leaving removes it. Rooms hold no durable state, so dropping
// an empty entry is always safe.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{}
	sessions map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the session to the room and returns the room's member
// count afterwards. Re-subscribing to a room the session already belongs
// to is a no-op.
func (r *Registry) Subscribe(sessionID, room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[sessionID] = struct{}{}

	joined, ok := r.sessions[sessionID]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[sessionID] = joined
	}
	joined[room] = struct{}{}

	return len(members)
}

// Unsubscribe removes the session from the room, garbage-collecting the
// room entry when it becomes empty.
func (r *Registry) Unsubscribe(sessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(sessionID, room)
}

// UnsubscribeAll removes the session from every room it joined and
// returns the rooms it was a member of. Used on session teardown.
func (r *Registry) UnsubscribeAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.sessions[sessionID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.unsubscribeLocked(sessionID, room)
	}
	return rooms
}

func (r *Registry) unsubscribeLocked(sessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.sessions[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// MembersOf returns the ids of the sessions currently in the room.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the number of sessions currently in the room.
func (r *Registry) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
