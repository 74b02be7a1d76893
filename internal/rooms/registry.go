// Package rooms keeps the bidirectional room membership index shared by all
// WebSocket connections of the process.
package rooms

import (
	"maps"
	"slices"
	"sync"
)

// Registry maps rooms to member connection ids and connection ids to rooms.
// For every pair, conn is in members(room) exactly when room is in rooms(conn).
// Empty sets are removed so no empty room or connection entry persists.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]struct{}
	connRooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds conn to room. Joining twice is a no-op. It reports whether
// membership changed.
func (r *Registry) Join(room, conn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room][conn]; ok {
		return false
	}
	add(r.rooms, room, conn)
	add(r.connRooms, conn, room)
	return true
}

// Leave removes conn from room. Leaving a room conn is not in is a no-op.
// It reports whether membership changed.
func (r *Registry) Leave(room, conn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room][conn]; !ok {
		return false
	}
	remove(r.rooms, room, conn)
	remove(r.connRooms, conn, room)
	return true
}

// LeaveAll removes conn from every room and returns the rooms it left.
func (r *Registry) LeaveAll(conn string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.connRooms[conn]
	left := slices.Sorted(maps.Keys(joined))
	for _, room := range left {
		remove(r.rooms, room, conn)
	}
	delete(r.connRooms, conn)
	return left
}

// Members returns a snapshot of the connections in room.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.rooms[room]))
}

// RoomsOf returns a snapshot of the rooms conn has joined.
func (r *Registry) RoomsOf(conn string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.connRooms[conn]))
}

// Has reports whether conn is a member of room.
func (r *Registry) Has(room, conn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn]
	return ok
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func add(index map[string]map[string]struct{}, key, member string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[member] = struct{}{}
}

func remove(index map[string]map[string]struct{}, key, member string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(index, key)
	}
}
