package broadcast

import (
	"sort"
	"sync"

	"github.com/bestorange88/IM/modules/registry"
)

// Hub groups registered connections into rooms. Each connection is in at
// most one room. The rooms map and every room's member set have their own
// locks, and no lock is held across a socket write: fan-out only enqueues.
type Hub struct {
	registry *registry.Registry

	mu    sync.RWMutex
	rooms map[string]*room // roomID -> room
}

type room struct {
	mu      sync.Mutex
	members map[string]*registry.Conn // identity -> conn
}

// PublishResult counts the outcome of one fan-out.
type PublishResult struct {
	Delivered int
	Dropped   int
}

// NewHub creates a new Hub backed by its own connection registry.
func NewHub() *Hub {
	return &Hub{
		registry: registry.New(),
		rooms:    make(map[string]*room),
	}
}

// Registry returns the identity registry of chat connections.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Join registers conn under identity and adds it to roomID. A previous
// connection of the same identity is superseded and closed.
func (h *Hub) Join(identity, roomID string, conn *registry.Conn) {
	h.registry.Register(identity, conn)

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]*registry.Conn)}
		h.rooms[roomID] = r
	}
	r.mu.Lock()
	r.members[identity] = conn
	r.mu.Unlock()
}

// Leave removes conn from roomID and from the registry. It is a no-op for a
// connection that was already superseded.
func (h *Hub) Leave(identity, roomID string, conn *registry.Conn) bool {
	left := h.leaveRoom(identity, roomID, conn)
	h.registry.Release(identity, conn)
	return left
}

// leaveRoom removes conn from roomID only, keeping its registration. Empty
// rooms are dropped.
func (h *Hub) leaveRoom(identity, roomID string, conn *registry.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[identity] != conn {
		return false
	}
	delete(r.members, identity)
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// Publish enqueues frame for every member of roomID except exclude. Members
// whose connection is gone are skipped. Frames published to the same room
// reach each member in publish order.
func (h *Hub) Publish(roomID, exclude string, frame []byte) PublishResult {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()

	var res PublishResult
	if !ok {
		return res
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, conn := range r.members {
		if identity == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil {
			res.Dropped++
			continue
		}
		res.Delivered++
	}
	return res
}

// Members returns the identities in roomID in sorted order.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// RoomClientCount returns the number of connections in a room.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the total number of registered chat connections.
func (h *Hub) ClientCount() int {
	return h.registry.Count()
}

// CloseAll closes every connection and forgets all rooms.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.rooms = make(map[string]*room)
	h.mu.Unlock()
	h.registry.CloseAll()
}
