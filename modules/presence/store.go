// Package presence tracks who is connected, where and how recently, from the
// lifecycle events of the realtime modules.
package presence

import (
	"sync"
	"time"
)

// Presence is what is known about one user.
type Presence struct {
	UserID     string    `json:"user_id"`
	Online     bool      `json:"online"`
	RoomID     string    `json:"room_id,omitempty"`
	Callable   bool      `json:"callable"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
	LastActive time.Time `json:"last_active,omitempty"`
}

type record struct {
	roomID     string
	callable   bool
	lastSeen   time.Time
	lastActive time.Time
}

func (r *record) online() bool {
	return r.roomID != "" || r.callable
}

// Store is a thread-safe in-memory presence table.
type Store struct {
	mu    sync.RWMutex
	users map[string]*record
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{users: make(map[string]*record)}
}

func (s *Store) get(userID string) *record {
	r, ok := s.users[userID]
	if !ok {
		r = &record{}
		s.users[userID] = r
	}
	return r
}

func (s *Store) seen(r *record, at time.Time) {
	if at.After(r.lastSeen) {
		r.lastSeen = at
	}
}

// Joined records that userID joined roomID.
func (s *Store) Joined(userID, roomID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID)
	r.roomID = roomID
	s.seen(r, at)
}

// Left records that userID left roomID. A leave for a room the user already
// moved away from only refreshes last seen.
func (s *Store) Left(userID, roomID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID)
	if r.roomID == roomID {
		r.roomID = ""
	}
	s.seen(r, at)
}

// PeerOnline records that userID can receive calls.
func (s *Store) PeerOnline(userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID)
	r.callable = true
	s.seen(r, at)
}

// PeerOffline records that userID can no longer receive calls.
func (s *Store) PeerOffline(userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID)
	r.callable = false
	s.seen(r, at)
}

// MessageSent records chat activity.
func (s *Store) MessageSent(userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID)
	if at.After(r.lastActive) {
		r.lastActive = at
	}
	s.seen(r, at)
}

// Get returns the presence of userID. Unknown users are reported offline.
func (s *Store) Get(userID string) Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Presence{UserID: userID}
	r, ok := s.users[userID]
	if !ok {
		return p
	}
	p.Online = r.online()
	p.RoomID = r.roomID
	p.Callable = r.callable
	p.LastSeen = r.lastSeen
	p.LastActive = r.lastActive
	return p
}

// Has reports whether any event about userID was recorded.
func (s *Store) Has(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// OnlineCount returns the number of users currently online.
func (s *Store) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.users {
		if r.online() {
			n++
		}
	}
	return n
}
