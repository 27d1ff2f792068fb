// Package roster is the authoritative directory of connected players. Lookups
// are served from memory; an optional sqlite index mirrors lifecycle events
// for operators without ever blocking the connection or tick paths.
package roster

import (
	"fmt"
	"sync"
	"time"
)

// Player is the roster's record for one connected client.
type Player struct {
	ID          uint64
	Username    string
	InMatch     bool
	MatchID     string
	LastPingMs  int64
	LatencyMs   float64
	ConnectedAt time.Time
}

// Option customises store construction.
type Option func(*Store)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithIndex mirrors roster lifecycle events into the durable index.
func WithIndex(index *SQLiteIndex) Option {
	return func(s *Store) {
		s.index = index
	}
}

// Store holds the in-memory player table.
type Store struct {
	mu      sync.RWMutex
	players map[uint64]*Player
	index   *SQLiteIndex
	now     func() time.Time
}

// NewStore constructs an empty roster.
func NewStore(opts ...Option) *Store {
	store := &Store{
		players: make(map[uint64]*Player),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Add registers a player under the supplied identity. Adding an existing
// identity refreshes the connection time but keeps the record.
func (s *Store) Add(id uint64) {
	if s == nil {
		return
	}
	at := s.now()
	s.mu.Lock()
	if existing, ok := s.players[id]; ok {
		existing.ConnectedAt = at
	} else {
		s.players[id] = &Player{
			ID:          id,
			Username:    fmt.Sprintf("player-%d", id),
			ConnectedAt: at,
		}
	}
	s.mu.Unlock()
	s.index.RecordEvent(id, "connect", "", at)
}

// Remove deletes the player's record. Removing an unknown identity is a no-op.
func (s *Store) Remove(id uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.players[id]
	if ok {
		delete(s.players, id)
	}
	s.mu.Unlock()
	if ok {
		s.index.RecordEvent(id, "disconnect", "", s.now())
	}
}

// Exists reports whether the identity is currently registered.
func (s *Store) Exists(id uint64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.players[id]
	return ok
}

// Get returns a copy of the player's record.
func (s *Store) Get(id uint64) (Player, bool) {
	if s == nil {
		return Player{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	return *player, true
}

// SetUsername updates the display name used by chat.
func (s *Store) SetUsername(id uint64, username string) {
	if s == nil || username == "" {
		return
	}
	s.mu.Lock()
	player, ok := s.players[id]
	if ok {
		player.Username = username
	}
	s.mu.Unlock()
	if ok {
		s.index.RecordEvent(id, "username", username, s.now())
	}
}

// SetInMatch records match membership.
func (s *Store) SetInMatch(id uint64, inMatch bool, matchID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if player, ok := s.players[id]; ok {
		player.InMatch = inMatch
		player.MatchID = matchID
	}
	s.mu.Unlock()
}

// UpdatePing stores the timestamp of the player's latest ping.
func (s *Store) UpdatePing(id uint64, timestampMs int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if player, ok := s.players[id]; ok {
		player.LastPingMs = timestampMs
	}
	s.mu.Unlock()
}

// UpdateLatency stores the most recent round-trip measurement in ms.
func (s *Store) UpdateLatency(id uint64, latencyMs float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if player, ok := s.players[id]; ok {
		player.LatencyMs = latencyMs
	}
	s.mu.Unlock()
}

// Count reports the number of registered players.
func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// AllIDs returns the registered identities in unspecified order.
func (s *Store) AllIDs() []uint64 {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	return ids
}
