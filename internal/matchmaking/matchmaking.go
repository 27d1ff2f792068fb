// Package matchmaking queues players per game mode and forms matches during
// the tick cycle, so match creation never races with connection handling.
package matchmaking

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
)

const (
	defaultMinPlayers = 2
	defaultMaxPlayers = 4
)

// Notifier delivers match notifications and assigns broadcast rooms.
type Notifier interface {
	Send(id uint64, payload []byte)
	SetRoom(id uint64, room string)
}

// Directory records match membership on the player roster.
type Directory interface {
	Exists(id uint64) bool
	SetInMatch(id uint64, inMatch bool, matchID string)
}

// Request is one player's pending matchmaking entry.
type Request struct {
	PlayerID   uint64
	GameMode   string
	MinPlayers int
	MaxPlayers int
	QueuedAt   time.Time
}

// Match is a formed group of players sharing a broadcast room.
type Match struct {
	ID        string
	GameMode  string
	Players   []uint64
	Room      string
	CreatedAt time.Time
	Active    bool
}

// Option customises system construction.
type Option func(*System)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *System) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithIDGenerator overrides match identifier generation, primarily for tests.
func WithIDGenerator(generate func() string) Option {
	return func(s *System) {
		if generate != nil {
			s.newID = generate
		}
	}
}

// WithLogger overrides the system's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.log = logger
		}
	}
}

// System owns the matchmaking queue and the table of formed matches.
type System struct {
	mu          sync.Mutex
	queue       []Request
	matches     map[string]*Match
	playerMatch map[uint64]string
	directory   Directory
	notifier    Notifier
	now         func() time.Time
	newID       func() string
	log         *logging.Logger
}

// NewSystem constructs a matchmaking system.
func NewSystem(directory Directory, notifier Notifier, opts ...Option) *System {
	system := &System{
		matches:     make(map[string]*Match),
		playerMatch: make(map[uint64]string),
		directory:   directory,
		notifier:    notifier,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(system)
		}
	}
	return system
}

// QueuePlayer enqueues a matchmaking request. Players already queued or in an
// active match are ignored; party bounds outside sane limits fall back to the
// defaults.
func (s *System) QueuePlayer(playerID uint64, request protocol.MatchRequest) {
	if s == nil {
		return
	}
	if s.directory != nil && !s.directory.Exists(playerID) {
		return
	}
	mode := request.GameMode
	if mode == "" {
		mode = "default"
	}
	min := request.MinPlayers
	if min < 2 {
		min = defaultMinPlayers
	}
	max := request.MaxPlayers
	if max < min {
		max = defaultMaxPlayers
	}
	if max < min {
		max = min
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inMatch := s.playerMatch[playerID]; inMatch {
		return
	}
	for _, queued := range s.queue {
		if queued.PlayerID == playerID {
			return
		}
	}
	s.queue = append(s.queue, Request{
		PlayerID:   playerID,
		GameMode:   mode,
		MinPlayers: min,
		MaxPlayers: max,
		QueuedAt:   s.now(),
	})
}

// Cancel removes the player's pending request. Cancelling a player who is not
// queued is a no-op.
func (s *System) Cancel(playerID uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromQueueLocked(playerID)
}

func (s *System) removeFromQueueLocked(playerID uint64) {
	for i, queued := range s.queue {
		if queued.PlayerID == playerID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// RemovePlayer clears all matchmaking state for a departing player: the
// pending request if any, and membership in an active match.
func (s *System) RemovePlayer(playerID uint64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.removeFromQueueLocked(playerID)
	matchID, inMatch := s.playerMatch[playerID]
	if inMatch {
		delete(s.playerMatch, playerID)
		if match, ok := s.matches[matchID]; ok {
			for i, member := range match.Players {
				if member == playerID {
					match.Players = append(match.Players[:i], match.Players[i+1:]...)
					break
				}
			}
		}
	}
	s.mu.Unlock()
	if inMatch && s.directory != nil {
		s.directory.SetInMatch(playerID, false, "")
	}
}

// Process scans the queue once and forms every match it can. Called from the
// tick driver so formation is single-threaded.
func (s *System) Process() {
	if s == nil {
		return
	}
	var formed []*Match
	s.mu.Lock()
	for {
		match := s.tryFormLocked()
		if match == nil {
			break
		}
		formed = append(formed, match)
	}
	s.mu.Unlock()
	for _, match := range formed {
		s.announce(match)
	}
}

// tryFormLocked walks the queue in FIFO order and forms a match around the
// oldest request whose mode has enough compatible players.
func (s *System) tryFormLocked() *Match {
	for _, anchor := range s.queue {
		//1.- Collect everyone queued for the anchor's mode, FIFO order preserved.
		var party []Request
		for _, candidate := range s.queue {
			if candidate.GameMode == anchor.GameMode {
				party = append(party, candidate)
			}
		}
		if len(party) < anchor.MinPlayers {
			continue
		}
		if len(party) > anchor.MaxPlayers {
			party = party[:anchor.MaxPlayers]
		}

		id := s.newID()
		match := &Match{
			ID:        id,
			GameMode:  anchor.GameMode,
			Room:      "match-" + id,
			CreatedAt: s.now(),
			Active:    true,
		}
		for _, member := range party {
			match.Players = append(match.Players, member.PlayerID)
			s.removeFromQueueLocked(member.PlayerID)
			s.playerMatch[member.PlayerID] = id
		}
		s.matches[id] = match
		return match
	}
	return nil
}

func (s *System) announce(match *Match) {
	payload, err := json.Marshal(protocol.MatchFound{
		Type:     protocol.TypeMatchFound,
		MatchID:  match.ID,
		GameMode: match.GameMode,
		Players:  match.Players,
	})
	if err != nil {
		s.log.Error("failed to encode match notification", logging.Error(err))
		return
	}
	s.log.Info("match formed",
		logging.String("match_id", match.ID),
		logging.String("game_mode", match.GameMode),
		logging.Int("players", len(match.Players)))
	for _, member := range match.Players {
		if s.directory != nil {
			s.directory.SetInMatch(member, true, match.ID)
		}
		if s.notifier != nil {
			s.notifier.SetRoom(member, match.Room)
			s.notifier.Send(member, payload)
		}
	}
}

// EndMatch deactivates a match and releases its members back to the lobby.
func (s *System) EndMatch(matchID string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	match, ok := s.matches[matchID]
	if !ok || !match.Active {
		s.mu.Unlock()
		return false
	}
	match.Active = false
	members := append([]uint64(nil), match.Players...)
	for _, member := range members {
		delete(s.playerMatch, member)
	}
	s.mu.Unlock()

	for _, member := range members {
		if s.directory != nil {
			s.directory.SetInMatch(member, false, "")
		}
		if s.notifier != nil {
			s.notifier.SetRoom(member, "")
		}
	}
	return true
}

// GetMatch returns a copy of the match record.
func (s *System) GetMatch(matchID string) (Match, bool) {
	if s == nil {
		return Match{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[matchID]
	if !ok {
		return Match{}, false
	}
	copied := *match
	copied.Players = append([]uint64(nil), match.Players...)
	return copied, true
}

// PlayerMatch returns the identifier of the player's active match.
func (s *System) PlayerMatch(playerID uint64) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	matchID, ok := s.playerMatch[playerID]
	return matchID, ok
}

// QueueLen reports the number of pending requests.
func (s *System) QueueLen() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
