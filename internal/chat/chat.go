// Package chat publishes player text messages to channel audiences and keeps
// a bounded recent-history ring per channel.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
	"gridlock/gameserver/internal/roster"
)

// GlobalChannel is the default channel reaching every connected session.
const GlobalChannel = "global"

var (
	// ErrInvalidMessage rejects empty messages and messages over the length cap.
	ErrInvalidMessage = errors.New("chat message empty or too long")
	// ErrUnknownSender rejects messages from identities missing in the roster.
	ErrUnknownSender = errors.New("chat sender not registered")
)

// Sender abstracts the connection server's fan-out primitives.
type Sender interface {
	Broadcast(payload []byte)
	BroadcastToRoom(room string, payload []byte)
}

// Directory resolves a sender's display name.
type Directory interface {
	Get(id uint64) (roster.Player, bool)
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

// WithLogger overrides the system's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.log = logger
		}
	}
}

// System validates, retains, and fans out chat messages.
type System struct {
	mu           sync.Mutex
	history      map[string][]protocol.ChatMessage
	historyLimit int
	maxLength    int
	directory    Directory
	sender       Sender
	now          func() time.Time
	log          *logging.Logger
}

// NewSystem constructs a chat system. historyLimit bounds the per-channel
// ring; maxLength bounds accepted message size in bytes.
func NewSystem(directory Directory, sender Sender, historyLimit, maxLength int, opts ...Option) *System {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if maxLength <= 0 {
		maxLength = 500
	}
	system := &System{
		history:      make(map[string][]protocol.ChatMessage),
		historyLimit: historyLimit,
		maxLength:    maxLength,
		directory:    directory,
		sender:       sender,
		now:          time.Now,
		log:          logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(system)
		}
	}
	return system
}

// HandleMessage validates and publishes one inbound chat submission.
func (s *System) HandleMessage(playerID uint64, submission protocol.ChatSend) error {
	if s == nil {
		return errors.New("chat system is nil")
	}
	channel := strings.TrimSpace(submission.Channel)
	if channel == "" {
		channel = GlobalChannel
	}
	if len(submission.Message) == 0 || len(submission.Message) > s.maxLength {
		return ErrInvalidMessage
	}
	player, ok := s.directory.Get(playerID)
	if !ok {
		return ErrUnknownSender
	}

	message := protocol.ChatMessage{
		Type:      protocol.TypeChatMessage,
		PlayerID:  playerID,
		Username:  player.Username,
		Message:   submission.Message,
		Timestamp: s.now().UnixMilli(),
		Channel:   channel,
	}

	//1.- Retain the message in the channel ring before fanning it out.
	s.mu.Lock()
	ring := append(s.history[channel], message)
	if len(ring) > s.historyLimit {
		ring = ring[len(ring)-s.historyLimit:]
	}
	s.history[channel] = ring
	s.mu.Unlock()

	s.broadcast(message)
	return nil
}

func (s *System) broadcast(message protocol.ChatMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Error("failed to encode chat message", logging.Error(err))
		return
	}
	if s.sender == nil {
		return
	}
	//1.- Global chat reaches everyone; any other channel is room-scoped.
	if message.Channel == GlobalChannel {
		s.sender.Broadcast(payload)
	} else {
		s.sender.BroadcastToRoom(message.Channel, payload)
	}
}

// RecentMessages returns up to count messages from the channel's ring, oldest
// first.
func (s *System) RecentMessages(channel string, count int) []protocol.ChatMessage {
	if s == nil || count <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.history[channel]
	if len(ring) == 0 {
		return nil
	}
	start := len(ring) - count
	if start < 0 {
		start = 0
	}
	return append([]protocol.ChatMessage(nil), ring[start:]...)
}
