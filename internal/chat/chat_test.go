package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
	"gridlock/gameserver/internal/roster"
)

type captureSender struct {
	global [][]byte
	rooms  map[string][][]byte
}

func newCaptureSender() *captureSender {
	return &captureSender{rooms: make(map[string][][]byte)}
}

func (c *captureSender) Broadcast(payload []byte) {
	c.global = append(c.global, append([]byte(nil), payload...))
}

func (c *captureSender) BroadcastToRoom(room string, payload []byte) {
	c.rooms[room] = append(c.rooms[room], append([]byte(nil), payload...))
}

func newTestSystem(t *testing.T, sender Sender) (*System, *roster.Store) {
	t.Helper()
	store := roster.NewStore()
	store.Add(1)
	store.SetUsername(1, "alice")
	clock := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	system := NewSystem(store, sender, 3, 10, WithClock(clock), WithLogger(logging.NewTestLogger()))
	return system, store
}

func TestHandleMessageRejectsInvalidLength(t *testing.T) {
	sender := newCaptureSender()
	system, _ := newTestSystem(t, sender)

	if err := system.HandleMessage(1, protocol.ChatSend{Message: ""}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for empty, got %v", err)
	}
	if err := system.HandleMessage(1, protocol.ChatSend{Message: strings.Repeat("x", 11)}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for oversized, got %v", err)
	}
	if len(sender.global) != 0 {
		t.Fatalf("invalid messages must not be broadcast")
	}
}

func TestHandleMessageRejectsUnknownSender(t *testing.T) {
	system, _ := newTestSystem(t, newCaptureSender())
	if err := system.HandleMessage(42, protocol.ChatSend{Message: "hi"}); !errors.Is(err, ErrUnknownSender) {
		t.Fatalf("expected ErrUnknownSender, got %v", err)
	}
}

func TestGlobalMessageBroadcastsToEveryone(t *testing.T) {
	sender := newCaptureSender()
	system, _ := newTestSystem(t, sender)

	if err := system.HandleMessage(1, protocol.ChatSend{Message: "hello"}); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(sender.global) != 1 {
		t.Fatalf("expected one global broadcast, got %d", len(sender.global))
	}

	var message protocol.ChatMessage
	if err := json.Unmarshal(sender.global[0], &message); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if message.Type != protocol.TypeChatMessage || message.Username != "alice" || message.Channel != GlobalChannel {
		t.Fatalf("unexpected message %+v", message)
	}
	if message.Timestamp == 0 {
		t.Fatalf("timestamp should be stamped by the server")
	}
}

func TestChannelMessageStaysInRoom(t *testing.T) {
	sender := newCaptureSender()
	system, _ := newTestSystem(t, sender)

	if err := system.HandleMessage(1, protocol.ChatSend{Message: "psst", Channel: "match-9"}); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(sender.global) != 0 {
		t.Fatalf("room message leaked to global broadcast")
	}
	if len(sender.rooms["match-9"]) != 1 {
		t.Fatalf("expected one room broadcast, got %d", len(sender.rooms["match-9"]))
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	sender := newCaptureSender()
	system, _ := newTestSystem(t, sender)

	for i := 0; i < 5; i++ {
		if err := system.HandleMessage(1, protocol.ChatSend{Message: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("handle message %d: %v", i, err)
		}
	}

	recent := system.RecentMessages(GlobalChannel, 10)
	if len(recent) != 3 {
		t.Fatalf("expected ring bounded at 3, got %d", len(recent))
	}
	//1.- Oldest first, and the two earliest messages were evicted.
	if recent[0].Message != "m2" || recent[2].Message != "m4" {
		t.Fatalf("unexpected ring contents %+v", recent)
	}

	tail := system.RecentMessages(GlobalChannel, 1)
	if len(tail) != 1 || tail[0].Message != "m4" {
		t.Fatalf("expected only the newest message, got %+v", tail)
	}
}

func TestRecentMessagesUnknownChannel(t *testing.T) {
	system, _ := newTestSystem(t, newCaptureSender())
	if got := system.RecentMessages("nowhere", 5); got != nil {
		t.Fatalf("expected nil for unknown channel, got %+v", got)
	}
}
