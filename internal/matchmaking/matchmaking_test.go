package matchmaking

import (
	"encoding/json"
	"testing"
	"time"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
	"gridlock/gameserver/internal/roster"
)

type captureNotifier struct {
	sent  map[uint64][][]byte
	rooms map[uint64]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{sent: make(map[uint64][][]byte), rooms: make(map[uint64]string)}
}

func (c *captureNotifier) Send(id uint64, payload []byte) {
	c.sent[id] = append(c.sent[id], append([]byte(nil), payload...))
}

func (c *captureNotifier) SetRoom(id uint64, room string) {
	c.rooms[id] = room
}

func newTestSystem(t *testing.T, players ...uint64) (*System, *roster.Store, *captureNotifier) {
	t.Helper()
	store := roster.NewStore()
	for _, id := range players {
		store.Add(id)
	}
	notifier := newCaptureNotifier()
	clock := func() time.Time { return time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) }
	system := NewSystem(store, notifier,
		WithClock(clock),
		WithIDGenerator(func() string { return "m1" }),
		WithLogger(logging.NewTestLogger()))
	return system, store, notifier
}

func TestProcessFormsMatchWhenQuorumReached(t *testing.T) {
	system, store, notifier := newTestSystem(t, 1, 2)

	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2, MaxPlayers: 4})
	system.Process()
	if _, ok := system.PlayerMatch(1); ok {
		t.Fatalf("match formed below the minimum party size")
	}

	system.QueuePlayer(2, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2, MaxPlayers: 4})
	system.Process()

	match, ok := system.GetMatch("m1")
	if !ok || !match.Active {
		t.Fatalf("expected active match m1, got %+v (ok=%v)", match, ok)
	}
	if len(match.Players) != 2 {
		t.Fatalf("expected 2 players, got %v", match.Players)
	}
	if system.QueueLen() != 0 {
		t.Fatalf("queue should be drained, got %d", system.QueueLen())
	}

	//1.- Both members are notified, roomed, and flagged on the roster.
	for _, id := range []uint64{1, 2} {
		if notifier.rooms[id] != "match-m1" {
			t.Fatalf("player %d room = %q, want match-m1", id, notifier.rooms[id])
		}
		payloads := notifier.sent[id]
		if len(payloads) != 1 {
			t.Fatalf("player %d got %d notifications", id, len(payloads))
		}
		var found protocol.MatchFound
		if err := json.Unmarshal(payloads[0], &found); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		if found.Type != protocol.TypeMatchFound || found.MatchID != "m1" || found.GameMode != "dm" {
			t.Fatalf("unexpected notification %+v", found)
		}
		player, _ := store.Get(id)
		if !player.InMatch || player.MatchID != "m1" {
			t.Fatalf("roster not updated for player %d: %+v", id, player)
		}
	}
}

func TestProcessCapsPartyAtMaxPlayers(t *testing.T) {
	system, _, _ := newTestSystem(t, 1, 2, 3)

	for _, id := range []uint64{1, 2, 3} {
		system.QueuePlayer(id, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2, MaxPlayers: 2})
	}
	system.Process()

	match, ok := system.GetMatch("m1")
	if !ok {
		t.Fatalf("expected a match")
	}
	//1.- FIFO: the two oldest requests make the cut; the third stays queued.
	if len(match.Players) != 2 || match.Players[0] != 1 || match.Players[1] != 2 {
		t.Fatalf("unexpected party %v", match.Players)
	}
	if system.QueueLen() != 1 {
		t.Fatalf("expected one leftover request, got %d", system.QueueLen())
	}
}

func TestModesDoNotMix(t *testing.T) {
	system, _, _ := newTestSystem(t, 1, 2)
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2})
	system.QueuePlayer(2, protocol.MatchRequest{GameMode: "ctf", MinPlayers: 2})
	system.Process()
	if system.QueueLen() != 2 {
		t.Fatalf("players in different modes must not be matched, queue=%d", system.QueueLen())
	}
}

func TestQueuePlayerIgnoresDuplicatesAndUnknowns(t *testing.T) {
	system, _, _ := newTestSystem(t, 1)
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm"})
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm"})
	if system.QueueLen() != 1 {
		t.Fatalf("duplicate request enqueued, queue=%d", system.QueueLen())
	}
	system.QueuePlayer(99, protocol.MatchRequest{GameMode: "dm"})
	if system.QueueLen() != 1 {
		t.Fatalf("unknown identity enqueued, queue=%d", system.QueueLen())
	}
}

func TestCancelRemovesPendingRequest(t *testing.T) {
	system, _, _ := newTestSystem(t, 1)
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm"})
	system.Cancel(1)
	if system.QueueLen() != 0 {
		t.Fatalf("cancel left request in queue")
	}
	// Cancelling again is a no-op.
	system.Cancel(1)
}

func TestRemovePlayerClearsMatchMembership(t *testing.T) {
	system, store, _ := newTestSystem(t, 1, 2)
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2})
	system.QueuePlayer(2, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2})
	system.Process()

	system.RemovePlayer(1)
	if _, ok := system.PlayerMatch(1); ok {
		t.Fatalf("removed player still mapped to a match")
	}
	match, _ := system.GetMatch("m1")
	if len(match.Players) != 1 || match.Players[0] != 2 {
		t.Fatalf("match roster not updated: %v", match.Players)
	}
	player, _ := store.Get(1)
	if player.InMatch {
		t.Fatalf("roster still flags removed player as in-match")
	}
}

func TestEndMatchReleasesMembers(t *testing.T) {
	system, store, notifier := newTestSystem(t, 1, 2)
	system.QueuePlayer(1, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2})
	system.QueuePlayer(2, protocol.MatchRequest{GameMode: "dm", MinPlayers: 2})
	system.Process()

	if !system.EndMatch("m1") {
		t.Fatalf("end match failed")
	}
	if system.EndMatch("m1") {
		t.Fatalf("ending twice should fail")
	}
	for _, id := range []uint64{1, 2} {
		if _, ok := system.PlayerMatch(id); ok {
			t.Fatalf("player %d still mapped after end", id)
		}
		if notifier.rooms[id] != "" {
			t.Fatalf("player %d still roomed after end", id)
		}
		player, _ := store.Get(id)
		if player.InMatch {
			t.Fatalf("roster still flags player %d as in-match", id)
		}
	}
}
