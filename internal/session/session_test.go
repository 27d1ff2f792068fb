package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestRegistryAssignsMonotonicIDs(t *testing.T) {
	registry := NewRegistry(4)
	first := registry.Create()
	second := registry.Create()
	if first.ID() != 1 || second.ID() != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first.ID(), second.ID())
	}

	//1.- Removing a session must not recycle its identity.
	registry.Remove(first.ID())
	third := registry.Create()
	if third.ID() != 3 {
		t.Fatalf("expected id 3 after removal, got %d", third.ID())
	}
}

func TestEnqueueBeforeEstablishIsSwallowed(t *testing.T) {
	registry := NewRegistry(4)
	sess := registry.Create()

	if err := sess.Enqueue([]byte("early")); err != nil {
		t.Fatalf("enqueue on created session should be a silent no-op, got %v", err)
	}
	sess.Establish()
	if err := sess.Enqueue([]byte("hello")); err != nil {
		t.Fatalf("enqueue on established session: %v", err)
	}
	select {
	case payload := <-sess.Outbox():
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload %q", payload)
		}
	default:
		t.Fatalf("expected one queued message")
	}
}

func TestEnqueueOverflowReturnsErrQueueFull(t *testing.T) {
	registry := NewRegistry(2)
	sess := registry.Create()
	sess.Establish()

	if err := sess.Enqueue([]byte("a")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := sess.Enqueue([]byte("b")); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := sess.Enqueue([]byte("c")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	registry := NewRegistry(2)
	sess := registry.Create()
	sess.Establish()
	sess.Close()
	sess.Close()
	if sess.State() != Closed {
		t.Fatalf("expected Closed state")
	}
	if err := sess.Enqueue([]byte("late")); err != nil {
		t.Fatalf("enqueue after close should be a no-op, got %v", err)
	}
	//1.- Establishing a closed session must not resurrect it.
	sess.Establish()
	if sess.State() != Closed {
		t.Fatalf("closed session was resurrected")
	}
}

func TestBroadcastReportsOverflowedSessions(t *testing.T) {
	registry := NewRegistry(1)
	healthy := registry.Create()
	healthy.Establish()
	slow := registry.Create()
	slow.Establish()

	//1.- Fill the slow session's queue so the next broadcast overflows it.
	if err := slow.Enqueue([]byte("backlog")); err != nil {
		t.Fatalf("prefill slow session: %v", err)
	}

	overflowed := registry.Broadcast([]byte("tick"))
	if len(overflowed) != 1 || overflowed[0] != slow.ID() {
		t.Fatalf("expected only the slow session to overflow, got %v", overflowed)
	}
}

func TestBroadcastToRoomScopesDelivery(t *testing.T) {
	registry := NewRegistry(4)
	inRoom := registry.Create()
	inRoom.Establish()
	outside := registry.Create()
	outside.Establish()
	registry.SetRoom(inRoom.ID(), "match-1")

	registry.BroadcastToRoom("match-1", []byte("scoped"))

	select {
	case <-inRoom.Outbox():
	default:
		t.Fatalf("room member should have received the message")
	}
	select {
	case <-outside.Outbox():
		t.Fatalf("session outside the room received a scoped message")
	default:
	}
}

func TestSendToUnknownIdentityIsSilent(t *testing.T) {
	registry := NewRegistry(2)
	if err := registry.Send(999, []byte("gone")); err != nil {
		t.Fatalf("send to unknown identity should be silent, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry := NewRegistry(2)
	sess := registry.Create()
	if _, ok := registry.Remove(sess.ID()); !ok {
		t.Fatalf("first removal should succeed")
	}
	if _, ok := registry.Remove(sess.ID()); ok {
		t.Fatalf("second removal should be a no-op")
	}
	if registry.Count() != 0 {
		t.Fatalf("registry should be empty, got %d", registry.Count())
	}
}

func TestConcurrentBroadcastAndDisconnect(t *testing.T) {
	registry := NewRegistry(64)
	for i := 0; i < 16; i++ {
		registry.Create().Establish()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			registry.Broadcast([]byte(fmt.Sprintf("frame-%d", i)))
		}
	}()
	for id := uint64(1); id <= 16; id++ {
		if removed, ok := registry.Remove(id); ok {
			removed.Close()
		}
	}
	<-done
}
