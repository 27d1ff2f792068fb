// Package session tracks the lifecycle and outbound queue of every live
// client connection, and maps transport handles to stable numeric identities.
package session

import (
	"errors"
	"sync"
)

// ErrQueueFull signals that a session's outbound queue overflowed. The policy
// for a slow consumer is disconnection: dropping the one connection is cheaper
// than letting its backlog stall the tick driver or grow without bound.
var ErrQueueFull = errors.New("session outbound queue full")

// State enumerates the session lifecycle. Transport events can arrive before
// the higher-level established signal, so operations on a session that is not
// yet Established are defined as no-ops rather than errors.
type State int

const (
	// Created means the transport connection exists but the session has not
	// been announced to the rest of the server yet.
	Created State = iota
	// Established means the session is fully live and may send and receive.
	Established
	// Closed means the session has been torn down; all operations are no-ops.
	Closed
)

// Session is the server-side record of one client connection.
type Session struct {
	mu    sync.Mutex
	id    uint64
	room  string
	state State
	queue chan []byte
}

// ID returns the stable numeric identity assigned at creation.
func (s *Session) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return Closed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Establish marks the session live. Establishing a closed session is a no-op.
func (s *Session) Establish() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state == Created {
		s.state = Established
	}
	s.mu.Unlock()
}

// Room returns the session's broadcast scope, empty when unassigned.
func (s *Session) Room() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetRoom assigns or reassigns the broadcast scope.
func (s *Session) SetRoom(room string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// Enqueue appends a message to the outbound queue. Sessions that are not
// Established swallow the message silently; a full queue returns ErrQueueFull
// so the caller can apply the disconnect policy.
func (s *Session) Enqueue(payload []byte) error {
	if s == nil {
		return nil
	}
	//1.- Hold the lock across the non-blocking send so Close can never shut
	// the channel between the state check and the send.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Established {
		return nil
	}
	select {
	case s.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Outbox exposes the queue for the connection's write pump.
func (s *Session) Outbox() <-chan []byte {
	if s == nil {
		return nil
	}
	return s.queue
}

// Close transitions the session to Closed and releases the write pump. Safe
// to call more than once.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state != Closed {
		s.state = Closed
		close(s.queue)
	}
	s.mu.Unlock()
}

// Registry is the concurrency-safe bookkeeping for all live sessions. The
// registry lock guards structural changes; each session's finer-grained lock
// guards its own queue and room so one session's flush never blocks another
// session's connect or disconnect.
type Registry struct {
	mu         sync.RWMutex
	nextID     uint64
	sessions   map[uint64]*Session
	queueDepth int
}

// NewRegistry constructs a registry whose sessions carry outbound queues of
// the given depth.
func NewRegistry(queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Registry{
		nextID:     1,
		sessions:   make(map[uint64]*Session),
		queueDepth: queueDepth,
	}
}

// Create allocates a monotonically increasing identity and registers a new
// session in the Created state. Identities are never reused within a process
// run.
func (r *Registry) Create() *Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	created := &Session{
		id:    id,
		state: Created,
		queue: make(chan []byte, r.queueDepth),
	}
	r.sessions[id] = created
	r.mu.Unlock()
	return created
}

// Get looks up a session by identity.
func (r *Registry) Get(id uint64) (*Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.sessions[id]
	return found, ok
}

// Remove deletes the session from the registry and returns it so the caller
// can close it. Removing an unknown identity is a no-op.
func (r *Registry) Remove(id uint64) (*Session, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	removed, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	return removed, ok
}

// Count reports the number of registered sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot copies the session set so fan-out can run without holding the
// registry lock; enqueueing while iterating would otherwise be re-entrant.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, current := range r.sessions {
		sessions = append(sessions, current)
	}
	return sessions
}

// Send enqueues a message for one identity. Unknown identities are a silent
// miss: the peer is already gone and that is not an error.
func (r *Registry) Send(id uint64, payload []byte) error {
	if r == nil {
		return nil
	}
	target, ok := r.Get(id)
	if !ok {
		return nil
	}
	return target.Enqueue(payload)
}

// Broadcast enqueues the message on every established session and returns the
// identities whose queues overflowed so the caller can disconnect them.
func (r *Registry) Broadcast(payload []byte) []uint64 {
	if r == nil {
		return nil
	}
	var overflowed []uint64
	for _, target := range r.snapshot() {
		if err := target.Enqueue(payload); errors.Is(err, ErrQueueFull) {
			overflowed = append(overflowed, target.ID())
		}
	}
	return overflowed
}

// BroadcastToRoom enqueues the message only on sessions assigned to the room.
func (r *Registry) BroadcastToRoom(room string, payload []byte) []uint64 {
	if r == nil || room == "" {
		return nil
	}
	var overflowed []uint64
	for _, target := range r.snapshot() {
		if target.Room() != room {
			continue
		}
		if err := target.Enqueue(payload); errors.Is(err, ErrQueueFull) {
			overflowed = append(overflowed, target.ID())
		}
	}
	return overflowed
}

// SetRoom assigns the room for an identity; unknown identities are a no-op.
func (r *Registry) SetRoom(id uint64, room string) {
	if r == nil {
		return
	}
	if target, ok := r.Get(id); ok {
		target.SetRoom(room)
	}
}
