package engine

import "sync"

// Snapshot is an immutable copy of the world taken at a tick boundary,
// together with the per-player sequence table used for reconciliation.
type Snapshot struct {
	ID        uint64
	Timestamp int64
	World     *World
	Sequences map[uint64]uint64
}

// SnapshotStore retains a bounded, time-windowed history of snapshots ordered
// by creation. Eviction happens both by count and by age.
type SnapshotStore struct {
	mu       sync.Mutex
	entries  []Snapshot
	maxCount int
}

// NewSnapshotStore bounds the store at maxCount entries.
func NewSnapshotStore(maxCount int) *SnapshotStore {
	if maxCount <= 0 {
		maxCount = 100
	}
	return &SnapshotStore{maxCount: maxCount}
}

// Add appends a snapshot, evicting the oldest entry once the cap is exceeded.
func (s *SnapshotStore) Add(snapshot Snapshot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, snapshot)
	if len(s.entries) > s.maxCount {
		s.entries = s.entries[1:]
	}
	s.mu.Unlock()
}

// Get returns the snapshot with the given id, or false when it was never
// created or has been evicted. Lookup is linear; the store is small by design.
func (s *SnapshotStore) Get(id uint64) (Snapshot, bool) {
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return Snapshot{}, false
}

// EvictOlderThan drops every snapshot whose timestamp precedes the cutoff.
func (s *SnapshotStore) EvictOlderThan(cutoff int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	//1.- Entries are appended in timestamp order, so find the first survivor.
	keep := 0
	for keep < len(s.entries) && s.entries[keep].Timestamp < cutoff {
		keep++
	}
	if keep > 0 {
		s.entries = append([]Snapshot(nil), s.entries[keep:]...)
	}
	s.mu.Unlock()
}

// Len reports how many snapshots are currently retained.
func (s *SnapshotStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
