package engine

import "testing"

func TestSnapshotStoreCapEvictsOldest(t *testing.T) {
	store := NewSnapshotStore(3)
	for i := uint64(1); i <= 5; i++ {
		store.Add(Snapshot{ID: i, Timestamp: int64(i * 100), World: NewWorld()})
	}
	if store.Len() != 3 {
		t.Fatalf("expected cap of 3, got %d", store.Len())
	}
	if _, ok := store.Get(1); ok {
		t.Fatalf("snapshot 1 should have been evicted")
	}
	if _, ok := store.Get(5); !ok {
		t.Fatalf("newest snapshot should be retained")
	}
}

func TestSnapshotStoreEvictOlderThan(t *testing.T) {
	store := NewSnapshotStore(10)
	for i := uint64(1); i <= 4; i++ {
		store.Add(Snapshot{ID: i, Timestamp: int64(i * 1000), World: NewWorld()})
	}
	store.EvictOlderThan(2500)
	if store.Len() != 2 {
		t.Fatalf("expected 2 survivors, got %d", store.Len())
	}
	if _, ok := store.Get(2); ok {
		t.Fatalf("snapshot 2 precedes cutoff and should be gone")
	}
	if _, ok := store.Get(3); !ok {
		t.Fatalf("snapshot 3 should survive the cutoff")
	}
}

func TestWorldCloneIsDeep(t *testing.T) {
	world := NewWorld()
	world.Players[7] = PlayerState{X: 2, Y: 3}
	world.Entities = append(world.Entities, Entity{ID: 42, Type: "projectile", Owner: 7})

	clone := world.Clone()
	clone.Players[7] = PlayerState{X: 0, Y: 0}
	clone.Entities[0].Owner = 9

	if world.Players[7] != (PlayerState{X: 2, Y: 3}) {
		t.Fatalf("clone mutation leaked into the original player table")
	}
	if world.Entities[0].Owner != 7 {
		t.Fatalf("clone mutation leaked into the original entities")
	}
}

func TestWorldWireMapsEntities(t *testing.T) {
	world := NewWorld()
	world.Players[1] = PlayerState{X: 4, Y: 5}
	world.Entities = append(world.Entities, Entity{ID: 1007, Type: "projectile", Owner: 1})

	state := world.Wire()
	if cell := state.Players[1]; cell.X != 4 || cell.Y != 5 {
		t.Fatalf("unexpected wire cell %+v", cell)
	}
	if len(state.Entities) != 1 || state.Entities[0].OwnerID != 1 {
		t.Fatalf("unexpected wire entities %+v", state.Entities)
	}
}
