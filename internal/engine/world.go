package engine

import (
	"encoding/json"

	"gridlock/gameserver/internal/protocol"
)

// Action is a client-submitted intent after decoding and attribution. The
// acting player comes from the connection layer, never from the payload.
type Action struct {
	PlayerID  uint64
	ActionID  uint64
	Timestamp uint64
	Type      string
	Data      json.RawMessage
	Sequence  uint64
}

// Well-known action types.
const (
	ActionSpawn = "spawn"
	ActionMove  = "move"
	ActionShoot = "shoot"
)

// PlayerState is one player's authoritative position on the grid.
type PlayerState struct {
	X int
	Y int
}

// Entity is a non-player world object. Projectiles use the stable id scheme
// tick*1000 + actionId so replays and reconciliation agree on identity.
type Entity struct {
	ID    uint64
	Type  string
	Owner uint64
}

// World is the single live aggregate mutated only by the tick driver. Every
// key in Players corresponds to a player that spawned and has not been removed.
type World struct {
	Players  map[uint64]PlayerState
	Entities []Entity
}

// NewWorld constructs an empty world.
func NewWorld() *World {
	return &World{Players: make(map[uint64]PlayerState)}
}

// Clone produces a deep copy suitable for snapshot retention.
func (w *World) Clone() *World {
	if w == nil {
		return NewWorld()
	}
	clone := &World{Players: make(map[uint64]PlayerState, len(w.Players))}
	for id, player := range w.Players {
		clone.Players[id] = player
	}
	if len(w.Entities) > 0 {
		clone.Entities = append([]Entity(nil), w.Entities...)
	}
	return clone
}

// Wire maps the world onto the client-facing state aggregate.
func (w *World) Wire() protocol.GameState {
	state := protocol.GameState{
		Players:  make(map[uint64]protocol.PlayerCell, len(w.Players)),
		Entities: make([]protocol.Entity, 0, len(w.Entities)),
	}
	for id, player := range w.Players {
		state.Players[id] = protocol.PlayerCell{X: player.X, Y: player.Y}
	}
	for _, entity := range w.Entities {
		state.Entities = append(state.Entities, protocol.Entity{ID: entity.ID, Type: entity.Type, OwnerID: entity.Owner})
	}
	return state
}
