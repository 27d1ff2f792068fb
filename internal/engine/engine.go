// Package engine owns the authoritative world state and the fixed-rate tick
// that mutates it. Actions arrive from any connection goroutine, are buffered
// in the ActionQueue, and are applied strictly in submission order by the one
// tick driver; nothing else touches the world.
package engine

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gridlock/gameserver/internal/config"
	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
)

var (
	// ErrUnknownPlayer rejects actions from identities the roster has never seen.
	ErrUnknownPlayer = errors.New("action from unknown player")
	// ErrEmptyActionType rejects actions that omit their type discriminator.
	ErrEmptyActionType = errors.New("action type must not be empty")
)

// Broadcaster fans a fully encoded message out to every connected session.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// PlayerLookup reports whether an identity is currently known to the roster.
type PlayerLookup interface {
	Exists(id uint64) bool
}

// Journal receives accepted actions and broadcast frames for offline analysis.
type Journal interface {
	RecordAction(tick uint64, playerID uint64, payload []byte)
	RecordFrame(tick uint64, payload []byte)
}

// SimulateFunc advances non-action-driven simulation for one tick and reports
// whether it changed the world.
type SimulateFunc func(world *World) bool

// Option customises engine construction.
type Option func(*Engine)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithRand overrides the spawn position source so tests can pin placement.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithPlayerLookup wires the roster used to validate action senders.
func WithPlayerLookup(lookup PlayerLookup) Option {
	return func(e *Engine) {
		e.lookup = lookup
	}
}

// WithJournal wires the action/frame journal.
func WithJournal(journal Journal) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithSimulation replaces the per-tick simulation step.
func WithSimulation(step SimulateFunc) Option {
	return func(e *Engine) {
		e.simulate = step
	}
}

// WithLogger overrides the engine's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// Engine applies queued actions to the world once per tick, snapshots history
// for rollback, and decides when a broadcast is warranted.
type Engine struct {
	queue     *ActionQueue
	store     *SnapshotStore
	world     *World
	sequences map[uint64]uint64

	removalMu sync.Mutex
	removals  []uint64

	tick       atomic.Uint64
	serverTime atomic.Int64
	broadcasts atomic.Uint64
	dirty      bool

	gridSize       int
	heartbeatTicks uint64
	snapshotEvery  uint64
	snapshotAgeMs  int64

	broadcaster Broadcaster
	lookup      PlayerLookup
	journal     Journal
	simulate    SimulateFunc
	log         *logging.Logger
	now         func() time.Time
	rng         *rand.Rand
}

// NewEngine constructs an engine with the supplied gameplay tuning. The
// broadcaster may be nil, in which case state updates are computed but not
// fanned out; useful in tests.
func NewEngine(tuning config.Tuning, broadcaster Broadcaster, opts ...Option) *Engine {
	//1.- Zero-valued tuning fields fall back to the shipped defaults so a bare
	// struct never produces a zero modulus or an empty grid.
	defaults := config.DefaultTuning()
	if tuning.GridSize <= 0 {
		tuning.GridSize = defaults.GridSize
	}
	if tuning.HeartbeatTicks == 0 {
		tuning.HeartbeatTicks = defaults.HeartbeatTicks
	}
	if tuning.SnapshotEveryTicks == 0 {
		tuning.SnapshotEveryTicks = defaults.SnapshotEveryTicks
	}
	if tuning.SnapshotMaxAgeMs <= 0 {
		tuning.SnapshotMaxAgeMs = defaults.SnapshotMaxAgeMs
	}
	engine := &Engine{
		queue:          NewActionQueue(),
		store:          NewSnapshotStore(tuning.SnapshotMaxCount),
		world:          NewWorld(),
		sequences:      make(map[uint64]uint64),
		gridSize:       tuning.GridSize,
		heartbeatTicks: tuning.HeartbeatTicks,
		snapshotEvery:  tuning.SnapshotEveryTicks,
		snapshotAgeMs:  tuning.SnapshotMaxAgeMs,
		broadcaster:    broadcaster,
		log:            logging.L(),
		now:            time.Now,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// SubmitAction validates and enqueues one client action for the next tick.
// Validation happens before enqueueing so the tick driver never pays for
// obviously bad traffic. Spawn actions are exempt because a spawning player
// may not be fully registered elsewhere yet.
//
// Timestamp freshness is deliberately not checked: client clocks are not
// synchronised with the server, so a naive wall-clock skew test would reject
// legitimate traffic. A server-issued round-trip scheme would be required to
// do this safely.
func (e *Engine) SubmitAction(playerID uint64, msg protocol.GameAction) error {
	if e == nil {
		return errors.New("engine is nil")
	}
	action := Action{
		PlayerID:  playerID,
		ActionID:  msg.ActionID,
		Timestamp: msg.Timestamp,
		Type:      msg.ActionType,
		Data:      msg.Data,
		Sequence:  msg.SequenceNumber,
	}
	if action.Type != ActionSpawn {
		if err := e.validateAction(action); err != nil {
			return err
		}
	}
	e.queue.Enqueue(action)
	if e.journal != nil {
		if payload, err := json.Marshal(msg); err == nil {
			e.journal.RecordAction(e.tick.Load(), playerID, payload)
		}
	}
	return nil
}

func (e *Engine) validateAction(action Action) error {
	if action.Type == "" {
		return ErrEmptyActionType
	}
	if e.lookup != nil && !e.lookup.Exists(action.PlayerID) {
		return ErrUnknownPlayer
	}
	return nil
}

// RemovePlayer schedules removal of the player's world entry and sequence
// bookkeeping. The removal is applied at the start of the next tick so world
// mutation stays exclusive to the tick driver.
func (e *Engine) RemovePlayer(playerID uint64) {
	if e == nil {
		return
	}
	e.removalMu.Lock()
	e.removals = append(e.removals, playerID)
	e.removalMu.Unlock()
}

// Tick runs one full simulation step. It must only ever be invoked by the
// single tick driver; ticks never overlap.
func (e *Engine) Tick() {
	if e == nil {
		return
	}
	//1.- Advance the tick counter and capture the authoritative server time.
	tick := e.tick.Add(1)
	e.serverTime.Store(e.now().UnixMilli())
	//2.- Reset the dirty flag so only this tick's mutations trigger a broadcast.
	e.dirty = false

	e.applyRemovals()

	//3.- Drain and apply every queued action in FIFO order.
	for _, action := range e.queue.DrainAll() {
		e.applyAction(tick, action)
	}

	//4.- Run non-action-driven simulation, which may itself dirty the world.
	if e.simulate != nil && e.simulate(e.world) {
		e.dirty = true
	}

	//5.- Broadcast on change, or on the heartbeat interval during idle periods.
	if e.dirty || tick%e.heartbeatTicks == 0 {
		e.broadcastState(tick)
	}

	//6.- Snapshot periodically and evict entries outside the retention window.
	if tick%e.snapshotEvery == 0 {
		e.createSnapshot(tick)
	}
	e.store.EvictOlderThan(e.serverTime.Load() - e.snapshotAgeMs)
}

func (e *Engine) applyRemovals() {
	e.removalMu.Lock()
	removals := e.removals
	e.removals = nil
	e.removalMu.Unlock()
	for _, playerID := range removals {
		if _, ok := e.world.Players[playerID]; ok {
			delete(e.world.Players, playerID)
			e.dirty = true
		}
		delete(e.sequences, playerID)
	}
}

func (e *Engine) applyAction(tick uint64, action Action) {
	//1.- Drop actions whose sender vanished between enqueue and apply.
	if e.lookup != nil && !e.lookup.Exists(action.PlayerID) {
		return
	}
	//2.- Acknowledge the client sequence number for reconciliation queries.
	if action.Sequence != 0 {
		e.sequences[action.PlayerID] = action.Sequence
	}

	switch action.Type {
	case ActionSpawn:
		// No occupancy check: two players may legitimately share a cell.
		cell := PlayerState{X: e.rng.Intn(e.gridSize), Y: e.rng.Intn(e.gridSize)}
		e.world.Players[action.PlayerID] = cell
		e.dirty = true
		e.log.Debug("player spawned",
			logging.Uint64("player_id", action.PlayerID),
			logging.Int("x", cell.X), logging.Int("y", cell.Y))
	case ActionMove:
		player, ok := e.world.Players[action.PlayerID]
		if !ok {
			// Must spawn before moving.
			return
		}
		var move protocol.MoveData
		if len(action.Data) > 0 {
			if err := json.Unmarshal(action.Data, &move); err != nil {
				e.log.Debug("dropping malformed move payload", logging.Error(err))
				return
			}
		}
		newX, newY := player.X+move.Dx, player.Y+move.Dy
		if newX < 0 || newX >= e.gridSize || newY < 0 || newY >= e.gridSize {
			// The whole move is rejected; no partial axis update.
			return
		}
		e.world.Players[action.PlayerID] = PlayerState{X: newX, Y: newY}
		e.dirty = true
	case ActionShoot:
		// Projectile lifecycle is an extension point. The provisional record
		// is built so the id scheme stays stable once entities are wired in,
		// but the world is not yet mutated.
		provisional := Entity{ID: tick*1000 + action.ActionID, Type: "projectile", Owner: action.PlayerID}
		e.log.Debug("shoot action noted",
			logging.Uint64("entity_id", provisional.ID),
			logging.Uint64("player_id", action.PlayerID))
	default:
		// Unknown action types are silently ignored.
	}
}

func (e *Engine) broadcastState(tick uint64) {
	payload, err := json.Marshal(e.stateUpdate(tick))
	if err != nil {
		e.log.Error("failed to encode state update", logging.Error(err))
		return
	}
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(payload)
	}
	if e.journal != nil {
		e.journal.RecordFrame(tick, payload)
	}
	e.broadcasts.Add(1)
}

func (e *Engine) stateUpdate(tick uint64) protocol.StateUpdate {
	return protocol.StateUpdate{
		Type:       protocol.TypeStateUpdate,
		ServerTime: e.serverTime.Load(),
		Tick:       tick,
		State:      e.world.Wire(),
	}
}

func (e *Engine) createSnapshot(tick uint64) {
	sequences := make(map[uint64]uint64, len(e.sequences))
	for id, seq := range e.sequences {
		sequences[id] = seq
	}
	e.store.Add(Snapshot{
		ID:        tick,
		Timestamp: e.serverTime.Load(),
		World:     e.world.Clone(),
		Sequences: sequences,
	})
}

// CreateSnapshot captures an on-demand snapshot outside the periodic cadence.
// Like Tick, it must run serialized with the tick driver.
func (e *Engine) CreateSnapshot() {
	if e == nil {
		return
	}
	e.createSnapshot(e.tick.Load())
}

// GetSnapshot returns the retained snapshot for the given tick, if any.
func (e *Engine) GetSnapshot(id uint64) (Snapshot, bool) {
	if e == nil {
		return Snapshot{}, false
	}
	return e.store.Get(id)
}

// RollbackToSnapshot replaces the live world and sequence table wholesale with
// the snapshot's copies. Mutations after the snapshot's tick are lost. The
// call is a no-op when the snapshot is absent or evicted, and must run
// serialized with the tick driver like any other world mutation.
func (e *Engine) RollbackToSnapshot(id uint64) bool {
	if e == nil {
		return false
	}
	snapshot, ok := e.store.Get(id)
	if !ok {
		return false
	}
	//1.- Clone on restore so the retained snapshot stays immutable and a
	// second rollback to the same id yields an identical result.
	e.world = snapshot.World.Clone()
	sequences := make(map[uint64]uint64, len(snapshot.Sequences))
	for playerID, seq := range snapshot.Sequences {
		sequences[playerID] = seq
	}
	e.sequences = sequences
	e.dirty = true
	return true
}

// AcknowledgedSequence answers "what did this player last acknowledge" for
// reconciliation. Runs on the tick driver's thread.
func (e *Engine) AcknowledgedSequence(playerID uint64) (uint64, bool) {
	if e == nil {
		return 0, false
	}
	seq, ok := e.sequences[playerID]
	return seq, ok
}

// TickCount reports the number of completed tick starts.
func (e *Engine) TickCount() uint64 {
	if e == nil {
		return 0
	}
	return e.tick.Load()
}

// ServerTime reports the server clock captured at the last tick, in ms.
func (e *Engine) ServerTime() int64 {
	if e == nil {
		return 0
	}
	return e.serverTime.Load()
}

// Broadcasts reports how many state updates have been fanned out.
func (e *Engine) Broadcasts() uint64 {
	if e == nil {
		return 0
	}
	return e.broadcasts.Load()
}

// QueueDepth reports how many actions await the next tick.
func (e *Engine) QueueDepth() int {
	if e == nil {
		return 0
	}
	return e.queue.Len()
}

// SnapshotCount reports how many snapshots are retained.
func (e *Engine) SnapshotCount() int {
	if e == nil {
		return 0
	}
	return e.store.Len()
}

// PlayerCount reports how many players currently occupy the world.
func (e *Engine) PlayerCount() int {
	if e == nil {
		return 0
	}
	return len(e.world.Players)
}

// WorldPlayers returns a copy of the live player table. Intended for callers
// already serialized with the tick driver, such as tests.
func (e *Engine) WorldPlayers() map[uint64]PlayerState {
	if e == nil {
		return nil
	}
	players := make(map[uint64]PlayerState, len(e.world.Players))
	for id, player := range e.world.Players {
		players[id] = player
	}
	return players
}
