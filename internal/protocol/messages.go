// Package protocol defines the JSON wire envelope exchanged with game clients.
//
// Every message carries a "type" discriminator. The server is authoritative:
// inbound payloads express intent only, and the acting player is always the
// connection's identity, never a field claimed inside the payload.
package protocol

import "encoding/json"

// Message type discriminators observed on the wire.
const (
	TypeConnected    = "connected"
	TypeStateUpdate  = "state_update"
	TypeChatMessage  = "chat_message"
	TypeMatchFound   = "match_found"
	TypePong         = "pong"
	TypeGameAction   = "game_action"
	TypeMatchRequest = "matchmaking_request"
	TypeMatchCancel  = "cancel_matchmaking"
	TypePing         = "ping"
)

// Envelope is the minimal decode used to route an inbound frame.
type Envelope struct {
	Type string `json:"type"`
}

// PlayerCell is one player's grid position inside a state update.
type PlayerCell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Entity is a non-player world object such as a projectile.
type Entity struct {
	ID      uint64 `json:"id"`
	Type    string `json:"type"`
	OwnerID uint64 `json:"ownerId"`
}

// WorldAux carries auxiliary world fields. It is currently empty but kept as a
// struct so the wire shape stays an object rather than null.
type WorldAux struct{}

// GameState is the full authoritative aggregate broadcast to clients. Player
// keys marshal as decimal strings of the numeric client identity.
type GameState struct {
	Players    map[uint64]PlayerCell `json:"players"`
	Entities   []Entity              `json:"entities"`
	WorldState WorldAux              `json:"worldState"`
}

// StateUpdate is the periodic authoritative broadcast.
type StateUpdate struct {
	Type       string    `json:"type"`
	ServerTime int64     `json:"serverTime"`
	Tick       uint64    `json:"tick"`
	State      GameState `json:"state"`
}

// Connected greets a freshly established session with its assigned identity.
type Connected struct {
	Type     string `json:"type"`
	PlayerID uint64 `json:"playerId"`
}

// ChatMessage is a chat line fanned out to a channel's audience.
type ChatMessage struct {
	Type      string `json:"type"`
	PlayerID  uint64 `json:"playerId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Channel   string `json:"channel"`
}

// MatchFound notifies queued players that a match has been assembled.
type MatchFound struct {
	Type     string   `json:"type"`
	MatchID  string   `json:"matchId"`
	GameMode string   `json:"gameMode"`
	Players  []uint64 `json:"players"`
}

// Pong answers a client ping so round-trip latency can be sampled.
type Pong struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
}

// GameAction is a client-submitted intent to mutate world state. Data stays
// raw because its shape depends on the action type.
type GameAction struct {
	Type           string          `json:"type"`
	ActionType     string          `json:"actionType"`
	ActionID       uint64          `json:"actionId"`
	Timestamp      uint64          `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
	SequenceNumber uint64          `json:"sequenceNumber"`
}

// MoveData is the payload carried by a "move" action.
type MoveData struct {
	Dx int `json:"dx"`
	Dy int `json:"dy"`
}

// ChatSend is the inbound chat submission.
type ChatSend struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// MatchRequest queues the sending player for matchmaking.
type MatchRequest struct {
	Type       string `json:"type"`
	GameMode   string `json:"gameMode"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}
