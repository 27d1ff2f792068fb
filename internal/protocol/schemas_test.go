package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridlock/gameserver/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	actionSchema := compile("game_action.schema.json")
	stateSchema := compile("state_update.schema.json")
	chatSchema := compile("chat_message.schema.json")
	matchSchema := compile("matchmaking_request.schema.json")

	var action any
	_ = json.Unmarshal([]byte(`{
	  "type":"game_action",
	  "actionType":"move",
	  "actionId":7,
	  "timestamp":1700000000000,
	  "sequenceNumber":3,
	  "data":{"dx":1,"dy":0}
	}`), &action)
	validate(actionSchema, action)

	var state any
	_ = json.Unmarshal([]byte(`{
	  "type":"state_update",
	  "serverTime":1700000000000,
	  "tick":120,
	  "state":{
	    "players":{"1":{"x":3,"y":4}},
	    "entities":[{"id":120007,"type":"projectile","ownerId":1}],
	    "worldState":{}
	  }
	}`), &state)
	validate(stateSchema, state)

	var chat any
	_ = json.Unmarshal([]byte(`{
	  "type":"chat_message",
	  "playerId":1,
	  "username":"player-1",
	  "message":"hello",
	  "timestamp":1700000000000,
	  "channel":"global"
	}`), &chat)
	validate(chatSchema, chat)

	var match any
	_ = json.Unmarshal([]byte(`{
	  "type":"matchmaking_request",
	  "gameMode":"deathmatch",
	  "minPlayers":2,
	  "maxPlayers":4
	}`), &match)
	validate(matchSchema, match)
}

func TestSchemas_MatchOutboundEncoding(t *testing.T) {
	//1.- Marshal real server structs and check them against the wire contract.
	stateSchema, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "state_update.schema.json"))
	if err != nil {
		t.Fatalf("compile state_update: %v", err)
	}

	update := protocol.StateUpdate{
		Type:       protocol.TypeStateUpdate,
		ServerTime: 1700000000000,
		Tick:       42,
		State: protocol.GameState{
			Players:  map[uint64]protocol.PlayerCell{9: {X: 1, Y: 2}},
			Entities: []protocol.Entity{},
		},
	}
	encoded, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal state update: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decode state update: %v", err)
	}
	if err := stateSchema.Validate(decoded); err != nil {
		t.Fatalf("state update violates schema: %v", err)
	}
}
