package main

import (
	"encoding/json"

	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
)

// handleGameAction decodes an inbound action frame and submits it to the
// engine for application on the next tick.
func (s *GameServer) handleGameAction(playerID uint64, payload []byte) {
	var action protocol.GameAction
	if err := json.Unmarshal(payload, &action); err != nil {
		s.log.Debug("dropping malformed action frame",
			logging.Error(err),
			logging.Uint64("player_id", playerID))
		return
	}
	if err := s.engine.SubmitAction(playerID, action); err != nil {
		s.log.Debug("rejected action",
			logging.Error(err),
			logging.String("action_type", action.ActionType),
			logging.Uint64("player_id", playerID))
	}
}
