package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridlock/gameserver/internal/auth"
	"gridlock/gameserver/internal/chat"
	"gridlock/gameserver/internal/config"
	"gridlock/gameserver/internal/engine"
	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/matchmaking"
	"gridlock/gameserver/internal/protocol"
	"gridlock/gameserver/internal/roster"
	"gridlock/gameserver/internal/session"
)

const (
	writeWait = 10 * time.Second
	// chatReplayCount bounds how much lobby history a new session receives.
	chatReplayCount = 20
)

// GameServer ties the websocket transport to the state engine, chat, and
// matchmaking. It is the Broadcaster the engine fans out through and the
// Notifier matchmaking announces matches through.
type GameServer struct {
	cfg      *config.Config
	log      *logging.Logger
	registry *session.Registry
	roster   *roster.Store
	engine   *engine.Engine
	chat     *chat.System
	match    *matchmaking.System
	verifier auth.Verifier
	upgrader websocket.Upgrader
	started  time.Time

	startupMu  sync.Mutex
	startupErr error
}

// NewGameServer wires every subsystem around the shared roster and registry.
// The journal may be nil when persistence is disabled.
func NewGameServer(cfg *config.Config, logger *logging.Logger, store *roster.Store, journal engine.Journal, verifier auth.Verifier) *GameServer {
	if logger == nil {
		logger = logging.L()
	}
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	s := &GameServer{
		cfg:      cfg,
		log:      logger,
		registry: session.NewRegistry(cfg.SessionQueueDepth),
		roster:   store,
		verifier: verifier,
		started:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engineOpts := []engine.Option{
		engine.WithPlayerLookup(store),
		engine.WithLogger(logger),
	}
	if journal != nil {
		engineOpts = append(engineOpts, engine.WithJournal(journal))
	}
	s.engine = engine.NewEngine(cfg.Tuning, s, engineOpts...)
	s.chat = chat.NewSystem(store, s, cfg.Tuning.ChatHistoryLimit, cfg.Tuning.ChatMaxLength, chat.WithLogger(logger))
	s.match = matchmaking.NewSystem(store, s, matchmaking.WithLogger(logger))
	return s
}

// Engine exposes the state engine for the operational handlers.
func (s *GameServer) Engine() *engine.Engine { return s.engine }

// Step runs one tick: the engine applies queued actions, then matchmaking
// forms matches. Invoked solely by the tick loop.
func (s *GameServer) Step() {
	s.engine.Tick()
	s.match.Process()
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades a client connection and starts its read and write
// pumps.
func (s *GameServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticate(r); err != nil {
		s.log.Warn("rejected websocket handshake", logging.Error(err), logging.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.MaxClients > 0 && s.registry.Count() >= s.cfg.MaxClients {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	//1.- Register the session and roster entry, then announce the identity.
	sess := s.registry.Create()
	s.roster.Add(sess.ID())
	sess.Establish()

	if welcome, err := json.Marshal(protocol.Connected{Type: protocol.TypeConnected, PlayerID: sess.ID()}); err == nil {
		_ = sess.Enqueue(welcome)
	}
	//2.- Replay recent lobby chat so the newcomer has conversation context.
	for _, message := range s.chat.RecentMessages(chat.GlobalChannel, chatReplayCount) {
		if payload, err := json.Marshal(message); err == nil {
			_ = sess.Enqueue(payload)
		}
	}
	s.log.Info("client connected",
		logging.Uint64("player_id", sess.ID()),
		logging.String("remote", r.RemoteAddr))

	go s.writePump(sess, conn)
	go s.readPump(sess, conn)
}

func (s *GameServer) readPump(sess *session.Session, conn *websocket.Conn) {
	defer func() {
		s.dropSession(sess.ID(), "connection closed")
		conn.Close()
	}()
	conn.SetReadLimit(s.cfg.MaxPayloadBytes)
	pongWait := s.cfg.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", logging.Error(err), logging.Uint64("player_id", sess.ID()))
			}
			return
		}
		s.route(sess, payload)
	}
}

func (s *GameServer) writePump(sess *session.Session, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sess.Outbox():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// route dispatches one inbound frame by its type discriminator. The acting
// identity is always the session's; identity fields inside payloads are
// ignored.
func (s *GameServer) route(sess *session.Session, payload []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.log.Debug("dropping malformed frame", logging.Error(err), logging.Uint64("player_id", sess.ID()))
		return
	}
	switch envelope.Type {
	case protocol.TypeGameAction:
		s.handleGameAction(sess.ID(), payload)
	case protocol.TypeChatMessage:
		var submission protocol.ChatSend
		if err := json.Unmarshal(payload, &submission); err != nil {
			s.log.Debug("dropping malformed chat frame", logging.Error(err))
			return
		}
		if err := s.chat.HandleMessage(sess.ID(), submission); err != nil {
			s.log.Debug("rejected chat message", logging.Error(err), logging.Uint64("player_id", sess.ID()))
		}
	case protocol.TypeMatchRequest:
		var request protocol.MatchRequest
		if err := json.Unmarshal(payload, &request); err != nil {
			s.log.Debug("dropping malformed matchmaking frame", logging.Error(err))
			return
		}
		s.match.QueuePlayer(sess.ID(), request)
	case protocol.TypeMatchCancel:
		s.match.Cancel(sess.ID())
	case protocol.TypePing:
		s.handlePing(sess, payload)
	default:
		s.log.Debug("ignoring unknown frame type",
			logging.String("type", envelope.Type),
			logging.Uint64("player_id", sess.ID()))
	}
}

func (s *GameServer) handlePing(sess *session.Session, payload []byte) {
	var ping struct {
		Timestamp int64 `json:"timestamp"`
	}
	_ = json.Unmarshal(payload, &ping)
	now := time.Now().UnixMilli()
	s.roster.UpdatePing(sess.ID(), ping.Timestamp)
	if ping.Timestamp > 0 && now >= ping.Timestamp {
		s.roster.UpdateLatency(sess.ID(), float64(now-ping.Timestamp))
	}
	if pong, err := json.Marshal(protocol.Pong{Type: protocol.TypePong, ServerTime: now}); err == nil {
		s.Send(sess.ID(), pong)
	}
}

// dropSession tears down all state tied to a session. Safe to call more than
// once for the same identity; later calls are no-ops.
func (s *GameServer) dropSession(id uint64, reason string) {
	removed, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	removed.Close()
	s.roster.Remove(id)
	s.engine.RemovePlayer(id)
	s.match.RemovePlayer(id)
	s.log.Info("client disconnected",
		logging.Uint64("player_id", id),
		logging.String("reason", reason))
}

// Broadcast fans a message out to every established session, disconnecting
// any whose outbound queue overflowed.
func (s *GameServer) Broadcast(payload []byte) {
	for _, id := range s.registry.Broadcast(payload) {
		s.dropSession(id, "outbound queue overflow")
	}
}

// BroadcastToRoom fans a message out to the sessions in one room.
func (s *GameServer) BroadcastToRoom(room string, payload []byte) {
	for _, id := range s.registry.BroadcastToRoom(room, payload) {
		s.dropSession(id, "outbound queue overflow")
	}
}

// Send enqueues a message for one identity.
func (s *GameServer) Send(id uint64, payload []byte) {
	if err := s.registry.Send(id, payload); err != nil {
		s.dropSession(id, "outbound queue overflow")
	}
}

// SetRoom assigns a session's broadcast scope.
func (s *GameServer) SetRoom(id uint64, room string) {
	s.registry.SetRoom(id, room)
}

// SessionCount reports the number of live sessions for readiness checks.
func (s *GameServer) SessionCount() int {
	return s.registry.Count()
}

// StartupError reports a fatal startup problem, if one was recorded.
func (s *GameServer) StartupError() error {
	s.startupMu.Lock()
	defer s.startupMu.Unlock()
	return s.startupErr
}

// SetStartupError records a fatal startup problem for readiness reporting.
func (s *GameServer) SetStartupError(err error) {
	s.startupMu.Lock()
	s.startupErr = err
	s.startupMu.Unlock()
}

// Uptime reports how long the server has been running.
func (s *GameServer) Uptime() time.Duration {
	return time.Since(s.started)
}
