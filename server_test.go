package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridlock/gameserver/internal/auth"
	"gridlock/gameserver/internal/config"
	"gridlock/gameserver/internal/logging"
	"gridlock/gameserver/internal/protocol"
	"gridlock/gameserver/internal/roster"
)

func testConfig() *config.Config {
	return &config.Config{
		Address:           ":0",
		MaxPayloadBytes:   config.DefaultMaxPayloadBytes,
		PingInterval:      time.Minute,
		MaxClients:        8,
		SessionQueueDepth: 16,
		Tuning:            config.DefaultTuning(),
	}
}

func newTestServer(t *testing.T, verifier auth.Verifier) (*GameServer, *httptest.Server) {
	t.Helper()
	server := NewGameServer(testConfig(), logging.NewTestLogger(), roster.NewStore(), nil, verifier)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return server, ts
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, target any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		t.Fatalf("decode message %q: %v", payload, err)
	}
}

func waitFor(t *testing.T, condition func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAssignsIdentityAndSpawnFlowsThroughTick(t *testing.T) {
	server, ts := newTestServer(t, auth.AllowAll{})
	conn := dial(t, ts, nil)

	//1.- The first frame is the welcome carrying the session identity.
	var welcome protocol.Connected
	readMessage(t, conn, &welcome)
	if welcome.Type != protocol.TypeConnected || welcome.PlayerID != 1 {
		t.Fatalf("unexpected welcome %+v", welcome)
	}

	//2.- A spawn action is queued by the reader and applied by the tick.
	spawn, _ := json.Marshal(protocol.GameAction{
		Type: protocol.TypeGameAction, ActionType: "spawn", ActionID: 1, Timestamp: 1,
	})
	if err := conn.WriteMessage(websocket.TextMessage, spawn); err != nil {
		t.Fatalf("write spawn: %v", err)
	}
	waitFor(t, func() bool { return server.Engine().QueueDepth() == 1 }, "action to be queued")

	server.Step()

	var update protocol.StateUpdate
	readMessage(t, conn, &update)
	if update.Type != protocol.TypeStateUpdate || update.Tick != 1 {
		t.Fatalf("unexpected update %+v", update)
	}
	if _, ok := update.State.Players[1]; !ok {
		t.Fatalf("spawned player missing from broadcast: %+v", update.State)
	}
}

func TestPingAnswersWithPong(t *testing.T) {
	server, ts := newTestServer(t, auth.AllowAll{})
	conn := dial(t, ts, nil)

	var welcome protocol.Connected
	readMessage(t, conn, &welcome)

	ping, _ := json.Marshal(map[string]any{"type": protocol.TypePing, "timestamp": time.Now().UnixMilli() - 5})
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var pong protocol.Pong
	readMessage(t, conn, &pong)
	if pong.Type != protocol.TypePong || pong.ServerTime == 0 {
		t.Fatalf("unexpected pong %+v", pong)
	}

	waitFor(t, func() bool {
		player, ok := server.roster.Get(welcome.PlayerID)
		return ok && player.LatencyMs > 0
	}, "latency sample")
}

func TestGlobalChatReachesAllClients(t *testing.T) {
	_, ts := newTestServer(t, auth.AllowAll{})
	first := dial(t, ts, nil)
	second := dial(t, ts, nil)

	var w1, w2 protocol.Connected
	readMessage(t, first, &w1)
	readMessage(t, second, &w2)

	message, _ := json.Marshal(protocol.ChatSend{Type: protocol.TypeChatMessage, Message: "hello all"})
	if err := first.WriteMessage(websocket.TextMessage, message); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		var received protocol.ChatMessage
		readMessage(t, conn, &received)
		if received.Message != "hello all" || received.PlayerID != w1.PlayerID {
			t.Fatalf("unexpected chat %+v", received)
		}
	}

	//1.- A late joiner receives the lobby history right after the welcome.
	third := dial(t, ts, nil)
	var w3 protocol.Connected
	readMessage(t, third, &w3)
	var replayed protocol.ChatMessage
	readMessage(t, third, &replayed)
	if replayed.Type != protocol.TypeChatMessage || replayed.Message != "hello all" {
		t.Fatalf("expected chat history replay, got %+v", replayed)
	}
}

func TestDisconnectCleansUpEverywhere(t *testing.T) {
	server, ts := newTestServer(t, auth.AllowAll{})
	conn := dial(t, ts, nil)

	var welcome protocol.Connected
	readMessage(t, conn, &welcome)
	waitFor(t, func() bool { return server.SessionCount() == 1 }, "session registration")

	conn.Close()
	waitFor(t, func() bool { return server.SessionCount() == 0 }, "session removal")
	waitFor(t, func() bool { return !server.roster.Exists(welcome.PlayerID) }, "roster removal")

	//1.- The world entry disappears on the next tick, not synchronously.
	server.Step()
	if _, ok := server.Engine().WorldPlayers()[welcome.PlayerID]; ok {
		t.Fatalf("world entry should be cleared after the tick")
	}
}

func TestHandshakeRejectedWithoutValidToken(t *testing.T) {
	verifier, err := auth.NewHMACTokenVerifier("secret", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	_, ts := newTestServer(t, verifier)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("handshake without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func signHS256(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	encode := base64.RawURLEncoding.EncodeToString
	header := encode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := encode([]byte(fmt.Sprintf(`{"sub":%q,"exp":%d}`, subject, expires.Unix())))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + payload))
	return header + "." + payload + "." + encode(mac.Sum(nil))
}

func TestAuthenticateRequiresBearerScheme(t *testing.T) {
	verifier, err := auth.NewHMACTokenVerifier("secret", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	server, _ := newTestServer(t, verifier)
	token := signHS256(t, "secret", "player", time.Now().Add(time.Minute))

	//1.- A well-formed Bearer header carries the credential.
	request := httptest.NewRequest(http.MethodGet, "/ws", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	if err := server.authenticate(request); err != nil {
		t.Fatalf("bearer token rejected: %v", err)
	}

	//2.- A scheme that merely starts with the word Bearer is not the Bearer
	// scheme and must not be mistaken for one.
	request = httptest.NewRequest(http.MethodGet, "/ws", nil)
	request.Header.Set("Authorization", "Bearer"+token)
	if err := server.authenticate(request); err == nil {
		t.Fatalf("mashed Bearer scheme should not authenticate")
	}

	//3.- The query parameter remains a valid fallback carrier.
	request = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	if err := server.authenticate(request); err != nil {
		t.Fatalf("query token rejected: %v", err)
	}
}

func TestCheckOriginHonoursAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://game.example"}
	server := NewGameServer(cfg, logging.NewTestLogger(), roster.NewStore(), nil, auth.AllowAll{})

	request := httptest.NewRequest(http.MethodGet, "/ws", nil)
	request.Header.Set("Origin", "https://game.example")
	if !server.checkOrigin(request) {
		t.Fatalf("allowed origin rejected")
	}
	request.Header.Set("Origin", "https://evil.example")
	if server.checkOrigin(request) {
		t.Fatalf("disallowed origin accepted")
	}
	//1.- Non-browser clients without an Origin header are accepted.
	request.Header.Del("Origin")
	if !server.checkOrigin(request) {
		t.Fatalf("missing origin should be accepted")
	}
}
