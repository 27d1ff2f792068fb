package main

import (
	"net/http"
	"strings"
	"time"

	"gridlock/gameserver/internal/auth"
	"gridlock/gameserver/internal/config"
)

const authLeeway = 30 * time.Second

// newVerifier selects the handshake verifier: HMAC tokens when a shared
// secret is configured, otherwise every connection is accepted.
func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthSecret == "" {
		return auth.AllowAll{}, nil
	}
	return auth.NewHMACTokenVerifier(cfg.AuthSecret, authLeeway)
}

// authenticate checks the handshake credential carried in the Authorization
// header or the token query parameter.
func (s *GameServer) authenticate(r *http.Request) error {
	if _, open := s.verifier.(auth.AllowAll); open {
		return nil
	}
	var token string
	//1.- Only a proper Bearer scheme yields a header credential; anything else
	// falls through to the query parameter.
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	_, err := s.verifier.Verify(token)
	return err
}
