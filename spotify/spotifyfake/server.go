// Package spotifyfake is an in-process stand-in for Spotify's accounts and profile endpoints
package spotifyfake

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/spotify-session-server/spotify"
)

const (
	ClientID     = "fake-client-id"
	ClientSecret = "fake-client-secret"
	UserID       = "fake-spotify-user"
)

type refreshFailure struct {
	status      int
	code        string
	description string
}

// Server issues sequential tokens ("access-1", "refresh-1", ...) and records calls
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	seq            int
	codes          map[string]string // code -> S256 challenge
	accessTokens   map[string]struct{}
	exchangeCalls  int
	refreshCalls   int
	rotate         bool
	refreshDelay   time.Duration
	refreshFailure *refreshFailure
}

// New starts a fake Spotify and closes it when the test ends
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		codes:        make(map[string]string),
		accessTokens: make(map[string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.HandleFunc("GET /v1/me", s.handleMe)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Config returns provider settings pointing at this fake
func (s *Server) Config(redirectURL string) spotify.Config {
	return spotify.Config{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"user-read-private", "user-modify-playback-state"},
		Timeout:      5 * time.Second,
		AuthURL:      s.URL + "/authorize",
		TokenURL:     s.URL + "/api/token",
		APIURL:       s.URL + "/v1",
	}
}

// AuthorizeCode simulates the user approving access and returns the code
// the browser would carry back to the callback.
func (s *Server) AuthorizeCode(challenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	code := fmt.Sprintf("code-%d", s.seq)
	s.codes[code] = challenge
	return code
}

// SetRotateRefreshTokens makes refresh responses include a new refresh token
func (s *Server) SetRotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = rotate
}

// SetRefreshDelay slows refresh responses to widen race windows
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// FailRefreshWith makes refresh requests fail with an OAuth error body
func (s *Server) FailRefreshWith(status int, code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFailure = &refreshFailure{status: status, code: code, description: description}
}

// ClearRefreshFailure restores successful refreshes
func (s *Server) ClearRefreshFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFailure = nil
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.handleCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (s *Server) handleCodeGrant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.exchangeCalls++
	challenge, ok := s.codes[r.PostForm.Get("code")]
	delete(s.codes, r.PostForm.Get("code"))
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid authorization code")
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier was incorrect")
		return
	}

	s.writeTokens(w, true)
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	delay := s.refreshDelay
	failure := s.refreshFailure
	rotate := s.rotate
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if r.PostForm.Get("refresh_token") == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token must be supplied")
		return
	}
	if failure != nil {
		writeOAuthError(w, failure.status, failure.code, failure.description)
		return
	}
	s.writeTokens(w, rotate)
}

func (s *Server) writeTokens(w http.ResponseWriter, withRefresh bool) {
	s.mu.Lock()
	s.seq++
	body := map[string]any{
		"access_token": fmt.Sprintf("access-%d", s.seq),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "user-read-private user-modify-playback-state",
	}
	if withRefresh {
		body["refresh_token"] = fmt.Sprintf("refresh-%d", s.seq)
	}
	s.accessTokens[body["access_token"].(string)] = struct{}{}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	_, ok := s.accessTokens[token]
	s.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"status":401,"message":"Invalid access token"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": UserID, "display_name": "Fake User"})
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
