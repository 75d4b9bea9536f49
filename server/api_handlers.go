package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

type meResponse struct {
	UserID         string `json:"userId"`
	SessionID      string `json:"sessionId"`
	ActiveSessions int    `json:"activeSessions"`
}

// HealthHandler reports 503 while the session store is unreachable
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.Ping(r.Context()); err != nil {
			log.Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: "down"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "up"})
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, userID := SessionFromContext(r.Context()), UserIDFromContext(r.Context())
		ids, err := s.sessions.ListUserSessions(r.Context(), userID)
		if err != nil {
			log.Err(err).Msg("Failed to list user sessions")
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{UserID: userID, SessionID: session.ID, ActiveSessions: len(ids)})
	}
}

// TokenHandler gives the UI an access token for direct Spotify Web API calls
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: AccessTokenFromContext(r.Context()),
			ExpiresIn:   expiresInFromContext(r.Context()),
		})
	}
}
