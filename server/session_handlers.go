package server

import (
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/internal/utils"
	"github.com/rs/zerolog/log"
)

type statusResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	TokenValid    *bool      `json:"tokenValid,omitempty"`
	SessionExpiry *time.Time `json:"sessionExpiry,omitempty"`
}

// InitialTokenHandler hands out the token staged by the callback, once
func (s *Server) InitialTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(HeaderSessionID)
		if sessionID == "" {
			writeMissingSession(w)
			return
		}

		staged, err := s.flow.ClaimInitialToken(r.Context(), sessionID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			writeError(w, http.StatusNotFound, errorResponse{Error: codeNotFound, Message: "No initial token available, use " + RouteRefresh})
			return
		}
		if err != nil {
			log.Err(err).Msg("Failed to claim initial token")
			writeStoreError(w, err)
			return
		}

		expiresIn := int(staged.ExpiresAt.Sub(s.now()).Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: staged.AccessToken, ExpiresIn: expiresIn})
	}
}

// RefreshHandler returns a token valid beyond the expiry buffer, refreshing upstream if needed
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.resolveSession(w, r)
		if !ok {
			return
		}

		result, err := s.refresher.Refresh(r.Context(), session.ID)
		if err != nil {
			writeRefreshError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken, ExpiresIn: result.ExpiresIn})
	}
}

// LogoutHandler destroys the session. It always reports success so the
// client can clear its own state.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID := r.Header.Get(HeaderSessionID); sessionID != "" {
			if err := s.sessions.Destroy(r.Context(), sessionID); err != nil {
				log.Err(err).Msg("Failed to destroy session on logout")
			}
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

// StatusHandler reports whether the caller's session is live
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(HeaderSessionID)
		if sessionID == "" {
			writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
			return
		}

		session, err := s.sessions.Get(r.Context(), sessionID)
		if err != nil {
			log.Err(err).Msg("Session lookup failed")
			writeStoreError(w, err)
			return
		}
		if session == nil {
			writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
			return
		}

		tokens, err := s.sessions.GetTokens(r.Context(), sessionID)
		if err != nil {
			log.Err(err).Msg("Token lookup failed")
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Authenticated: true,
			UserID:        session.UserID,
			TokenValid:    utils.Ptr(tokens.ValidFor(s.now(), 0)),
			SessionExpiry: utils.Ptr(session.ExpiresAt),
		})
	}
}
