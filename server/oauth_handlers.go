package server

import (
	"net/http"
	"net/url"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// LoginHandler starts the Spotify authorization-code + PKCE flow
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.flow.BeginAuth(r.Context())
		if err != nil {
			log.Err(err).Msg("Failed to begin authorization")
			writeStoreUnavailable(w)
			return
		}

		if err := s.stateCookie.set(w, req.State); err != nil {
			log.Err(err).Msg("Failed to set state cookie")
			writeError(w, http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "Failed to start login"})
			return
		}

		http.Redirect(w, r, req.RedirectURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow and hands the browser its session id
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		state := query.Get("state")
		s.stateCookie.clear(w) // single use whatever the outcome

		if upstreamErr := query.Get("error"); upstreamErr != "" {
			log.Info().Str("error", upstreamErr).Msg("Spotify authorization was not granted")
			s.redirectLoginError(w, r, loginErrorAccessDenied)
			return
		}

		if err := s.stateCookie.verify(r, state); err != nil {
			log.Warn().Err(err).Msg("Rejected callback state")
			s.redirectLoginError(w, r, loginErrorInvalidState)
			return
		}

		code := query.Get("code")
		if code == "" {
			s.redirectLoginError(w, r, loginErrorAuthFailed)
			return
		}

		result, err := s.flow.CompleteAuth(r.Context(), code, state)
		if apperrors.Is(err, apperrors.ErrInvalidState) {
			s.redirectLoginError(w, r, loginErrorInvalidState)
			return
		}
		if err != nil {
			log.Err(err).Msg("Failed to complete authorization")
			s.redirectLoginError(w, r, loginErrorAuthFailed)
			return
		}

		target := s.config.GetFrontendURL() + FrontendCallbackPath + "?" + url.Values{"session_id": {result.Session.ID}}.Encode()
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func (s *Server) redirectLoginError(w http.ResponseWriter, r *http.Request, code string) {
	target := s.config.GetFrontendURL() + "/?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
