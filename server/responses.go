package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json"

// Error codes sent in the "error" field of JSON error bodies
const (
	codeUnauthorized       = "unauthorized"
	codeSessionNotFound    = "session_not_found"
	codeReauthRequired     = "reauth_required"
	codeTemporaryFailure   = "temporary_refresh_failure"
	codeServiceUnavailable = "service_unavailable"
	codeRefreshFailed      = "refresh_failed"
	codeNotFound           = "not_found"
	codeRateLimited        = "rate_limited"
	codeInternal           = "internal_error"
)

// Error codes appended to the frontend URL when a login fails
const (
	loginErrorInvalidState = "invalid_state"
	loginErrorAccessDenied = "access_denied"
	loginErrorAuthFailed   = "auth_failed"
)

type errorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RequiresReauth bool   `json:"requiresReauth,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

func writeMissingSession(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, errorResponse{Error: codeUnauthorized, Message: "Missing " + HeaderSessionID + " header"})
}

func writeSessionNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, errorResponse{
		Error:          codeSessionNotFound,
		Message:        "Session not found, please log in again",
		RequiresReauth: true,
	})
}

func writeStoreUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, errorResponse{Error: codeServiceUnavailable, Message: "Session store unavailable, please retry"})
}

// writeStoreError answers a failed session read. Undecodable records are not
// retryable, so they get a 500 instead of the 503 used for outages.
func writeStoreError(w http.ResponseWriter, err error) {
	if apperrors.Is(err, apperrors.ErrInternal) {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "Stored session is unreadable, please log in again"})
		return
	}
	writeStoreUnavailable(w)
}

// writeRefreshError translates a refresh outcome into the HTTP contract.
// Classification happens in the coordinator; this only maps it.
func writeRefreshError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrSessionNotFound):
		writeSessionNotFound(w)
	case apperrors.Is(err, apperrors.ErrReauthRequired):
		writeError(w, http.StatusUnauthorized, errorResponse{
			Error:          codeReauthRequired,
			Message:        "Spotify authorization was revoked or expired, please log in again",
			RequiresReauth: true,
		})
	case apperrors.Is(err, apperrors.ErrTemporaryRefreshFailure):
		writeError(w, http.StatusServiceUnavailable, errorResponse{Error: codeTemporaryFailure, Message: "Token refresh temporarily failed, please retry"})
	case apperrors.Is(err, apperrors.ErrInternal), apperrors.Is(err, apperrors.ErrServiceUnavailable):
		log.Err(err).Msg("Token refresh failed in the session store")
		writeStoreError(w, err)
	default:
		log.Err(err).Msg("Token refresh failed")
		writeError(w, http.StatusBadGateway, errorResponse{Error: codeRefreshFailed, Message: "Token refresh failed"})
	}
}
