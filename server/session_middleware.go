package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyRequestID stores the request correlation id
	ContextKeyRequestID ContextKey = "request_id"
	// ContextKeySession stores the resolved *sessions.Session
	ContextKeySession ContextKey = "session"
	// ContextKeyUserID stores the authenticated Spotify user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyAccessToken stores an access token valid beyond the expiry buffer
	ContextKeyAccessToken ContextKey = "access_token"
	// ContextKeyExpiresIn stores the access token's remaining seconds
	ContextKeyExpiresIn ContextKey = "expires_in"
)

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

func SessionFromContext(ctx context.Context) *sessions.Session {
	session, _ := ctx.Value(ContextKeySession).(*sessions.Session)
	return session
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ContextKeyUserID).(string)
	return userID
}

func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ContextKeyAccessToken).(string)
	return token
}

func expiresInFromContext(ctx context.Context) int {
	secs, _ := ctx.Value(ContextKeyExpiresIn).(int)
	return secs
}

// resolveSession looks up the X-Session-ID session and writes the error
// response itself when there is none.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (*sessions.Session, bool) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		writeMissingSession(w)
		return nil, false
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		log.Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("Session lookup failed")
		writeStoreError(w, err)
		return nil, false
	}
	if session == nil {
		writeSessionNotFound(w)
		return nil, false
	}
	return session, true
}

// RequireSession is middleware for API routes that need a live session
func (s *Server) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.resolveSession(w, r)
		if !ok {
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeySession, session)
		ctx = context.WithValue(ctx, ContextKeyUserID, session.UserID)
		next(w, r.WithContext(ctx))
	}
}

// RequireValidTokens is middleware for API routes that call Spotify on the
// user's behalf. It refreshes through the coordinator only when the stored
// token is inside the expiry buffer.
func (s *Server) RequireValidTokens(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.resolveSession(w, r)
		if !ok {
			return
		}

		tokens, err := s.sessions.GetTokens(r.Context(), session.ID)
		if err != nil {
			log.Err(err).Msg("Token lookup failed")
			writeStoreError(w, err)
			return
		}
		if tokens == nil {
			writeSessionNotFound(w)
			return
		}

		accessToken, expiresIn := tokens.AccessToken, tokens.ExpiresIn(s.now())
		if !tokens.ValidFor(s.now(), s.refresher.ExpiryBuffer()) {
			result, err := s.refresher.Refresh(r.Context(), session.ID)
			if err != nil {
				writeRefreshError(w, err)
				return
			}
			accessToken, expiresIn = result.AccessToken, result.ExpiresIn
		}

		ctx := context.WithValue(r.Context(), ContextKeySession, session)
		ctx = context.WithValue(ctx, ContextKeyUserID, session.UserID)
		ctx = context.WithValue(ctx, ContextKeyAccessToken, accessToken)
		ctx = context.WithValue(ctx, ContextKeyExpiresIn, expiresIn)
		next(w, r.WithContext(ctx))
	}
}
