package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/rs/zerolog/log"
)

// sessionIDLength is the number of random bytes in a session id (256 bits)
const sessionIDLength = 32

// Key layout
func sessionKey(id string) string      { return "session:" + id }
func tokensKey(id string) string       { return "session:" + id + ":tokens" }
func initialTokenKey(id string) string { return "session:" + id + ":initial-token" }
func userSessionsKey(uid string) string {
	return "user:" + uid + ":sessions"
}

// RefreshLockKey is the distributed lock guarding upstream refreshes of one session
func RefreshLockKey(id string) string { return "session:" + id + ":refresh-lock" }

// Store persists sessions and their token pairs. Records carry no TTL; a
// session lives until Destroy is called.
type Store struct {
	kv            kv.Store
	maxSessionAge time.Duration
	nowTime       func() time.Time
}

// StoreOption modifies a Store
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithMaxSessionAge sets the informational Session.ExpiresAt offset
func WithMaxSessionAge(age time.Duration) StoreOption {
	return func(s *Store) {
		s.maxSessionAge = age
	}
}

// NewStore creates a session store on top of a key-value backend
func NewStore(backend kv.Store, opts ...StoreOption) *Store {
	s := &Store{
		kv:            backend,
		maxSessionAge: 30 * 24 * time.Hour,
		nowTime:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's clock reading
func (s *Store) Now() time.Time {
	return s.nowTime()
}

// KV exposes the backend so the refresh lock shares the session keyspace
func (s *Store) KV() kv.Store {
	return s.kv
}

// unavailable marks a backend failure so callers can answer "retry" instead of "log in again"
func unavailable(err error, format string, args ...any) error {
	return apperrors.Wrapf(apperrors.Join(apperrors.ErrServiceUnavailable, err), format, args...)
}

// readFailure keeps undecodable records apart from backend outages; retrying cannot fix them
func readFailure(err error, format string, args ...any) error {
	if apperrors.Is(err, apperrors.ErrInternal) {
		return apperrors.Wrapf(err, format, args...)
	}
	return unavailable(err, format, args...)
}

func corrupt(err error) error {
	return apperrors.Wrapf(apperrors.Join(apperrors.ErrInternal, err), "decode stored record")
}

// Create stores a new session and its token pair for userID
func (s *Store) Create(ctx context.Context, userID string, tokens TokenResponse) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("[sessions Create] failed to generate session id: %w", err)
	}

	now := s.nowTime()
	session := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.maxSessionAge),
	}
	pair := StoredTokenPair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}

	if err := s.putJSON(ctx, tokensKey(id), pair); err != nil {
		return nil, unavailable(err, "[sessions Create] store tokens")
	}
	if err := s.putJSON(ctx, sessionKey(id), session); err != nil {
		s.cleanup(ctx, tokensKey(id))
		return nil, unavailable(err, "[sessions Create] store session")
	}
	if err := s.kv.SAdd(ctx, userSessionsKey(userID), id); err != nil {
		s.cleanup(ctx, tokensKey(id), sessionKey(id))
		return nil, unavailable(err, "[sessions Create] index session")
	}

	log.Info().Str("user_id", userID).Str("session_id", redact(id)).Msg("Session created")
	return session, nil
}

// Get returns the session or nil when it does not exist
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var session Session
	found, err := s.getJSON(ctx, sessionKey(id), &session)
	if err != nil {
		return nil, readFailure(err, "[sessions Get] %s", redact(id))
	}
	if !found {
		return nil, nil
	}
	return &session, nil
}

// GetTokens returns the session's token pair or nil when it does not exist
func (s *Store) GetTokens(ctx context.Context, id string) (*StoredTokenPair, error) {
	var pair StoredTokenPair
	found, err := s.getJSON(ctx, tokensKey(id), &pair)
	if err != nil {
		return nil, readFailure(err, "[sessions GetTokens] %s", redact(id))
	}
	if !found {
		return nil, nil
	}
	return &pair, nil
}

// UpdateTokens overwrites the token pair, keeping the stored refresh token
// when the response does not carry a new one. It refuses to write tokens for
// a session that no longer exists.
func (s *Store) UpdateTokens(ctx context.Context, id string, tokens TokenResponse) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return apperrors.Wrapf(apperrors.ErrSessionNotFound, "[sessions UpdateTokens] %s", redact(id))
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		existing, err := s.GetTokens(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			refreshToken = existing.RefreshToken
		}
	}

	pair := StoredTokenPair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    s.nowTime().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	if err := s.putJSON(ctx, tokensKey(id), pair); err != nil {
		return unavailable(err, "[sessions UpdateTokens] %s", redact(id))
	}
	return nil
}

// Destroy removes the session, its tokens, any staged token and the user index entry.
// Destroying an unknown session is a no-op.
func (s *Store) Destroy(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.kv.Del(ctx, sessionKey(id), tokensKey(id), initialTokenKey(id)); err != nil {
		return unavailable(err, "[sessions Destroy] %s", redact(id))
	}
	if session != nil {
		if err := s.kv.SRem(ctx, userSessionsKey(session.UserID), id); err != nil {
			log.Warn().Err(err).Str("user_id", session.UserID).Msg("Failed to remove session from user index")
		}
		log.Info().Str("user_id", session.UserID).Str("session_id", redact(id)).Msg("Session destroyed")
	}
	return nil
}

// ListUserSessions returns the ids of all sessions owned by userID
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.kv.SMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return nil, unavailable(err, "[sessions ListUserSessions] %s", userID)
	}
	return ids, nil
}

// StageInitialToken parks the callback's access token for a single pickup within ttl
func (s *Store) StageInitialToken(ctx context.Context, id, accessToken string, expiresIn int, ttl time.Duration) error {
	staged := InitialToken{
		AccessToken: accessToken,
		ExpiresAt:   s.nowTime().Add(time.Duration(expiresIn) * time.Second),
	}
	data, err := json.Marshal(staged)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, initialTokenKey(id), string(data), ttl); err != nil {
		return unavailable(err, "[sessions StageInitialToken] %s", redact(id))
	}
	return nil
}

// ClaimInitialToken returns the staged token and deletes it, or nil if it was
// never staged, already claimed or expired.
func (s *Store) ClaimInitialToken(ctx context.Context, id string) (*InitialToken, error) {
	raw, err := s.kv.GetDel(ctx, initialTokenKey(id))
	if apperrors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "[sessions ClaimInitialToken] %s", redact(id))
	}

	var staged InitialToken
	if err := json.Unmarshal([]byte(raw), &staged); err != nil {
		return nil, apperrors.Wrapf(corrupt(err), "[sessions ClaimInitialToken] %s", redact(id))
	}
	return &staged, nil
}

// Ping checks the backend
func (s *Store) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return unavailable(err, "[sessions Ping]")
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(data), 0)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if apperrors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, corrupt(err)
	}
	return true, nil
}

// cleanup removes partially written keys; failures are logged only
func (s *Store) cleanup(ctx context.Context, keys ...string) {
	if err := s.kv.Del(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("Failed to clean up partial session write")
	}
}

// generateSessionID creates a random base64url session identifier
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// redact keeps session ids out of logs in full
func redact(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:8] + "…"
}
