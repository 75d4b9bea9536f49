// Package tokencache keeps a client's Spotify access token fresh through the
// session server, sharing one refresh between concurrent callers.
package tokencache

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultExpiryBuffer   = 5 * time.Minute
	defaultDebounceWindow = 2 * time.Second
	maxRevokedFailures    = 3
)

var (
	revokedBackoff   = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	temporaryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}
)

// Backend is the session server API the cache depends on
type Backend interface {
	InitialToken(ctx context.Context, sessionID string) (*TokenResponse, error)
	Refresh(ctx context.Context, sessionID string) (*TokenResponse, error)
	Logout(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (*Status, error)
}

// refreshCall is one refresh shared by every caller that joins it
type refreshCall struct {
	done      chan struct{}
	token     string
	expiresAt time.Time
	err       error
}

// Cache holds the client's session id and access token
type Cache struct {
	backend Backend
	store   StateStore

	mu              sync.Mutex
	state           State
	pending         *refreshCall
	pendingStarted  time.Time
	revokedFailures int // consecutive revoked answers, reset by any success

	buffer         time.Duration
	debounce       time.Duration
	nowTime        func() time.Time
	sleep          func(context.Context, time.Duration) error
	onForcedLogout func()
}

// Option modifies a Cache
type Option func(*Cache)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Cache) {
		c.nowTime = nowFunc
	}
}

// WithSleep replaces the retry backoff wait (primarily for testing)
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Cache) {
		c.sleep = sleep
	}
}

func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Cache) {
		c.buffer = d
	}
}

func WithDebounceWindow(d time.Duration) Option {
	return func(c *Cache) {
		c.debounce = d
	}
}

// WithOnForcedLogout registers a hook run after repeated revoked refreshes clear the session
func WithOnForcedLogout(fn func()) Option {
	return func(c *Cache) {
		c.onForcedLogout = fn
	}
}

// New creates a Cache and restores any persisted state
func New(backend Backend, store StateStore, opts ...Option) (*Cache, error) {
	c := &Cache{
		backend:  backend,
		store:    store,
		buffer:   defaultExpiryBuffer,
		debounce: defaultDebounceWindow,
		nowTime:  time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	c.state = state
	return c, nil
}

// SessionID returns the current session id, empty when logged out
func (c *Cache) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SessionID
}

// GetAccessToken returns a token valid beyond the expiry buffer, refreshing
// through the server when needed. Callers arriving while a refresh started
// within the debounce window share its result.
func (c *Cache) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state.SessionID == "" {
		c.mu.Unlock()
		return "", apperrors.ErrNoActiveSession
	}

	now := c.nowTime()
	if c.state.AccessToken != "" && c.state.TokenExpiry.After(now.Add(c.buffer)) {
		token := c.state.AccessToken
		c.mu.Unlock()
		return token, nil
	}

	call := c.pending
	if call == nil || now.Sub(c.pendingStarted) >= c.debounce {
		call = c.startRefreshLocked(ctx, now)
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return "", call.err
		}
		return call.token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// startRefreshLocked launches a shared refresh. Callers hold c.mu.
func (c *Cache) startRefreshLocked(ctx context.Context, now time.Time) *refreshCall {
	call := &refreshCall{done: make(chan struct{})}
	c.pending = call
	c.pendingStarted = now

	// The refresh outlives any single caller's cancellation
	go c.runRefresh(context.WithoutCancel(ctx), c.state.SessionID, call)
	return call
}

func (c *Cache) runRefresh(ctx context.Context, sessionID string, call *refreshCall) {
	token, err := c.refreshWithRetry(ctx, sessionID)

	c.mu.Lock()
	if c.pending == call {
		c.pending = nil
	}
	if err == nil {
		call.token = token.AccessToken
		call.expiresAt = c.nowTime().Add(time.Duration(token.ExpiresIn) * time.Second)
		if c.state.SessionID == sessionID {
			c.state.AccessToken = call.token
			c.state.TokenExpiry = call.expiresAt
			c.persistLocked()
		}
	}
	call.err = err
	c.mu.Unlock()

	close(call.done)
}

func (c *Cache) refreshWithRetry(ctx context.Context, sessionID string) (*TokenResponse, error) {
	revokedRetries, temporaryRetries := 0, 0
	for {
		token, err := c.backend.Refresh(ctx, sessionID)
		if err == nil {
			c.mu.Lock()
			if c.state.SessionID == sessionID {
				c.revokedFailures = 0
			}
			c.mu.Unlock()
			return token, nil
		}

		switch {
		case IsRevoked(err):
			c.mu.Lock()
			if c.state.SessionID != sessionID {
				// Replaced by SetSession or Logout; the counter belongs to the new state
				c.mu.Unlock()
				return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrReauthRequired, err), "[tokencache] refresh of a replaced session")
			}
			c.revokedFailures++
			failures := c.revokedFailures
			c.mu.Unlock()

			if failures >= maxRevokedFailures {
				c.forceLogout(sessionID)
				return nil, apperrors.Wrapf(apperrors.ErrReauthRequired, "[tokencache] refresh rejected %d times", failures)
			}
			if revokedRetries >= len(revokedBackoff) {
				return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrReauthRequired, err), "[tokencache] refresh")
			}
			log.Warn().Err(err).Int("failures", failures).Dur("retry_in", revokedBackoff[revokedRetries]).Msg("Refresh rejected, retrying")
			if err := c.sleep(ctx, revokedBackoff[revokedRetries]); err != nil {
				return nil, err
			}
			revokedRetries++

		case IsTemporary(err):
			if temporaryRetries >= len(temporaryBackoff) {
				return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrTemporaryRefreshFailure, err), "[tokencache] refresh")
			}
			log.Warn().Err(err).Dur("retry_in", temporaryBackoff[temporaryRetries]).Msg("Refresh temporarily failed, retrying")
			if err := c.sleep(ctx, temporaryBackoff[temporaryRetries]); err != nil {
				return nil, err
			}
			temporaryRetries++

		default:
			return nil, apperrors.Wrapf(err, "[tokencache] refresh")
		}
	}
}

// forceLogout drops the session after the server has repeatedly refused it
func (c *Cache) forceLogout(sessionID string) {
	c.mu.Lock()
	if c.state.SessionID != sessionID {
		c.mu.Unlock()
		return
	}
	c.state = State{}
	c.revokedFailures = 0
	c.persistLocked()
	hook := c.onForcedLogout
	c.mu.Unlock()

	log.Warn().Msg("Session revoked, logged out")
	if hook != nil {
		hook()
	}
}

// SetSession adopts the session id delivered by the login callback and claims
// its initial token. A token already claimed elsewhere is not an error; the
// next GetAccessToken refreshes instead.
func (c *Cache) SetSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.state = State{SessionID: sessionID}
	c.pending = nil
	c.revokedFailures = 0
	c.persistLocked()
	c.mu.Unlock()

	token, err := c.backend.InitialToken(ctx, sessionID)
	if err != nil {
		var apiErr *APIError
		if apperrors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			log.Info().Msg("Initial token already claimed, will refresh on demand")
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SessionID == sessionID {
		c.state.AccessToken = token.AccessToken
		c.state.TokenExpiry = c.nowTime().Add(time.Duration(token.ExpiresIn) * time.Second)
		c.persistLocked()
	}
	return nil
}

// Logout tells the server to destroy the session and clears local state.
// The server call is best effort.
func (c *Cache) Logout(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.state.SessionID
	c.state = State{}
	c.pending = nil
	c.revokedFailures = 0
	err := c.store.Save(c.state)
	c.mu.Unlock()

	if sessionID != "" {
		if logoutErr := c.backend.Logout(ctx, sessionID); logoutErr != nil {
			log.Warn().Err(logoutErr).Msg("Server logout failed, local session cleared anyway")
		}
	}
	return err
}

// Status asks the server about the current session
func (c *Cache) Status(ctx context.Context) (*Status, error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return &Status{Authenticated: false}, nil
	}
	return c.backend.Status(ctx, sessionID)
}

// persistLocked saves state, logging failures. Callers hold c.mu.
func (c *Cache) persistLocked() {
	if err := c.store.Save(c.state); err != nil {
		log.Err(err).Msg("Failed to persist token cache state")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
