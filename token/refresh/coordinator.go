// Package refresh serialises upstream token refreshes per session across
// every server process sharing the session store.
package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/config"
	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Refresher performs the upstream refresh_token grant
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (sessions.TokenResponse, error)
}

// Result is a usable access token and its remaining lifetime in seconds
type Result struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// permanentGrantFailures are invalid_grant descriptions that mean the refresh token is dead
var permanentGrantFailures = []string{"revoked", "expired", "invalid"}

// Coordinator makes sure at most one caller refreshes a session's tokens at a time
type Coordinator struct {
	store          *sessions.Store
	upstream       Refresher
	locker         *Locker
	buffer         time.Duration
	lockWait       time.Duration
	maxLockRetries int
	sleep          func(context.Context, time.Duration) error
}

// Option modifies a Coordinator
type Option func(*Coordinator)

// WithLockWait sets the pause between lock attempts
func WithLockWait(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lockWait = d
	}
}

// WithMaxLockRetries sets how many times a caller waits on a held lock before giving up
func WithMaxLockRetries(n int) Option {
	return func(c *Coordinator) {
		c.maxLockRetries = n
	}
}

// WithSleep replaces the context-aware wait (primarily for testing)
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Coordinator) {
		c.sleep = sleep
	}
}

// NewCoordinator creates a Coordinator. The lock lives in the session store's backend.
func NewCoordinator(store *sessions.Store, upstream Refresher, cfg config.TokenConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		upstream:       upstream,
		locker:         NewLocker(store.KV(), cfg.GetRefreshLockTTL()),
		buffer:         cfg.GetExpiryBuffer(),
		lockWait:       cfg.GetRefreshLockWait(),
		maxLockRetries: cfg.GetMaxLockRetries(),
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExpiryBuffer is the remaining lifetime below which a token is refreshed
func (c *Coordinator) ExpiryBuffer() time.Duration {
	return c.buffer
}

// Refresh returns a token valid beyond the expiry buffer, calling upstream
// only when no other caller has already done so.
func (c *Coordinator) Refresh(ctx context.Context, sessionID string) (*Result, error) {
	session, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound
	}

	pair, err := c.store.GetTokens(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if pair.ValidFor(c.store.Now(), c.buffer) {
		return c.result(pair), nil
	}

	for attempt := 0; ; attempt++ {
		lock, acquired, err := c.locker.Acquire(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if acquired {
			return c.refreshLocked(ctx, sessionID, lock)
		}

		if attempt >= c.maxLockRetries {
			log.Warn().Int("attempts", attempt+1).Msg("Gave up waiting for refresh lock")
			return nil, apperrors.Wrapf(apperrors.ErrTemporaryRefreshFailure, "[refresh] lock still held after %d attempts", attempt+1)
		}
		if err := c.sleep(ctx, c.lockWait); err != nil {
			return nil, err
		}

		// Another holder may have finished the job while we waited
		pair, err = c.store.GetTokens(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if pair == nil {
			return nil, apperrors.ErrSessionNotFound
		}
		if pair.ValidFor(c.store.Now(), c.buffer) {
			return c.result(pair), nil
		}
	}
}

func (c *Coordinator) refreshLocked(ctx context.Context, sessionID string, lock *Lock) (*Result, error) {
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release refresh lock")
		}
	}()

	pair, err := c.store.GetTokens(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if pair.ValidFor(c.store.Now(), c.buffer) {
		return c.result(pair), nil
	}
	if pair.RefreshToken == "" {
		c.destroy(ctx, sessionID)
		return nil, apperrors.Wrapf(apperrors.ErrReauthRequired, "[refresh] session has no refresh token")
	}

	resp, err := c.upstream.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return nil, c.classify(ctx, sessionID, err)
	}
	if err := c.store.UpdateTokens(ctx, sessionID, resp); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionNotFound) {
			log.Info().Msg("Session logged out during refresh, discarding new token")
		}
		return nil, err
	}

	// A logout landing between the existence check and the write leaves an orphaned pair
	session, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		log.Info().Msg("Session logged out during refresh, discarding new token")
		c.destroy(ctx, sessionID)
		return nil, apperrors.ErrSessionNotFound
	}

	log.Debug().Int("expires_in", resp.ExpiresIn).Bool("rotated", resp.RefreshToken != "").Msg("Refreshed upstream token")
	return &Result{AccessToken: resp.AccessToken, ExpiresIn: resp.ExpiresIn}, nil
}

// classify turns an upstream failure into the caller-facing taxonomy. Only
// invalid_grant responses are interpreted; everything else propagates.
func (c *Coordinator) classify(ctx context.Context, sessionID string, err error) error {
	var rErr *oauth2.RetrieveError
	if !apperrors.As(err, &rErr) || rErr.ErrorCode != "invalid_grant" {
		log.Err(err).Msg("Upstream refresh failed")
		return fmt.Errorf("[refresh] upstream refresh failed: %w", err)
	}

	desc := strings.ToLower(rErr.ErrorDescription)
	for _, marker := range permanentGrantFailures {
		if strings.Contains(desc, marker) {
			log.Warn().Str("description", rErr.ErrorDescription).Msg("Refresh token rejected permanently, destroying session")
			c.destroy(ctx, sessionID)
			return apperrors.Wrapf(apperrors.ErrReauthRequired, "[refresh] invalid_grant: %s", rErr.ErrorDescription)
		}
	}

	log.Warn().Str("description", rErr.ErrorDescription).Msg("invalid_grant without a permanent cause, keeping session")
	return apperrors.Wrapf(apperrors.ErrTemporaryRefreshFailure, "[refresh] invalid_grant: %s", rErr.ErrorDescription)
}

func (c *Coordinator) destroy(ctx context.Context, sessionID string) {
	if err := c.store.Destroy(context.WithoutCancel(ctx), sessionID); err != nil {
		log.Err(err).Msg("Failed to destroy session after refresh rejection")
	}
}

func (c *Coordinator) result(pair *sessions.StoredTokenPair) *Result {
	return &Result{AccessToken: pair.AccessToken, ExpiresIn: pair.ExpiresIn(c.store.Now())}
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
