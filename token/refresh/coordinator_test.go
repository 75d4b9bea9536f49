package refresh_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/config"
	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/jrsteele09/spotify-session-server/internal/kv/kvfake"
	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/jrsteele09/spotify-session-server/spotify"
	"github.com/jrsteele09/spotify-session-server/spotify/spotifyfake"
	"github.com/jrsteele09/spotify-session-server/token/refresh"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	fake        *spotifyfake.Server
	backend     kv.Store
	store       *sessions.Store
	coordinator *refresh.Coordinator
}

func newFixture(t *testing.T, backend kv.Store, now func() time.Time, opts ...refresh.Option) *fixture {
	t.Helper()

	fake := spotifyfake.New(t)
	provider, err := spotify.NewProvider(fake.Config("http://localhost:8080/callback"))
	require.NoError(t, err)

	storeOpts := []sessions.StoreOption{}
	if now != nil {
		storeOpts = append(storeOpts, sessions.WithNowTime(now))
	}
	store := sessions.NewStore(backend, storeOpts...)

	return &fixture{
		fake:        fake,
		backend:     backend,
		store:       store,
		coordinator: refresh.NewCoordinator(store, provider, config.Token{}, opts...),
	}
}

func (f *fixture) createSession(t *testing.T, expiresIn int) *sessions.Session {
	t.Helper()
	session, err := f.store.Create(context.Background(), "user-1", sessions.TokenResponse{
		AccessToken:  "initial-access",
		RefreshToken: "initial-refresh",
		ExpiresIn:    expiresIn,
	})
	require.NoError(t, err)
	return session
}

func TestCoordinator_ValidTokenSkipsUpstream(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)
	session := f.createSession(t, 3600)

	result, err := f.coordinator.Refresh(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, "initial-access", result.AccessToken)
	require.InDelta(t, 3600, result.ExpiresIn, 2)
	require.Equal(t, 0, f.fake.RefreshCalls())
}

func TestCoordinator_RefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, kv.NewMemoryStore(), nil)
	session := f.createSession(t, 0)

	result, err := f.coordinator.Refresh(ctx, session.ID)
	require.NoError(t, err)
	require.NotEqual(t, "initial-access", result.AccessToken)
	require.Equal(t, 3600, result.ExpiresIn)
	require.Equal(t, 1, f.fake.RefreshCalls())

	tokens, err := f.store.GetTokens(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, result.AccessToken, tokens.AccessToken)
	require.Equal(t, "initial-refresh", tokens.RefreshToken)

	_, err = f.backend.Get(ctx, sessions.RefreshLockKey(session.ID))
	require.ErrorIs(t, err, kv.ErrNotFound)

	// Now within validity: served from the store
	again, err := f.coordinator.Refresh(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, result.AccessToken, again.AccessToken)
	require.Equal(t, 1, f.fake.RefreshCalls())
}

func TestCoordinator_StoresRotatedRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, kv.NewMemoryStore(), nil)
	f.fake.SetRotateRefreshTokens(true)
	session := f.createSession(t, 0)

	_, err := f.coordinator.Refresh(ctx, session.ID)
	require.NoError(t, err)

	tokens, err := f.store.GetTokens(ctx, session.ID)
	require.NoError(t, err)
	require.NotEqual(t, "initial-refresh", tokens.RefreshToken)
	require.NotEmpty(t, tokens.RefreshToken)
}

func TestCoordinator_ConcurrentRefreshCallsUpstreamOnce(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil, refresh.WithLockWait(20*time.Millisecond))
	f.fake.SetRefreshDelay(100 * time.Millisecond)
	session := f.createSession(t, 0)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*refresh.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coordinator.Refresh(context.Background(), session.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].AccessToken, results[i].AccessToken)
	}
	require.NotEqual(t, "initial-access", results[0].AccessToken)
	require.Equal(t, 1, f.fake.RefreshCalls())
}

func TestCoordinator_CrashedHolderLockExpires(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := kv.NewMemoryStore(kv.WithNowTime(clock.Now))
	f := newFixture(t, backend, clock.Now,
		refresh.WithMaxLockRetries(2),
		refresh.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	session := f.createSession(t, 0)

	// A holder that died without releasing
	_, acquired, err := refresh.NewLocker(backend, 10*time.Second).Acquire(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, acquired)

	clock.Advance(9 * time.Second)
	_, err = f.coordinator.Refresh(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrTemporaryRefreshFailure)
	require.Equal(t, 0, f.fake.RefreshCalls())

	clock.Advance(2 * time.Second)
	result, err := f.coordinator.Refresh(ctx, session.ID)
	require.NoError(t, err)
	require.NotEqual(t, "initial-access", result.AccessToken)
	require.Equal(t, 1, f.fake.RefreshCalls())
}

func TestCoordinator_WaiterPicksUpHolderResult(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemoryStore()
	var f *fixture
	var session *sessions.Session
	sleeps := 0
	f = newFixture(t, backend, nil, refresh.WithSleep(func(context.Context, time.Duration) error {
		sleeps++
		// The other holder finishes while we wait
		return f.store.UpdateTokens(ctx, session.ID, sessions.TokenResponse{AccessToken: "from-holder", ExpiresIn: 3600})
	}))
	session = f.createSession(t, 0)

	_, acquired, err := refresh.NewLocker(backend, 10*time.Second).Acquire(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, acquired)

	result, err := f.coordinator.Refresh(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "from-holder", result.AccessToken)
	require.Equal(t, 1, sleeps)
	require.Equal(t, 0, f.fake.RefreshCalls())
}

func TestCoordinator_InvalidGrantClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		code          string
		description   string
		wantErr       error
		wantDestroyed bool
	}{
		{"revoked", http.StatusBadRequest, "invalid_grant", "Refresh token revoked", apperrors.ErrReauthRequired, true},
		{"expired", http.StatusBadRequest, "invalid_grant", "Token EXPIRED", apperrors.ErrReauthRequired, true},
		{"invalid", http.StatusBadRequest, "invalid_grant", "Invalid refresh token", apperrors.ErrReauthRequired, true},
		{"unrelated description", http.StatusBadRequest, "invalid_grant", "Bad request", apperrors.ErrTemporaryRefreshFailure, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, kv.NewMemoryStore(), nil)
			f.fake.FailRefreshWith(tt.status, tt.code, tt.description)
			session := f.createSession(t, 0)

			_, err := f.coordinator.Refresh(ctx, session.ID)
			require.ErrorIs(t, err, tt.wantErr)

			got, err := f.store.Get(ctx, session.ID)
			require.NoError(t, err)
			if tt.wantDestroyed {
				require.Nil(t, got)
				ids, err := f.store.ListUserSessions(ctx, "user-1")
				require.NoError(t, err)
				require.Empty(t, ids)
			} else {
				require.NotNil(t, got)
			}

			_, err = f.backend.Get(ctx, sessions.RefreshLockKey(session.ID))
			require.ErrorIs(t, err, kv.ErrNotFound)
		})
	}
}

func TestCoordinator_OtherUpstreamErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, kv.NewMemoryStore(), nil)
	f.fake.FailRefreshWith(http.StatusInternalServerError, "server_error", "upstream down")
	session := f.createSession(t, 0)

	_, err := f.coordinator.Refresh(ctx, session.ID)
	require.Error(t, err)
	require.False(t, apperrors.Is(err, apperrors.ErrReauthRequired))
	require.False(t, apperrors.Is(err, apperrors.ErrTemporaryRefreshFailure))

	got, err := f.store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCoordinator_UnknownSession(t *testing.T) {
	f := newFixture(t, kv.NewMemoryStore(), nil)

	_, err := f.coordinator.Refresh(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestCoordinator_StoreUnavailable(t *testing.T) {
	backend := kvfake.NewFlakyStore()
	f := newFixture(t, backend, nil)
	session := f.createSession(t, 0)
	backend.SetDown(true)

	_, err := f.coordinator.Refresh(context.Background(), session.ID)
	require.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	require.Equal(t, 0, f.fake.RefreshCalls())
}

func TestLocker_ReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := kv.NewMemoryStore(kv.WithNowTime(clock.Now))
	locker := refresh.NewLocker(backend, 10*time.Second)

	first, acquired, err := locker.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.False(t, acquired)

	clock.Advance(11 * time.Second)
	second, acquired, err := locker.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.True(t, acquired)

	// The expired holder must not free the new holder's lock
	require.NoError(t, first.Release(ctx))
	_, acquired, err = locker.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.False(t, acquired)

	require.NoError(t, second.Release(ctx))
	_, acquired, err = locker.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.True(t, acquired)
}

type refresherFunc func(ctx context.Context, refreshToken string) (sessions.TokenResponse, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (sessions.TokenResponse, error) {
	return f(ctx, refreshToken)
}

func TestCoordinator_LogoutDuringUpstreamRefresh(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewStore(kv.NewMemoryStore())
	session, err := store.Create(ctx, "user-1", sessions.TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 0})
	require.NoError(t, err)

	upstream := refresherFunc(func(ctx context.Context, _ string) (sessions.TokenResponse, error) {
		require.NoError(t, store.Destroy(ctx, session.ID))
		return sessions.TokenResponse{AccessToken: "after-logout", ExpiresIn: 3600}, nil
	})
	coordinator := refresh.NewCoordinator(store, upstream, config.Token{})

	_, err = coordinator.Refresh(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	tokens, err := store.GetTokens(ctx, session.ID)
	require.NoError(t, err)
	require.Nil(t, tokens)

	_, err = coordinator.Refresh(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

// logoutBeforeTokenWrite destroys the session just before the token pair is written
type logoutBeforeTokenWrite struct {
	kv.Store
	store *sessions.Store
	armed bool
}

func (l *logoutBeforeTokenWrite) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if l.armed && strings.HasSuffix(key, ":tokens") {
		l.armed = false
		if err := l.store.Destroy(ctx, strings.TrimSuffix(strings.TrimPrefix(key, "session:"), ":tokens")); err != nil {
			return err
		}
	}
	return l.Store.Set(ctx, key, value, ttl)
}

func TestCoordinator_LogoutDuringTokenWriteLeavesNoOrphan(t *testing.T) {
	ctx := context.Background()
	backend := &logoutBeforeTokenWrite{Store: kv.NewMemoryStore()}
	store := sessions.NewStore(backend)
	backend.store = store
	session, err := store.Create(ctx, "user-1", sessions.TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 0})
	require.NoError(t, err)

	upstream := refresherFunc(func(context.Context, string) (sessions.TokenResponse, error) {
		backend.armed = true
		return sessions.TokenResponse{AccessToken: "after-logout", ExpiresIn: 3600}, nil
	})
	coordinator := refresh.NewCoordinator(store, upstream, config.Token{})

	_, err = coordinator.Refresh(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	tokens, err := store.GetTokens(ctx, session.ID)
	require.NoError(t, err)
	require.Nil(t, tokens)
}

func TestCoordinator_DelayedRefreshRacingLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, kv.NewMemoryStore(), nil)
	f.fake.SetRefreshDelay(300 * time.Millisecond)
	session := f.createSession(t, 0)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(ctx, session.ID)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.store.Destroy(ctx, session.ID))
	require.ErrorIs(t, <-errCh, apperrors.ErrSessionNotFound)

	tokens, err := f.store.GetTokens(ctx, session.ID)
	require.NoError(t, err)
	require.Nil(t, tokens)

	_, err = f.coordinator.Refresh(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
