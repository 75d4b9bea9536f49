package spotify_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/jrsteele09/spotify-session-server/spotify"
	"github.com/jrsteele09/spotify-session-server/spotify/spotifyfake"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testRedirectURL = "http://localhost:8080/callback"

func TestNewProvider(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		p, err := spotify.NewProvider(spotify.Config{ClientID: "id", ClientSecret: "secret", RedirectURL: testRedirectURL})
		require.NoError(t, err)
		require.NotNil(t, p)
	})

	t.Run("missing client id", func(t *testing.T) {
		_, err := spotify.NewProvider(spotify.Config{ClientSecret: "secret", RedirectURL: testRedirectURL})
		require.Error(t, err)
		require.Contains(t, err.Error(), "client id")
	})

	t.Run("missing client secret", func(t *testing.T) {
		_, err := spotify.NewProvider(spotify.Config{ClientID: "id", RedirectURL: testRedirectURL})
		require.Error(t, err)
		require.Contains(t, err.Error(), "client secret")
	})
}

func TestProvider_AuthCodeURL(t *testing.T) {
	p, err := spotify.NewProvider(spotify.Config{
		ClientID:     "test_client_id",
		ClientSecret: "secret",
		RedirectURL:  testRedirectURL,
		Scopes:       []string{"user-read-private", "user-modify-playback-state"},
	})
	require.NoError(t, err)

	verifier := oauth2.GenerateVerifier()
	raw := p.AuthCodeURL("test_state", verifier)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "accounts.spotify.com", u.Host)

	q := u.Query()
	require.Equal(t, "test_client_id", q.Get("client_id"))
	require.Equal(t, "test_state", q.Get("state"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.NotContains(t, raw, verifier)
	require.Equal(t, "user-read-private user-modify-playback-state", q.Get("scope"))
}

func TestProvider_ExchangeRefreshAndProfile(t *testing.T) {
	ctx := context.Background()
	fake := spotifyfake.New(t)
	p, err := spotify.NewProvider(fake.Config(testRedirectURL))
	require.NoError(t, err)

	verifier := oauth2.GenerateVerifier()
	u, err := url.Parse(p.AuthCodeURL("s", verifier))
	require.NoError(t, err)
	code := fake.AuthorizeCode(u.Query().Get("code_challenge"))

	tokens, err := p.Exchange(ctx, code, verifier)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.InDelta(t, 3600, tokens.ExpiresIn, 2)

	userID, err := p.CurrentUserID(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, spotifyfake.UserID, userID)

	t.Run("refresh without rotation reports no refresh token", func(t *testing.T) {
		refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
		require.Empty(t, refreshed.RefreshToken)
	})

	t.Run("refresh with rotation returns the new refresh token", func(t *testing.T) {
		fake.SetRotateRefreshTokens(true)
		defer fake.SetRotateRefreshTokens(false)

		refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.RefreshToken)
		require.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)
	})

	require.Equal(t, 2, fake.RefreshCalls())
}

func TestProvider_ExchangeWrongVerifier(t *testing.T) {
	fake := spotifyfake.New(t)
	p, err := spotify.NewProvider(fake.Config(testRedirectURL))
	require.NoError(t, err)

	verifier := oauth2.GenerateVerifier()
	u, err := url.Parse(p.AuthCodeURL("s", verifier))
	require.NoError(t, err)
	code := fake.AuthorizeCode(u.Query().Get("code_challenge"))

	_, err = p.Exchange(context.Background(), code, oauth2.GenerateVerifier())
	require.Error(t, err)
}

func TestProvider_RefreshErrorIsInspectable(t *testing.T) {
	fake := spotifyfake.New(t)
	fake.FailRefreshWith(http.StatusBadRequest, "invalid_grant", "Refresh token revoked")
	p, err := spotify.NewProvider(fake.Config(testRedirectURL))
	require.NoError(t, err)

	_, err = p.Refresh(context.Background(), "refresh-x")
	require.Error(t, err)

	var rErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &rErr))
	require.Equal(t, "invalid_grant", rErr.ErrorCode)
	require.Equal(t, "Refresh token revoked", rErr.ErrorDescription)
}

func TestProvider_CurrentUserIDRejected(t *testing.T) {
	fake := spotifyfake.New(t)
	p, err := spotify.NewProvider(fake.Config(testRedirectURL))
	require.NoError(t, err)

	_, err = p.CurrentUserID(context.Background(), "not-issued")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}
