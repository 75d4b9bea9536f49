package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, v := range []string{"PORT", "ENV", "BASE_URL", "FRONTEND_URL", "SPOTIFY_REDIRECT_URI", "SPOTIFY_SCOPES",
		"KV_BACKEND", "REDIS_URL", "RATE_LIMIT_RPS", "MAX_SESSION_AGE", "REFRESH_LOCK_MAX_RETRIES", "ALLOWED_ORIGINS"} {
		t.Setenv(v, "")
	}
	cfg := config.New()

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.False(t, cfg.IsSecureCookies())
	require.Equal(t, "http://localhost:8080/callback", cfg.GetSpotifyRedirectURL())
	require.Contains(t, cfg.GetSpotifyScopes(), "streaming")
	require.Equal(t, "redis", cfg.GetKVBackend())
	require.Equal(t, "localhost:6379", cfg.GetRedisURL())
	require.True(t, cfg.GetEnableRateLimiting())
	require.Equal(t, 30*24*time.Hour, cfg.GetMaxSessionAge())
	require.Equal(t, 50, cfg.GetMaxLockRetries())
	require.Equal(t, 5*time.Minute, cfg.GetExpiryBuffer())
	require.Equal(t, 10*time.Second, cfg.GetRefreshLockTTL())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("http://localhost:5173"))
}

func TestPortPrefix(t *testing.T) {
	t.Setenv("PORT", "9090")
	require.Equal(t, ":9090", config.New().GetPort())

	t.Setenv("PORT", ":7070")
	require.Equal(t, ":7070", config.New().GetPort())
}

func TestRedirectURLFollowsBaseURL(t *testing.T) {
	t.Setenv("SPOTIFY_REDIRECT_URI", "")
	t.Setenv("BASE_URL", "https://api.example.com/")

	require.Equal(t, "https://api.example.com/callback", config.New().GetSpotifyRedirectURL())
}

func TestScopesFromEnv(t *testing.T) {
	t.Setenv("SPOTIFY_SCOPES", "user-read-email  streaming")

	require.Equal(t, []string{"user-read-email", "streaming"}, config.New().GetSpotifyScopes())
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://app.example.com/")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	origins := config.New().GetAllowedOrigins()
	require.Len(t, origins, 3)
	require.True(t, origins.IsAllowedOrigin("https://app.example.com"))
	require.True(t, origins.IsAllowedOrigin("https://b.example.com"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example.com"))
}

func TestRateLimitDisabledByZero(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "0")

	require.False(t, config.New().GetEnableRateLimiting())
}

func TestSecureCookiesOutsideDev(t *testing.T) {
	t.Setenv("ENV", "PROD")

	require.True(t, config.New().IsSecureCookies())
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_SESSION_AGE", "forever")
	t.Setenv("REFRESH_LOCK_MAX_RETRIES", "many")
	t.Setenv("RATE_LIMIT_BURST", "lots")

	cfg := config.New()
	require.Equal(t, 30*24*time.Hour, cfg.GetMaxSessionAge())
	require.Equal(t, 50, cfg.GetMaxLockRetries())
	require.Equal(t, 20, cfg.GetRateLimitBurst())
}

func TestDurationFromEnv(t *testing.T) {
	t.Setenv("MAX_SESSION_AGE", "720h")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")

	cfg := config.New()
	require.Equal(t, 720*time.Hour, cfg.GetMaxSessionAge())
	require.Equal(t, 3*time.Second, cfg.GetUpstreamTimeout())
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	require.Empty(t, config.New().GetTrustedProxies())

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.1")
	require.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, config.New().GetTrustedProxies())
}
