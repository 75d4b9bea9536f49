package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateCookie(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newStateCookie([]byte("secret"), 5*time.Minute, true, clock)

	rec := httptest.NewRecorder()
	require.NoError(t, c.set(rec, "state-1"))
	cookie := rec.Result().Cookies()[0]
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	request := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/callback", nil)
		r.AddCookie(cookie)
		return r
	}

	require.NoError(t, c.verify(request(), "state-1"))
	require.Error(t, c.verify(request(), "state-2"))
	require.Error(t, c.verify(request(), ""))

	t.Run("other key", func(t *testing.T) {
		other := newStateCookie([]byte("different"), 5*time.Minute, true, clock)
		require.Error(t, other.verify(request(), "state-1"))
	})

	t.Run("expired", func(t *testing.T) {
		now = now.Add(5*time.Minute + time.Second)
		require.Error(t, c.verify(request(), "state-1"))
	})
}

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 2, func() time.Time { return now })

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	require.True(t, l.Allow("a"))

	// Idle visitors are swept
	now = now.Add(idleLimiterTTL + 2*time.Minute)
	require.True(t, l.Allow("c"))
	require.Len(t, l.visitors, 1)
}

func TestClientIP(t *testing.T) {
	trusted, err := parseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		forwarded string
		trusted   []netip.Prefix
		want      string
	}{
		{"no proxies trusted ignores header", "198.51.100.7:4000", "203.0.113.1", nil, "198.51.100.7"},
		{"untrusted peer ignores header", "198.51.100.7:4000", "203.0.113.1", trusted, "198.51.100.7"},
		{"trusted peer uses forwarded client", "192.0.2.1:4000", "203.0.113.1", trusted, "203.0.113.1"},
		{"spoofed left-most hop is skipped", "192.0.2.1:4000", "1.2.3.4, 203.0.113.1", trusted, "203.0.113.1"},
		{"trusted hops are skipped", "192.0.2.1:4000", "203.0.113.1, 10.1.2.3", trusted, "203.0.113.1"},
		{"trusted peer without header", "192.0.2.1:4000", "", trusted, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			require.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := parseTrustedProxies([]string{"10.1.2.3/8", "::1"})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/8", prefixes[0].String())
	require.Equal(t, "::1/128", prefixes[1].String())

	_, err = parseTrustedProxies([]string{"not-an-ip"})
	require.Error(t, err)
}
