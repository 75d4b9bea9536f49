package sessions

import (
	"time"
)

// Session is the server-side record behind an opaque session id.
// The id is the only credential handed to the browser.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"` // Informational; sessions end on logout or revocation
}

// StoredTokenPair is the upstream OAuth token pair owned by one session
type StoredTokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidFor reports whether the access token is still usable at now with at least buffer remaining
func (p *StoredTokenPair) ValidFor(now time.Time, buffer time.Duration) bool {
	if p == nil || p.AccessToken == "" {
		return false
	}
	return p.ExpiresAt.After(now.Add(buffer))
}

// ExpiresIn returns the whole seconds of validity left at now, never negative
func (p *StoredTokenPair) ExpiresIn(now time.Time) int {
	secs := int(p.ExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// TokenResponse is a normalised upstream token endpoint response.
// RefreshToken is empty when the provider did not rotate it.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}

// InitialToken is the access token staged by the OAuth callback for one-time pickup
type InitialToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
