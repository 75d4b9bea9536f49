package config

import "time"

type TokenConfig interface {
	GetStateExpiry() time.Duration
	GetInitialTokenExpiry() time.Duration
	GetRefreshLockTTL() time.Duration
	GetRefreshLockWait() time.Duration
	GetMaxLockRetries() int
	GetExpiryBuffer() time.Duration
	GetMaxSessionAge() time.Duration
}

type Token struct{}

var _ TokenConfig = Token{}

// GetStateExpiry is how long a PKCE verifier waits for its callback
func (Token) GetStateExpiry() time.Duration {
	return 5 * time.Minute
}

// GetInitialTokenExpiry is how long the callback's access token waits to be claimed
func (Token) GetInitialTokenExpiry() time.Duration {
	return 5 * time.Minute
}

func (Token) GetRefreshLockTTL() time.Duration {
	return 10 * time.Second
}

func (Token) GetRefreshLockWait() time.Duration {
	return 200 * time.Millisecond
}

// GetMaxLockRetries caps lock contention waits; the default spans the lock TTL
func (Token) GetMaxLockRetries() int {
	return GetEnvAsInt("REFRESH_LOCK_MAX_RETRIES", 50)
}

func (Token) GetExpiryBuffer() time.Duration {
	return 5 * time.Minute
}

// GetMaxSessionAge sets Session.ExpiresAt. Sessions are not physically expired.
func (Token) GetMaxSessionAge() time.Duration {
	return GetEnvAsDuration("MAX_SESSION_AGE", 30*24*time.Hour)
}
