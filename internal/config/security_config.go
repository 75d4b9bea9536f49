package config

import "strings"

type SecurityConfig interface {
	GetStateCookieSecret() string
	GetEnableRateLimiting() bool
	GetRateLimit() float64
	GetRateLimitBurst() int
	IsSecureCookies() bool
	GetTrustedProxies() []string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetStateCookieSecret returns the HMAC key for the OAuth state cookie.
// An empty value makes the server generate a per-process key.
func (Security) GetStateCookieSecret() string {
	return GetEnv("STATE_COOKIE_SECRET", "")
}

func (Security) GetEnableRateLimiting() bool {
	return GetEnvAsFloat("RATE_LIMIT_RPS", 5) > 0
}

// GetRateLimit is the sustained requests per second allowed per client IP on auth routes
func (Security) GetRateLimit() float64 {
	return GetEnvAsFloat("RATE_LIMIT_RPS", 5)
}

func (Security) GetRateLimitBurst() int {
	return GetEnvAsInt("RATE_LIMIT_BURST", 20)
}

func (Security) IsSecureCookies() bool {
	return EnvVars{}.GetEnv() != "DEV"
}

// GetTrustedProxies lists the comma separated TRUSTED_PROXIES (IPs or CIDRs)
// whose X-Forwarded-For header is believed. Empty means none.
func (Security) GetTrustedProxies() []string {
	var proxies []string
	for _, proxy := range strings.Split(GetEnv("TRUSTED_PROXIES", ""), ",") {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	return proxies
}
