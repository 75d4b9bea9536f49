package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	SpotifyConfig
	TokenConfig
	SecurityConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetFrontendURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type SpotifyConfig interface {
	GetSpotifyClientID() string
	GetSpotifyClientSecret() string
	GetSpotifyRedirectURL() string
	GetSpotifyScopes() []string
	GetUpstreamTimeout() time.Duration
}

type StoreConfig interface {
	GetKVBackend() string
	GetRedisURL() string
	GetRedisPassword() string
	GetRedisDB() int
	GetKeyPrefix() string
}

type mainConfig struct {
	EnvVars
	Cors
	Spotify
	Token
	Security
	Store
}

func New() Config {
	return mainConfig{}
}
