package config

import (
	"strings"
	"time"
)

var defaultSpotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"playlist-read-private",
	"playlist-read-collaborative",
	"streaming",
}

type Spotify struct{}

var _ SpotifyConfig = Spotify{}

func (Spotify) GetSpotifyClientID() string {
	return GetEnv("SPOTIFY_CLIENT_ID", "")
}

func (Spotify) GetSpotifyClientSecret() string {
	return GetEnv("SPOTIFY_CLIENT_SECRET", "")
}

func (Spotify) GetSpotifyRedirectURL() string {
	return GetEnv("SPOTIFY_REDIRECT_URI", EnvVars{}.GetBaseURL()+"/callback")
}

// GetSpotifyScopes returns the space separated SPOTIFY_SCOPES or the playback scope set
func (Spotify) GetSpotifyScopes() []string {
	scopes := strings.Fields(GetEnv("SPOTIFY_SCOPES", ""))
	if len(scopes) == 0 {
		return append([]string(nil), defaultSpotifyScopes...)
	}
	return scopes
}

// GetUpstreamTimeout bounds every HTTP round trip to accounts.spotify.com and api.spotify.com
func (Spotify) GetUpstreamTimeout() time.Duration {
	return GetEnvAsDuration("UPSTREAM_TIMEOUT", 10*time.Second)
}
