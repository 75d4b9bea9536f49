// Package spotify talks to Spotify's accounts service: authorization URLs,
// code and refresh-token exchanges, and the current user's id.
//
// Endpoints are documented at https://developer.spotify.com/documentation/web-api/tutorials/code-pkce-flow
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/spotify-session-server/sessions"
	"golang.org/x/oauth2"
)

const (
	AuthURL  = "https://accounts.spotify.com/authorize"
	TokenURL = "https://accounts.spotify.com/api/token"
	APIURL   = "https://api.spotify.com/v1"
)

// defaultExpiresIn applies when a token response carries no expiry (Spotify always sends 3600)
const defaultExpiresIn = 3600

// Config holds the registered Spotify application's settings
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration

	// Overrides for tests; empty means the real Spotify endpoints
	AuthURL  string
	TokenURL string
	APIURL   string
}

// Provider performs token exchanges against Spotify
type Provider struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
}

// NewProvider validates cfg and builds a Provider
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("missing spotify client id")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("missing spotify client secret")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("missing spotify redirect url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, AuthURL),
				TokenURL:  orDefault(cfg.TokenURL, TokenURL),
				AuthStyle: oauth2.AuthStyleInHeader, // HTTP basic auth with client credentials
			},
		},
		apiURL:     orDefault(cfg.APIURL, APIURL),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// AuthCodeURL builds the authorization URL for state with an S256 PKCE challenge derived from verifier
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code plus its PKCE verifier for a token pair
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (sessions.TokenResponse, error) {
	token, err := p.oauth.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return sessions.TokenResponse{}, fmt.Errorf("[spotify Exchange] %w", err)
	}
	return toTokenResponse(token), nil
}

// Refresh performs a refresh_token grant. Upstream rejections are returned as
// *oauth2.RetrieveError so callers can inspect the error code and description.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (sessions.TokenResponse, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return sessions.TokenResponse{}, fmt.Errorf("[spotify Refresh] %w", err)
	}

	resp := toTokenResponse(token)
	// The oauth2 package copies the old refresh token into the result when the
	// provider does not rotate it; report "not rotated" as empty.
	if resp.RefreshToken == refreshToken {
		resp.RefreshToken = ""
	}
	return resp, nil
}

type currentUser struct {
	ID string `json:"id"`
}

// CurrentUserID fetches the stable Spotify user id for accessToken
func (p *Provider) CurrentUserID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/me", nil)
	if err != nil {
		return "", fmt.Errorf("[spotify CurrentUserID] %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("[spotify CurrentUserID] request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("[spotify CurrentUserID] unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var user currentUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("[spotify CurrentUserID] decode: %w", err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("[spotify CurrentUserID] profile has no id")
	}
	return user.ID, nil
}

// clientContext makes the oauth2 package use the provider's bounded HTTP client
func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func toTokenResponse(token *oauth2.Token) sessions.TokenResponse {
	expiresIn := int(token.ExpiresIn)
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int(time.Until(token.Expiry).Round(time.Second).Seconds())
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return sessions.TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
