package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
)

const headerSessionID = "X-Session-ID"

// APIError is a non-2xx answer from the session server
type APIError struct {
	Status         int
	Code           string
	Message        string
	RequiresReauth bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session server returned %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("session server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsRevoked reports whether err means the session can no longer be refreshed
func IsRevoked(err error) bool {
	var apiErr *APIError
	if !apperrors.As(err, &apiErr) {
		return false
	}
	if apiErr.RequiresReauth {
		return true
	}
	switch apiErr.Code {
	case "reauth_required", "invalid_grant", "session_not_found":
		return true
	}
	return false
}

// IsTemporary reports whether err is worth retrying shortly
func IsTemporary(err error) bool {
	var apiErr *APIError
	if !apperrors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.Status == http.StatusServiceUnavailable, apiErr.Status == http.StatusTooManyRequests:
		return true
	case apiErr.Code == "temporary_refresh_failure", apiErr.Code == "service_unavailable":
		return true
	}
	return false
}

// TokenResponse is an access token issued by the session server
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Status mirrors the server's /status body
type Status struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	TokenValid    *bool      `json:"tokenValid,omitempty"`
	SessionExpiry *time.Time `json:"sessionExpiry,omitempty"`
}

type errorBody struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RequiresReauth bool   `json:"requiresReauth"`
}

// Client calls the session server's token endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the server at baseURL. A nil httpClient gets a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// LoginURL is where a browser starts the Spotify login
func (c *Client) LoginURL() string {
	return c.baseURL + "/login"
}

func (c *Client) InitialToken(ctx context.Context, sessionID string) (*TokenResponse, error) {
	var token TokenResponse
	if err := c.do(ctx, http.MethodGet, "/initial-token", sessionID, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) Refresh(ctx context.Context, sessionID string) (*TokenResponse, error) {
	var token TokenResponse
	if err := c.do(ctx, http.MethodPost, "/refresh", sessionID, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) Logout(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/logout", sessionID, nil)
}

func (c *Client) Status(ctx context.Context, sessionID string) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/status", sessionID, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path, sessionID string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("[tokencache %s] %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set(headerSessionID, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("[tokencache %s] request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded errorBody
		if json.Unmarshal(body, &decoded) == nil {
			apiErr.Code = decoded.Error
			apiErr.Message = decoded.Message
			apiErr.RequiresReauth = decoded.RequiresReauth
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("[tokencache %s] decode: %w", path, err)
	}
	return nil
}
