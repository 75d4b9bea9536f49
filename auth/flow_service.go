// Package auth runs the authorization-code + PKCE flow that turns a Spotify
// login into a server-side session.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/config"
	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const stateLength = 32

func stateKey(state string) string { return "oauth:state:" + state }

// Upstream is the OAuth provider the flow talks to
type Upstream interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (sessions.TokenResponse, error)
	CurrentUserID(ctx context.Context, accessToken string) (string, error)
}

// AuthRequest is where to send the browser and the state it must come back with
type AuthRequest struct {
	RedirectURL string
	State       string
}

// AuthResult is the outcome of a successful callback
type AuthResult struct {
	Session     *sessions.Session
	AccessToken string
	ExpiresIn   int
}

// FlowService starts and completes logins
type FlowService struct {
	store           *sessions.Store
	upstream        Upstream
	stateTTL        time.Duration
	initialTokenTTL time.Duration
}

// NewFlowService creates a FlowService. PKCE verifiers are kept in the session store's backend.
func NewFlowService(store *sessions.Store, upstream Upstream, cfg config.TokenConfig) *FlowService {
	return &FlowService{
		store:           store,
		upstream:        upstream,
		stateTTL:        cfg.GetStateExpiry(),
		initialTokenTTL: cfg.GetInitialTokenExpiry(),
	}
}

// BeginAuth creates a state and PKCE verifier and returns the provider's authorization URL
func (fs *FlowService) BeginAuth(ctx context.Context) (*AuthRequest, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("[auth BeginAuth] failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	if err := fs.store.KV().Set(ctx, stateKey(state), verifier, fs.stateTTL); err != nil {
		return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrServiceUnavailable, err), "[auth BeginAuth] store verifier")
	}

	return &AuthRequest{
		RedirectURL: fs.upstream.AuthCodeURL(state, verifier),
		State:       state,
	}, nil
}

// CompleteAuth consumes state, exchanges code and creates the session. The
// access token is staged for a single pickup through ClaimInitialToken.
func (fs *FlowService) CompleteAuth(ctx context.Context, code, state string) (*AuthResult, error) {
	if state == "" {
		return nil, apperrors.ErrInvalidState
	}

	verifier, err := fs.store.KV().GetDel(ctx, stateKey(state))
	if apperrors.Is(err, kv.ErrNotFound) {
		return nil, apperrors.ErrInvalidState
	}
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrServiceUnavailable, err), "[auth CompleteAuth] read verifier")
	}

	tokens, err := fs.upstream.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrUpstreamExchangeFailed, err), "[auth CompleteAuth] exchange")
	}

	userID, err := fs.upstream.CurrentUserID(ctx, tokens.AccessToken)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.Join(apperrors.ErrUpstreamExchangeFailed, err), "[auth CompleteAuth] fetch user")
	}

	session, err := fs.store.Create(ctx, userID, tokens)
	if err != nil {
		return nil, err
	}

	if err := fs.store.StageInitialToken(ctx, session.ID, tokens.AccessToken, tokens.ExpiresIn, fs.initialTokenTTL); err != nil {
		// The client can still obtain a token through /refresh
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to stage initial token")
	}

	return &AuthResult{
		Session:     session,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   tokens.ExpiresIn,
	}, nil
}

// ClaimInitialToken hands out the staged token once. Later calls return ErrNotFound.
func (fs *FlowService) ClaimInitialToken(ctx context.Context, sessionID string) (*sessions.InitialToken, error) {
	staged, err := fs.store.ClaimInitialToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if staged == nil {
		return nil, apperrors.ErrNotFound
	}
	return staged, nil
}

func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
