package server

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jrsteele09/spotify-session-server/auth"
	"github.com/jrsteele09/spotify-session-server/internal/config"
	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/jrsteele09/spotify-session-server/token/refresh"
	"github.com/rs/zerolog/log"
)

// Services are the domain components behind the HTTP surface
type Services struct {
	Sessions *sessions.Store
	Flow     *auth.FlowService
	Refresh  *refresh.Coordinator
}

type Server struct {
	env            string // Environment (e.g., "DEV", "PROD")
	mux            *http.ServeMux
	routes         []string
	config         config.Config
	sessions       *sessions.Store
	flow           *auth.FlowService
	refresher      *refresh.Coordinator
	stateCookie    *stateCookie
	limiter        *ipRateLimiter
	trustedProxies []netip.Prefix // may set X-Forwarded-For
	nowTime        func() time.Time
}

// ServerOption modifies a Server
type ServerOption func(*Server)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServerOption {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

func New(cfg config.Config, services Services, opts ...ServerOption) (*Server, error) {
	if services.Sessions == nil || services.Flow == nil || services.Refresh == nil {
		return nil, fmt.Errorf("[Server New] sessions, flow and refresh services are required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		sessions:  services.Sessions,
		flow:      services.Flow,
		refresher: services.Refresh,
		nowTime:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	secret := []byte(cfg.GetStateCookieSecret())
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("[Server New] failed to generate state cookie key: %w", err)
		}
		log.Warn().Msg("STATE_COOKIE_SECRET not set, using a per-process key")
	}
	s.stateCookie = newStateCookie(secret, cfg.GetStateExpiry(), cfg.IsSecureCookies(), s.now)

	trusted, err := parseTrustedProxies(cfg.GetTrustedProxies())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	s.trustedProxies = trusted

	if cfg.GetEnableRateLimiting() {
		s.limiter = newIPRateLimiter(cfg.GetRateLimit(), cfg.GetRateLimitBurst(), s.now)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) now() time.Time {
	return s.nowTime()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}
