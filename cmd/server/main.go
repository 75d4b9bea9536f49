package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/spotify-session-server/auth"
	"github.com/jrsteele09/spotify-session-server/internal/config"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/jrsteele09/spotify-session-server/server"
	"github.com/jrsteele09/spotify-session-server/sessions"
	"github.com/jrsteele09/spotify-session-server/spotify"
	"github.com/jrsteele09/spotify-session-server/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	c := config.New()
	setupLogging(c)

	if err := run(c); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(c config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(c.GetAppName())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := newKVBackend(ctx, c)
	cancel()
	if err != nil {
		return err
	}
	defer backend.Close()

	handler, err := newHandler(c, backend)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// newHandler wires the session store, Spotify provider, flow and refresh coordinator into the HTTP server
func newHandler(c config.Config, backend kv.Store) (*server.Server, error) {
	provider, err := spotify.NewProvider(spotify.Config{
		ClientID:     c.GetSpotifyClientID(),
		ClientSecret: c.GetSpotifyClientSecret(),
		RedirectURL:  c.GetSpotifyRedirectURL(),
		Scopes:       c.GetSpotifyScopes(),
		Timeout:      c.GetUpstreamTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("spotify provider: %w", err)
	}

	store := sessions.NewStore(backend, sessions.WithMaxSessionAge(c.GetMaxSessionAge()))
	return server.New(c, server.Services{
		Sessions: store,
		Flow:     auth.NewFlowService(store, provider, c),
		Refresh:  refresh.NewCoordinator(store, provider, c),
	})
}

func newKVBackend(ctx context.Context, c config.Config) (kv.Store, error) {
	switch strings.ToLower(c.GetKVBackend()) {
	case "memory":
		log.Warn().Msg("Using in-memory session store: sessions are lost on restart and not shared between instances")
		return kv.NewMemoryStore(), nil
	case "redis":
		store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
			Addr:      c.GetRedisURL(),
			Password:  c.GetRedisPassword(),
			DB:        c.GetRedisDB(),
			KeyPrefix: c.GetKeyPrefix(),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Connected to redis session store")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q (want redis or memory)", c.GetKVBackend())
	}
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
