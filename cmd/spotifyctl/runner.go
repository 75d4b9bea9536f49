package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/utils"
	"github.com/jrsteele09/spotify-session-server/tokencache"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

// Runner holds the dependencies shared by every command
type Runner struct {
	httpClient *http.Client
	output     io.Writer
	newStore   func(path string) (tokencache.StateStore, error)
}

// RunnerOpts contains configuration options for creating a Runner
type RunnerOpts struct {
	HTTPClient *http.Client
	Output     io.Writer
	NewStore   func(path string) (tokencache.StateStore, error)
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.NewStore == nil {
		opts.NewStore = defaultStore
	}
	return &Runner{httpClient: opts.HTTPClient, output: opts.Output, newStore: opts.NewStore}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{loginCommand, tokenCommand, statusCommand, logoutCommand} {
		commands = append(commands, fn(r))
	}
	return commands
}

func defaultStore(path string) (tokencache.StateStore, error) {
	if path == "" {
		var err error
		if path, err = tokencache.DefaultStatePath(); err != nil {
			return nil, fmt.Errorf("locate state file: %w", err)
		}
	}
	return tokencache.NewFileStore(path), nil
}

func (r *Runner) client(cmd *cli.Command) *tokencache.Client {
	return tokencache.NewClient(cmd.String("server"), r.httpClient)
}

func (r *Runner) cache(cmd *cli.Command) (*tokencache.Cache, error) {
	if cmd.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	store, err := r.newStore(cmd.String("state"))
	if err != nil {
		return nil, err
	}
	return tokencache.New(r.client(cmd), store, tokencache.WithOnForcedLogout(func() {
		fmt.Fprintln(os.Stderr, "Session was revoked. Run `spotifyctl login` again.")
	}))
}

// Login prints the URL to open, or stores the session id the browser was redirected with
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.String("session-id")
	if sessionID == "" {
		_, err := fmt.Fprintf(r.output,
			"Open this URL in a browser and sign in to Spotify:\n\n  %s\n\nThen run: spotifyctl login --session-id <session_id from the redirect>\n",
			r.client(cmd).LoginURL())
		return err
	}

	cache, err := r.cache(cmd)
	if err != nil {
		return err
	}
	if err := cache.SetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("claim initial token: %w", err)
	}
	_, err = fmt.Fprintln(r.output, "Logged in.")
	return err
}

func (r *Runner) Token(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.cache(cmd)
	if err != nil {
		return err
	}
	token, err := cache.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return json.NewEncoder(r.output).Encode(map[string]string{"access_token": token})
	}
	_, err = fmt.Fprintln(r.output, token)
	return err
}

func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.cache(cmd)
	if err != nil {
		return err
	}
	status, err := cache.Status(ctx)
	if err != nil {
		return err
	}

	if !status.Authenticated {
		_, err = fmt.Fprintln(r.output, "Not logged in.")
		return err
	}
	fmt.Fprintf(r.output, "Logged in as %s\n", status.UserID)
	fmt.Fprintf(r.output, "Server token valid: %t\n", utils.Value(status.TokenValid))
	if status.SessionExpiry != nil {
		fmt.Fprintf(r.output, "Session expires: %s\n", status.SessionExpiry.Local().Format(time.RFC1123))
	}
	return nil
}

func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.cache(cmd)
	if err != nil {
		return err
	}
	if err := cache.Logout(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.output, "Logged out.")
	return err
}
