package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := newApp(NewRunner(RunnerOpts{})).Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("spotifyctl failed")
	}
}

func newApp(runner *Runner) *cli.Command {
	return &cli.Command{
		Name:     "spotifyctl",
		Usage:    "Sign in through the Spotify session server and fetch access tokens",
		Flags:    globalFlags(),
		Commands: runner.register(),
	}
}
