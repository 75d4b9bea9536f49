package main

import "github.com/urfave/cli/v3"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Session server base URL",
			Value:   "http://localhost:8080",
			Sources: cli.EnvVars("SPOTIFYCTL_SERVER"),
		},
		&cli.StringFlag{
			Name:    "state",
			Usage:   "Path of the persisted session file (default: user config dir)",
			Sources: cli.EnvVars("SPOTIFYCTL_STATE"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log refreshes and retries",
		},
	}
}

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Print the login URL, or adopt the session id from the login redirect",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "session-id",
				Usage: "session_id from the frontend callback URL",
			},
		},
		Action: r.Login,
	}
}

func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print a Spotify access token, refreshing it if needed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
		},
		Action: r.Token,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show whether the stored session is still live",
		Action: r.Status,
	}
}

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "End the session on the server and forget it locally",
		Action: r.Logout,
	}
}
