// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Spotify user id",
		Required: true,
	}
}

func playlistFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Playlist id",
		Required: true,
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output JSON",
	}
}

// setupCommand creates the config file and the database
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the configuration file and database",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Create the database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles account sign in
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Sign in to Spotify",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize an account in the browser",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the callback",
						Value: loginTimeout,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "refresh",
				Usage:  "Refresh the stored access token of a user",
				Flags:  []cli.Flag{userFlag()},
				Action: r.AuthRefresh,
			},
		},
	}
}

// usersCommand manages known accounts
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Manage signed in accounts",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List accounts",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.UsersList,
			},
			{
				Name:  "delete",
				Usage: "Forget an account together with its credentials and playlists",
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "Required to actually delete",
					},
				},
				Action: r.UsersDelete,
			},
		},
	}
}

// playlistsCommand manages tracked playlists and their retention policies
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "Manage tracked playlists",
		Commands: []*cli.Command{
			{
				Name:   "recognize",
				Usage:  "Sync the tracked playlists with the ones the user owns",
				Flags:  []cli.Flag{userFlag()},
				Action: r.PlaylistsRecognize,
			},
			{
				Name:  "list",
				Usage: "List tracked playlists of a user",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "order",
						Usage: "Sort by name, az or za",
						Value: "az",
					},
					jsonFlag(),
				},
				Action: r.PlaylistsList,
			},
			{
				Name:  "show",
				Usage: "Show one playlist",
				Flags: []cli.Flag{
					playlistFlag(),
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Refresh the cached summary from Spotify first",
					},
					jsonFlag(),
				},
				Action: r.PlaylistsShow,
			},
			{
				Name:  "policy",
				Usage: "Set the retention policy of a playlist",
				Flags: []cli.Flag{
					playlistFlag(),
					&cli.IntFlag{
						Name:  "max-age",
						Usage: "Remove tracks added more than this many days ago, 0 clears",
					},
					&cli.IntFlag{
						Name:  "max-tracks",
						Usage: "Keep at most this many tracks, 0 clears",
					},
					&cli.StringFlag{
						Name:  "discard",
						Usage: "Tracked playlist that receives removed tracks",
					},
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "Start from an empty policy instead of the stored one",
					},
					jsonFlag(),
				},
				Action: r.PlaylistsPolicy,
			},
		},
	}
}

// runCommand runs a background job once
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a background job once",
		Commands: []*cli.Command{
			{
				Name:  "sweep",
				Usage: "Refresh credentials that expired before the horizon",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "horizon",
						Usage: "How far back expired credentials are refreshed (default: scheduler.session_horizon)",
					},
				},
				Action: r.RunSweep,
			},
			{
				Name:   "retention",
				Usage:  "Apply every retention policy",
				Action: r.RunRetention,
			},
		},
	}
}

// serveCommand runs the web service and the scheduler
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve logins, health and metrics and run the scheduled jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Serve HTTP only",
			},
		},
		Action: r.Serve,
	}
}
