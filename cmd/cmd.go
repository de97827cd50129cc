// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Local user the credential and runs belong to (default: sync.user_id)",
	}
}

// setupCommand handles setup operations for the database and configuration file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config.toml template",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recently applied migration",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles authorization against the remote tracker.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage tracker authorization",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize trackx through the browser and store the credential",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:  "site",
						Usage: "Site name, URL or id to bind the credential to (default: first accessible site)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening a browser",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show stored credentials and their state",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Delete the stored credential",
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.AuthLogout,
			},
		},
	}
}

// syncCommand mirrors remote data into the local store.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror remote tracker data",
		Commands: []*cli.Command{
			{
				Name:   "users",
				Usage:  "Import every remote user account",
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.SyncUsers,
			},
			{
				Name:   "projects",
				Usage:  "Sync every project and its issues",
				Flags:  []cli.Flag{configFlag(), userFlag()},
				Action: r.SyncProjects,
			},
			{
				Name:  "project",
				Usage: "Sync one project and its issues",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Remote project id",
						Required: true,
					},
				},
				Action: r.SyncProject,
			},
			{
				Name:  "user",
				Usage: "Sync the issues assigned to one remote account",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Remote account id",
						Required: true,
					},
				},
				Action: r.SyncUser,
			},
			{
				Name:  "issue",
				Usage: "Sync a single issue",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Issue key, e.g. ENG-42",
						Required: true,
					},
				},
				Action: r.SyncIssue,
			},
			{
				Name:  "watch",
				Usage: "Sync every project on a fixed interval until interrupted",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between runs (default: sync.interval)",
					},
				},
				Action: r.SyncWatch,
			},
		},
	}
}

// historyCommand reads the sync ledger.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect sync run history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sync runs, newest first",
				Flags: []cli.Flag{
					configFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only runs of this kind (user_import, project_sync, all_projects_sync, user_tasks_sync, issue_sync)",
					},
					&cli.StringFlag{
						Name:  "state",
						Usage: "Only runs in this state (started, in_progress, completed, failed)",
					},
					&cli.StringFlag{
						Name:  "since",
						Usage: "Only runs started after this RFC3339 time or within this duration (e.g. 24h)",
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of runs to skip",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to return",
						Value: 20,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, csv, markdown or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to this file instead of stdout",
					},
				},
				Action: r.HistoryList,
			},
			{
				Name:  "show",
				Usage: "Show one run with its error log",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.HistoryShow,
			},
		},
	}
}
