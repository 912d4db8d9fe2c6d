// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand writes a starter config and initializes the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, then initialize the database and run migrations",
		Action: r.Setup,
	}
}

// migrateCommand handles schema migrations
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage database schema migrations",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: r.MigrateUp,
			},
			{
				Name:   "down",
				Usage:  "Roll back the most recent migration",
				Action: r.MigrateDown,
			},
			{
				Name:  "status",
				Usage: "Show applied and pending migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.MigrateStatus,
			},
		},
	}
}

// datasetsCommand handles dataset and assignment operations
func datasetsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "datasets",
		Aliases: []string{"ds"},
		Usage:   "Dataset operations",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a dataset from a JSON items file, or with demo items",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Dataset name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "items",
						Usage: "Path to a JSON array of {\"id\", \"text\"} items",
					},
					&cli.IntFlag{
						Name:  "demo",
						Usage: "Number of demo items when --items is not given",
						Value: 100,
					},
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Recorded creator",
						Value: "admin",
					},
				},
				Action: r.DatasetsCreate,
			},
			{
				Name:  "list",
				Usage: "List datasets, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of datasets to return",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.DatasetsList,
			},
			{
				Name:  "show",
				Usage: "Show a dataset",
				Flags: []cli.Flag{
					datasetFlag(),
					&cli.BoolFlag{
						Name:  "items",
						Usage: "Include items in the output",
					},
				},
				Action: r.DatasetsShow,
			},
			{
				Name:  "stats",
				Usage: "Count a dataset's total, imported and labeled tasks",
				Flags: []cli.Flag{
					datasetFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.DatasetsStats,
			},
			{
				Name:  "assign",
				Usage: "Assign one task to a user",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "task",
						Usage:    "Local task ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "Assignee username",
						Required: true,
					},
				},
				Action: r.DatasetsAssign,
			},
			{
				Name:  "auto-assign",
				Usage: "Assign unassigned tasks of a dataset to a user, lowest ids first",
				Flags: []cli.Flag{
					datasetFlag(),
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "Assignee username",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of tasks to assign (1-500)",
						Value: 20,
					},
				},
				Action: r.DatasetsAutoAssign,
			},
			{
				Name:  "export",
				Usage: "Write a dataset's labeled tasks to local CSV and JSON files",
				Flags: []cli.Flag{
					datasetFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output path without extension (default: export-<dataset>)",
					},
				},
				Action: r.DatasetsExport,
			},
		},
	}
}

// jobsCommand handles import/export job operations
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Import and export jobs",
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "Create an import job that pushes a dataset into Label Studio",
				Flags:  jobFlags(),
				Action: r.JobsImport,
			},
			{
				Name:   "export",
				Usage:  "Create an export job that pulls annotations from Label Studio",
				Flags:  jobFlags(),
				Action: r.JobsExport,
			},
			{
				Name:  "run",
				Usage: "Run a queued job in this process",
				Flags: []cli.Flag{
					jobFlag(),
				},
				Action: r.JobsRun,
			},
			{
				Name:  "show",
				Usage: "Show a job",
				Flags: []cli.Flag{
					jobFlag(),
				},
				Action: r.JobsShow,
			},
			{
				Name:  "list",
				Usage: "List jobs, newest first",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:    "dataset",
						Aliases: []string{"d"},
						Usage:   "Only jobs for this dataset",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only jobs in this status (queued, running, success, failed)",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Only jobs of this type (import_to_ls, export_from_ls)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to return",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobsList,
			},
		},
	}
}

// workerCommand runs queue consumers
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Consume jobs from the redis or nats queue",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent jobs (default: queue.workers)",
			},
		},
		Action: r.Worker,
	}
}

// serveCommand runs the HTTP API
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API; with the memory queue, workers run in-process",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default: server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (default: server.port)",
			},
		},
		Action: r.Serve,
	}
}

// lsCommand handles direct Label Studio calls
func lsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "Direct Label Studio API calls",
		Commands: []*cli.Command{
			{
				Name:   "token",
				Usage:  "Exchange the refresh token for an access token",
				Action: r.LSToken,
			},
			{
				Name:  "get",
				Usage: "Direct GET to Label Studio, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.LSGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.LSPost,
			},
			{
				Name:  "max-id",
				Usage: "Print the highest task id in the project",
				Flags: []cli.Flag{
					projectFlag(),
				},
				Action: r.LSMaxID,
			},
			{
				Name:  "open",
				Usage: "Open the project's data manager in the browser",
				Flags: []cli.Flag{
					projectFlag(),
				},
				Action: r.LSOpen,
			},
		},
	}
}

// usersCommand manages platform accounts
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "Platform account helpers",
		Commands: []*cli.Command{
			{
				Name:  "hash",
				Usage: "Print the bcrypt hash for a password, for server.users",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "password",
					},
				},
				Action: r.UsersHash,
			},
		},
	}
}

func datasetFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "dataset",
		Aliases:  []string{"d"},
		Usage:    "Dataset ID",
		Required: true,
	}
}

func jobFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "id",
		Usage:    "Job ID",
		Required: true,
	}
}

func projectFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:  "project",
		Usage: "Label Studio project ID (default: labelstudio.project_id)",
	}
}

func jobFlags() []cli.Flag {
	return []cli.Flag{
		datasetFlag(),
		&cli.StringFlag{
			Name:  "by",
			Usage: "Recorded creator",
			Value: "admin",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "Run the job in this process instead of enqueueing it",
		},
	}
}
