package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/lsync/internal/artifacts"
	"github.com/desertthunder/lsync/internal/repositories"
	"github.com/desertthunder/lsync/internal/services"
	"github.com/desertthunder/lsync/internal/shared"
	"github.com/desertthunder/lsync/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config // Preloaded config; nil loads from ConfigPath before the first command
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, migrateCommand, datasetsCommand, jobsCommand, workerCommand, serveCommand, lsCommand, usersCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig runs before every command. A missing file falls back to the embedded defaults; the environment
// overlay is always applied.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.config == nil {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
			r.config = shared.DefaultConfig()
		}
	}

	if err := r.config.ApplyEnv(); err != nil {
		return ctx, err
	}

	level := r.config.Log.Level
	if lvl := cmd.String("log-level"); lvl != "" {
		level = lvl
	}
	if level != "" {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	}
	return ctx, nil
}

// openDB opens the configured ledger and brings its schema up to date.
func (r *Runner) openDB() (*sql.DB, error) {
	db, err := r.openRawDB()
	if err != nil {
		return nil, err
	}
	if _, err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (r *Runner) openRawDB() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	return db, nil
}

// tokenCache validates the Label Studio section and returns a refresh-token backed cache.
func (r *Runner) tokenCache() (*services.TokenCache, error) {
	if err := r.config.ValidateLabelStudio(); err != nil {
		return nil, err
	}
	return services.NewTokenCache(r.config.LabelStudio.BaseURL, r.config.LabelStudio.APIToken,
		services.WithTokenHTTPClient(r.httpClient))
}

// labelStudio returns the API client for the configured server.
func (r *Runner) labelStudio() (*services.LabelStudio, *services.TokenCache, error) {
	cache, err := r.tokenCache()
	if err != nil {
		return nil, nil, err
	}

	ls := r.config.LabelStudio
	client := services.NewLabelStudio(ls.BaseURL, cache, services.LabelStudioOptions{
		UserAgent:    ls.UserAgent,
		PollInterval: ls.PollInterval,
		PollAttempts: ls.PollAttempts,
		HTTPClient:   r.httpClient,
		Logger:       r.logger,
	})
	return client, cache, nil
}

// engine wires the job engine to the ledger, Label Studio and the configured artifact store.
func (r *Runner) engine(ctx context.Context, db *sql.DB) (*tasks.Engine, error) {
	client, _, err := r.labelStudio()
	if err != nil {
		return nil, err
	}

	store, err := artifacts.New(ctx, r.config.Artifacts, r.logger)
	if err != nil {
		return nil, err
	}

	opts := tasks.EngineOpts{
		ProjectID: r.config.LabelStudio.ProjectID,
		RateLimit: r.config.Export.RateLimit,
		Logger:    r.logger,
	}
	if store != nil {
		opts.Snapshots = artifacts.NewSnapshotter(store)
	}

	return tasks.NewEngine(client,
		repositories.NewJobRepository(db),
		repositories.NewDatasetRepository(db),
		repositories.NewTaskRepository(db),
		opts,
	), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
