package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/lsync/internal/shared"
)

// Setup creates the config file when missing, then initializes the database and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", r.configPath)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := r.openRawDB()
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Info("running database migrations")
	applied, err := shared.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)

	r.writePlain("✓ Database ready: %s (%d migrations applied)\n", r.config.Database.Path, applied)
	r.writePlain("Config: %s\n", r.configPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set labelstudio.api_token (or LS_API_TOKEN) to your Personal Access Token\n")
	r.writePlain("2. Run 'lsync ls token' to check the refresh round trip\n")
	r.writePlain("3. Add server.users with hashes from 'lsync users hash <password>'\n")
	return nil
}

// MigrateUp applies pending migrations.
func (r *Runner) MigrateUp(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openRawDB()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := shared.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied == 0 {
		return r.writePlain("✓ Schema is up to date\n")
	}
	return r.writePlain("✓ Applied %d migrations\n", applied)
}

// MigrateDown rolls back the latest applied migration.
func (r *Runner) MigrateDown(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openRawDB()
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := shared.RollbackMigration(db)
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return r.writePlain("✓ Rolled back migration %04d\n", version)
}

// MigrateStatus lists every known migration and whether it is applied.
func (r *Runner) MigrateStatus(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openRawDB()
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := shared.MigrationStatus(db)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	if cmd.Bool("json") {
		return r.writeJSON(infos, true)
	}

	r.writePlainHeader("Migrations")
	for _, info := range infos {
		mark := "✗"
		applied := "pending"
		if info.Applied {
			mark = "✓"
			applied = "applied"
			if info.AppliedAt != nil {
				applied = "applied " + info.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		r.writePlain("%s %04d %-24s %s\n", mark, info.Version, info.Name, applied)
	}
	return nil
}
