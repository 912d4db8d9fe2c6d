package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/lsync/internal/server"
	"github.com/desertthunder/lsync/internal/shared"
)

// UsersHash prints a bcrypt hash for a server.users entry.
func (r *Runner) UsersHash(ctx context.Context, cmd *cli.Command) error {
	password := cmd.StringArg("password")
	if password == "" {
		return fmt.Errorf("%w: password", shared.ErrMissingArgument)
	}

	hash, err := server.HashPassword(password)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", hash)
}
