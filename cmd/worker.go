package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/lsync/internal/queue"
	"github.com/desertthunder/lsync/internal/repositories"
	"github.com/desertthunder/lsync/internal/server"
	"github.com/desertthunder/lsync/internal/shared"
)

// Worker consumes jobs from a shared queue until interrupted.
//
// The memory backend only exists inside one process, so it is served by 'lsync serve' instead.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	backend := r.config.Queue.Backend
	if backend == "" || backend == "memory" {
		return fmt.Errorf("%w: worker needs queue.backend redis or nats; 'lsync serve' runs memory workers in-process",
			shared.ErrInvalidConfig)
	}

	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := r.engine(ctx, db)
	if err != nil {
		return err
	}

	q, err := queue.New(ctx, r.config.Queue, r.logger)
	if err != nil {
		return err
	}
	defer q.Close()

	workers := r.workers(cmd.Int("workers"))
	r.logger.Info("worker starting", "backend", backend, "workers", workers)
	return queue.NewPool(q, engine, workers, r.logger).Run(ctx)
}

// Serve runs the HTTP API. With the memory backend a worker pool runs alongside it.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if host := cmd.String("host"); host != "" {
		r.config.Server.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		r.config.Server.Port = port
	}
	if err := r.config.ValidateServer(); err != nil {
		return err
	}
	if len(r.config.Server.Users) == 0 {
		r.logger.Warn("no server.users configured; every login will fail")
	}

	auth, err := server.NewAuthenticator(r.config.Server)
	if err != nil {
		return err
	}

	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	q, err := queue.New(ctx, r.config.Queue, r.logger)
	if err != nil {
		return err
	}
	defer q.Close()

	backend := r.config.Queue.Backend
	if backend == "" {
		backend = "memory"
	}

	api := server.NewAPI(server.APIDeps{
		DB:           db,
		Datasets:     repositories.NewDatasetRepository(db),
		Tasks:        repositories.NewTaskRepository(db),
		Jobs:         repositories.NewJobRepository(db),
		Queue:        q,
		QueueBackend: backend,
		Auth:         auth,
		Logger:       r.logger,
	})
	srv := server.New(r.config.Server, api, r.logger)

	var pool *queue.Pool
	if backend == "memory" {
		engine, err := r.engine(ctx, db)
		if err != nil {
			return err
		}
		pool = queue.NewPool(q, engine, r.workers(0), r.logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if pool != nil {
		g.Go(func() error { return pool.Run(gctx) })
	}

	return g.Wait()
}

func (r *Runner) workers(n int) int {
	if n > 0 {
		return n
	}
	if r.config.Queue.Workers > 0 {
		return r.config.Queue.Workers
	}
	return 1
}
