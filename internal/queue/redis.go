package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/desertthunder/lsync/internal/shared"
)

const (
	defaultRedisKey = "lsync:jobs"
	popTimeout      = time.Second
	retryDelay      = 100 * time.Millisecond
)

// Redis is a list-backed queue: producers LPUSH, workers BRPOP.
//
// A message whose handler fails is dropped with an error log; its job row stays queued and can be re-run.
type Redis struct {
	rdb    *redis.Client
	key    string
	logger *log.Logger
}

// NewRedis connects to cfg.Addr and verifies the connection.
func NewRedis(ctx context.Context, cfg shared.RedisConfig, logger *log.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", shared.ErrQueueUnavailable, err)
	}

	return NewRedisWithClient(rdb, cfg.Key, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, key string, logger *log.Logger) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Redis{
		rdb:    rdb,
		key:    key,
		logger: shared.WithLogger(logger, "component", "queue", "backend", "redis"),
	}
}

func (r *Redis) Enqueue(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.LPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("%w: enqueue job %d: %w", shared.ErrQueueUnavailable, msg.JobID, err)
	}
	r.logger.Debug("job enqueued", "job_id", msg.JobID, "kind", msg.Kind, "key", r.key)
	return nil
}

func (r *Redis) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := r.rdb.BRPop(ctx, popTimeout, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil
		}
		if err != nil {
			r.logger.Warn("redis pop failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		// res is [key, value]
		msg, err := decode([]byte(res[1]))
		if err != nil {
			r.logger.Error("dropping message", "error", err)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			r.logger.Error("job handler failed", "job_id", msg.JobID, "error", err)
		}
	}
}

// Len reports the number of pending messages.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, r.key).Result()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
