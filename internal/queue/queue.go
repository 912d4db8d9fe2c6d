package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

const defaultMemorySize = 256

// Message identifies one job to run. The job row is the source of truth; the message only points at it.
type Message struct {
	JobID int64          `json:"job_id"`
	Kind  models.JobKind `json:"kind"`
}

// Handler processes one message. A returned error asks the backend to redeliver when it can.
type Handler func(ctx context.Context, msg Message) error

// Queue delivers job messages to workers.
//
// Consume blocks until ctx is done and returns nil then. Handler errors never stop Consume.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// New opens the backend named by cfg.Backend.
func New(ctx context.Context, cfg shared.QueueConfig, logger *log.Logger) (Queue, error) {
	if logger == nil {
		logger = log.Default()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemory(defaultMemorySize, logger), nil
	case "redis":
		q, err := NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "nats":
		q, err := NewJetStream(cfg.NATS, cfg.Workers, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("%w: unknown queue backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.JobID <= 0 {
		return nil, fmt.Errorf("%w: job id is required", shared.ErrInvalidInput)
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidInput, msg.Kind)
	}
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.JobID <= 0 || !msg.Kind.Valid() {
		return msg, fmt.Errorf("%w: malformed message %s", shared.ErrInvalidInput, shared.Truncate(string(data), 100))
	}
	return msg, nil
}
