package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/shared"
)

// Memory is an in-process queue backed by a buffered channel.
//
// Messages do not survive a restart and are only visible to workers in the same process.
type Memory struct {
	ch     chan Message
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// NewMemory creates a queue that buffers up to size messages.
func NewMemory(size int, logger *log.Logger) *Memory {
	if logger == nil {
		logger = log.Default()
	}
	return &Memory{
		ch:     make(chan Message, size),
		done:   make(chan struct{}),
		logger: shared.WithLogger(logger, "component", "queue", "backend", "memory"),
	}
}

// Enqueue blocks while the buffer is full.
func (m *Memory) Enqueue(ctx context.Context, msg Message) error {
	if _, err := encode(msg); err != nil {
		return err
	}

	select {
	case <-m.done:
		return fmt.Errorf("%w: memory queue closed", shared.ErrQueueUnavailable)
	default:
	}

	select {
	case m.ch <- msg:
		m.logger.Debug("job enqueued", "job_id", msg.JobID, "kind", msg.Kind)
		return nil
	case <-m.done:
		return fmt.Errorf("%w: memory queue closed", shared.ErrQueueUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handler for each message. Failed messages are logged and not redelivered.
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case msg := <-m.ch:
			if err := handler(ctx, msg); err != nil {
				m.logger.Error("job handler failed", "job_id", msg.JobID, "error", err)
			}
		}
	}
}

// Len reports the number of buffered messages.
func (m *Memory) Len() int { return len(m.ch) }

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
