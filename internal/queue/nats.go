package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/desertthunder/lsync/internal/shared"
)

const (
	fetchWait = 5 * time.Second
	ackWait   = 15 * time.Minute
)

// pullSubscription is the part of [nats.Subscription] a consumer uses.
type pullSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
}

// JetStream publishes job messages to a work-queue stream and consumes them through a durable pull consumer.
//
// A failed handler naks its message for redelivery.
type JetStream struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	sub     pullSubscription
	subject string
	logger  *log.Logger
}

// NewJetStream connects to cfg.URL and declares the stream and consumer, tolerating ones that already exist.
func NewJetStream(cfg shared.NATSConfig, workers int, logger *log.Logger) (*JetStream, error) {
	if workers <= 0 {
		workers = 1
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("lsync"),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect: %w", shared.ErrQueueUnavailable, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	_, err = js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:       cfg.Consumer,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       ackWait,
		FilterSubject: cfg.Subject,
		MaxAckPending: workers * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Consumer, nats.Bind(cfg.Stream, cfg.Consumer))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream PullSubscribe: %w", err)
	}

	q := newJetStream(js, sub, cfg.Subject, logger)
	q.nc = nc
	return q, nil
}

func newJetStream(js nats.JetStreamContext, sub pullSubscription, subject string, logger *log.Logger) *JetStream {
	if logger == nil {
		logger = log.Default()
	}
	return &JetStream{
		js:      js,
		sub:     sub,
		subject: subject,
		logger:  shared.WithLogger(logger, "component", "queue", "backend", "nats"),
	}
}

func (q *JetStream) Enqueue(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}

	ack, err := q.js.PublishMsg(&nats.Msg{
		Subject: q.subject,
		Data:    data,
		Header:  nats.Header{},
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("%w: enqueue job %d: publish failed: %w", shared.ErrQueueUnavailable, msg.JobID, err)
	}

	q.logger.Debug("job enqueued", "job_id", msg.JobID, "kind", msg.Kind, "stream", ack.Stream, "seq", ack.Sequence)
	return nil
}

func (q *JetStream) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := q.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			q.logger.Warn("NATS fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, m := range msgs {
			q.process(ctx, m, handler)
		}
	}
}

func (q *JetStream) fetch(ctx context.Context) ([]*nats.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchWait)
	defer cancel()
	return q.sub.Fetch(1, nats.Context(ctx))
}

func (q *JetStream) process(ctx context.Context, m *nats.Msg, handler Handler) {
	msg, err := decode(m.Data)
	if err != nil {
		q.logger.Error("dropping message", "error", err)
		q.ack(m)
		return
	}

	if err := handler(ctx, msg); err != nil {
		q.logger.Error("job handler failed", "job_id", msg.JobID, "error", err)
		if err := m.Nak(); err != nil {
			q.logger.Warn("NATS nak failed", "error", err)
		}
		return
	}
	q.ack(m)
}

func (q *JetStream) ack(m *nats.Msg) {
	if err := m.Ack(); err != nil {
		q.logger.Warn("NATS ack failed", "error", err)
	}
}

func (q *JetStream) Close() error {
	var err error
	if q.sub != nil {
		err = q.sub.Drain()
	}
	if q.nc != nil {
		q.nc.Close()
	}
	return err
}
