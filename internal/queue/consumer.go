package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"channel-assistant/internal/domain"
	"channel-assistant/internal/usecase"
	"channel-assistant/pkg/logger"
)

const correlationHeader = "X-Correlation-Id"

// Responder runs the assistant for one inbound chat message.
type Responder interface {
	Respond(ctx context.Context, msg domain.InboundMessage) (usecase.Result, error)
}

// subscriber is the subset of *nats.Conn used by Consumer.
type subscriber interface {
	QueueSubscribeSync(subj, queue string) (*nats.Subscription, error)
}

// msgSource is a synchronous subscription. Messages wait in its pending
// buffer until pulled, so a busy consumer applies backpressure instead of
// overflowing a delivery channel.
type msgSource interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

type Config struct {
	Subject     string
	Queue       string
	Concurrency int
	Timeout     time.Duration
}

// Consumer queue-subscribes to a subject and hands every message to a
// Responder with bounded concurrency.
type Consumer struct {
	subscribe func(subj, queue string) (msgSource, error)
	responder Responder
	cfg       Config
	log       *logger.Logger
}

func NewConsumer(conn subscriber, r Responder, cfg Config, log *logger.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("queue: connection must not be nil")
	}
	if r == nil {
		return nil, errors.New("queue: responder must not be nil")
	}
	if cfg.Subject == "" {
		return nil, errors.New("queue: subject must not be empty")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	subscribe := func(subj, queue string) (msgSource, error) {
		sub, err := conn.QueueSubscribeSync(subj, queue)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return &Consumer{subscribe: subscribe, responder: r, cfg: cfg, log: log}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight messages.
// A message is pulled only once a worker slot is free.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.subscribe(c.cfg.Subject, c.cfg.Queue)
	if err != nil {
		return fmt.Errorf("queue: subscribe %q: %w", c.cfg.Subject, err)
	}
	c.log.Info("consuming", zap.String("subject", c.cfg.Subject), zap.String("queue", c.cfg.Queue), zap.Int("concurrency", c.cfg.Concurrency))

	slots := make(chan struct{}, c.cfg.Concurrency)
	var g errgroup.Group
	// In-flight turns finish even after shutdown starts.
	work := context.WithoutCancel(ctx)

	stop := func() error {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warn("unsubscribe failed", zap.Error(err))
		}
		_ = g.Wait()
		c.log.Info("consumer stopped")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return stop()
		case slots <- struct{}{}:
		}

		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return stop()
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				_ = g.Wait()
				return fmt.Errorf("queue: next message: %w", err)
			}
			c.log.Warn("next message failed", zap.Error(err))
			continue
		}

		g.Go(func() error {
			defer func() { <-slots }()
			c.handle(work, msg)
			return nil
		})
	}
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	correlationID := msg.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var in domain.InboundMessage
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		c.log.Warn("dropping invalid message payload", zap.String("correlation_id", correlationID), zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(usecase.WithCorrelationID(ctx, correlationID), c.cfg.Timeout)
	defer cancel()

	res, err := c.responder.Respond(ctx, in)
	if err != nil {
		c.log.Warn("message handled with error",
			zap.String("correlation_id", correlationID),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err))
		return
	}
	c.log.Debug("message handled", zap.String("correlation_id", correlationID), zap.String("outcome", string(res.Outcome)))
}
