package events

import (
	"context"
	"errors"
	"time"

	"notify-service/internal/logger"
	"notify-service/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetter parks messages that could not be routed.
type DeadLetter interface {
	SendDeadLetter(ctx context.Context, msg kafka.Message, reason error) error
}

type ConsumerConfig struct {
	MaxRetries int           // transient failures retried per message, default 3
	RetryDelay time.Duration // grows linearly per attempt, default 500ms
}

// Consumer reads ingress events and routes them to a Sink. Each message is
// committed once it is delivered or dead-lettered.
type Consumer struct {
	reader     MessageReader
	sink       Sink
	deadLetter DeadLetter
	cfg        ConsumerConfig
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

func NewConsumer(reader MessageReader, sink Sink, deadLetter DeadLetter, cfg ConsumerConfig,
	m *metrics.Metrics, log zerolog.Logger) *Consumer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Consumer{
		reader:     reader,
		sink:       sink,
		deadLetter: deadLetter,
		cfg:        cfg,
		metrics:    m,
		logger:     log.With().Str("component", "event_consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close kafka reader")
		}
	}()
	c.logger.Info().Msg("event consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	defer logger.RecoverPanic(c.logger, "event consumer")

	event, err := Decode(msg.Value)
	eventType := event.Type
	if eventType == "" {
		eventType = "unknown"
	}
	if err == nil {
		err = c.routeWithRetry(ctx, event)
	}
	if err == nil {
		c.metrics.EventConsumed(eventType, "delivered")
		return
	}
	if ctx.Err() != nil {
		return
	}

	c.metrics.EventConsumed(eventType, "dead_lettered")
	c.logger.Warn().Err(err).Str("type", eventType).Int64("offset", msg.Offset).Msg("dead-lettering event")
	if c.deadLetter == nil {
		return
	}
	if dlqErr := c.deadLetter.SendDeadLetter(ctx, msg, err); dlqErr != nil {
		c.metrics.EventConsumed(eventType, "dlq_failed")
		c.logger.Error().Err(dlqErr).Int64("offset", msg.Offset).Msg("failed to dead-letter event, dropping it")
	}
}

func (c *Consumer) routeWithRetry(ctx context.Context, event Event) error {
	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = Route(ctx, c.sink, event)
		if err == nil || errors.Is(err, ErrUnroutable) {
			return err
		}
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("event delivery failed")
	}
	return err
}
