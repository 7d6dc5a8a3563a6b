package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

const defaultRetryDelay = time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads one topic as part of a consumer group. Offsets are
// committed only after the handler settled the message.
type Consumer struct {
	reader      messageReader
	topic       string
	maxAttempts int
	retryDelay  time.Duration
	logg        *logger.Logger
}

// NewConsumer joins group on topic.
func NewConsumer(cfg config.KafkaConfig, topic, group string, maxAttempts int, logg *logger.Logger) (*Consumer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	if strings.TrimSpace(group) == "" {
		return nil, errors.New("kafka consumer group is required")
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	return &Consumer{
		reader:      reader,
		topic:       topic,
		maxAttempts: maxAttempts,
		retryDelay:  defaultRetryDelay,
		logg:        logg,
	}, nil
}

// Receive fetches messages until ctx ends. A failing message is retried in
// place up to maxAttempts times, then committed and dropped.
func (c *Consumer) Receive(ctx context.Context, handle outbox.Handler) error {
	if c == nil || c.reader == nil {
		return errors.New("kafka consumer not initialized")
	}
	if handle == nil {
		return errors.New("handler is required")
	}
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.deliver(ctx, m, handle); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// deliver only returns an error when ctx ended mid-retry.
func (c *Consumer) deliver(ctx context.Context, m kafkago.Message, handle outbox.Handler) error {
	msg := fromKafkaMessage(m)
	attempts := c.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = handle(ctx, msg); err == nil {
			return nil
		}
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	if c.logg != nil {
		c.logg.Error(c.logg.WithFields(ctx, map[string]any{
			"topic":      m.Topic,
			"partition":  m.Partition,
			"offset":     m.Offset,
			"event_type": msg.Attributes["event_type"],
		}), "kafka.message_dropped", err)
	}
	return nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func fromKafkaMessage(m kafkago.Message) outbox.Message {
	attrs := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	return outbox.Message{Key: string(m.Key), Data: m.Value, Attributes: attrs}
}
