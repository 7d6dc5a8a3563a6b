package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Publisher writes outbox messages to Kafka. One writer serves every topic;
// the topic is set per message.
type Publisher struct {
	brokers []string
	writer  messageWriter
	dial    dialFunc
}

var _ outbox.Publisher = (*Publisher)(nil)

// NewPublisher builds a synchronous writer that waits for all in-sync
// replicas. Messages with the same key land on the same partition.
func NewPublisher(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Publisher, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}

	dialer := &kafkago.Dialer{Timeout: cfg.WriteTimeout}
	p := &Publisher{
		brokers: brokers,
		writer:  writer,
		dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
	if logg != nil {
		logg.Info(ctx, "kafka publisher initialized")
	}
	return p, nil
}

// Publish writes a single message and returns once the brokers acknowledged it.
func (p *Publisher) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher not initialized")
	}
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(topic, msg)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil || p.dial == nil {
		return errors.New("kafka publisher not initialized")
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func toKafkaMessage(topic string, msg outbox.Message) kafkago.Message {
	keys := make([]string, 0, len(msg.Attributes))
	for k := range msg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(msg.Attributes[k])})
	}

	out := kafkago.Message{
		Topic:   topic,
		Value:   msg.Data,
		Headers: headers,
	}
	if msg.Key != "" {
		out.Key = []byte(msg.Key)
	}
	return out
}

func cleanBrokers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, broker := range raw {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
