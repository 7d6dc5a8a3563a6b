package outbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one outbox row as handed to a broker. Key orders messages of the
// same aggregate where the broker supports it.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages to a broker topic. Publish returns only after the
// broker acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Handler processes one message delivered by a broker subscription. A nil
// return acknowledges the message.
type Handler func(ctx context.Context, msg Message) error

// EnvelopeOf decodes the payload envelope carried in msg.Data.
func EnvelopeOf(msg Message) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
