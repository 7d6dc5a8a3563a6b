package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	publishedPrefix = "evt:published"
	processedPrefix = "evt:processed"
)

// Guard records which outbox events were already handed to the broker so a
// row re-read after a crash between publish and mark-published is not sent
// twice. Keys follow `mp:idempotency:evt:published:<topic>:<event_id>`.
//
// A processed guard does the same for consumers, keyed by consumer name.
type Guard struct {
	store  redis.IdempotencyStore
	ttl    time.Duration
	prefix string
}

// NewGuard builds a publish-side guard whose claims expire after ttl.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	return newGuard(store, ttl, publishedPrefix)
}

// NewProcessedGuard builds a consumer-side guard. Claims are scoped by
// consumer name instead of topic.
func NewProcessedGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	return newGuard(store, ttl, processedPrefix)
}

func newGuard(store redis.IdempotencyStore, ttl time.Duration, prefix string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, prefix: prefix}, nil
}

// Claim marks eventID as handled under scope. It returns false when another
// attempt already claimed it.
func (g *Guard) Claim(ctx context.Context, topic string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(topic, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops a claim after a failed publish so the next attempt can retry.
func (g *Guard) Release(ctx context.Context, topic string, eventID uuid.UUID) error {
	key, err := g.key(topic, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(topic string, eventID uuid.UUID) (string, error) {
	if topic == "" {
		return "", errors.New("scope is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(fmt.Sprintf("%s:%s", g.prefix, topic), eventID.String()), nil
}
