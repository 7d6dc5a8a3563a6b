package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/shop/topics/orders", resourceName("shop", "topics", " orders "))
	assert.Equal(t, "projects/other/topics/orders", resourceName("shop", "topics", "projects/other/topics/orders"))
	assert.Empty(t, resourceName("", "topics", "orders"))
	assert.Empty(t, resourceName("shop", "topics", "  "))
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{OrdersTopic: "orders", CatalogTopic: " "})
	assert.Equal(t, []string{"orders"}, names)
	assert.Empty(t, topicNames(config.PubSubConfig{}))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{OrdersTopic: "orders"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Publish(context.Background(), "orders", outbox.Message{Data: []byte("{}")}))
}

func TestSettle(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, ack, settle(nil, 1, 5))
	assert.Equal(t, retry, settle(boom, 1, 5))
	assert.Equal(t, retry, settle(boom, 0, 5), "unknown attempt keeps retrying")
	assert.Equal(t, drop, settle(boom, 5, 5))
	assert.Equal(t, drop, settle(registry.NonRetryableError{Err: boom}, 1, 5))
	assert.Equal(t, drop, settle(fmt.Errorf("wrapped: %w", registry.NonRetryableError{Err: boom}), 1, 5))
}

func TestReceiveRequiresClient(t *testing.T) {
	var c *Client
	err := c.Receive(context.Background(), "analytics", 5, func(context.Context, outbox.Message) error { return nil })
	assert.Error(t, err)
}
