package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

const consumerName = "analytics"

var rollupPeriods = []enums.AnalyticsPeriod{
	enums.AnalyticsPeriodDaily,
	enums.AnalyticsPeriodWeekly,
	enums.AnalyticsPeriodMonthly,
}

type rollupRunner interface {
	Rollup(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, date time.Time) (*models.VendorAnalytics, error)
}

type vendorOrderLookup interface {
	GetVendorOrder(ctx context.Context, id uuid.UUID) (*models.VendorOrder, error)
}

type claimGuard interface {
	Claim(ctx context.Context, scope string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, scope string, eventID uuid.UUID) error
}

// Consumer refreshes vendor analytics when a vendor order enters or leaves a
// revenue-counting status. Rows are recomputed for the day, week and month the
// vendor order was placed in.
type Consumer struct {
	analytics rollupRunner
	orders    vendorOrderLookup
	guard     claimGuard
	logg      *logger.Logger
}

func NewConsumer(analytics rollupRunner, orders vendorOrderLookup, guard claimGuard, logg *logger.Logger) (*Consumer, error) {
	if analytics == nil {
		return nil, fmt.Errorf("analytics service required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{analytics: analytics, orders: orders, guard: guard, logg: logg}, nil
}

// Handle is an outbox.Handler. Malformed messages come back as
// registry.NonRetryableError.
func (c *Consumer) Handle(ctx context.Context, msg outbox.Message) error {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	if eventType != enums.EventVendorOrderStatusChanged {
		return nil
	}

	envelope, err := outbox.EnvelopeOf(msg)
	if err != nil {
		return registry.NonRetryableError{Err: err}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return registry.NonRetryableError{Err: fmt.Errorf("parse event id: %w", err)}
	}
	var event payloads.VendorOrderStatusChangedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return registry.NonRetryableError{Err: fmt.Errorf("decode payload: %w", err)}
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":        eventID,
		"event_type":      eventType,
		"vendor_id":       event.VendorID,
		"vendor_order_id": event.VendorOrderID,
	})

	if countsRevenue(event.From) == countsRevenue(event.To) {
		return nil
	}

	claimed, err := c.guard.Claim(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.refresh(ctx, event); err != nil {
		if errors.Is(err, errGone) {
			c.logg.Warn(logCtx, "vendor order or vendor no longer exists")
			return nil
		}
		if releaseErr := c.guard.Release(ctx, consumerName, eventID); releaseErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency claim", releaseErr)
		}
		return err
	}

	c.logg.Info(logCtx, "vendor analytics refreshed")
	return nil
}

var errGone = errors.New("gone")

func (c *Consumer) refresh(ctx context.Context, event payloads.VendorOrderStatusChangedEvent) error {
	vendorOrder, err := c.orders.GetVendorOrder(ctx, event.VendorOrderID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return errGone
		}
		return fmt.Errorf("load vendor order: %w", err)
	}
	for _, period := range rollupPeriods {
		if _, err := c.analytics.Rollup(ctx, vendorOrder.VendorID, period, vendorOrder.CreatedAt); err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				return errGone
			}
			return fmt.Errorf("rollup %s: %w", period, err)
		}
	}
	return nil
}

// countsRevenue mirrors the statuses the rollup sums.
func countsRevenue(status enums.OrderStatus) bool {
	return status == enums.OrderStatusShipped || status == enums.OrderStatusDelivered
}
