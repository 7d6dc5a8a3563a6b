package cron

import (
	"context"

	"gorm.io/gorm"
)

// Job names double as lock keys and metric labels.
const (
	JobReservationExpiry     = "reservation-expiry"
	JobVendorAnalyticsRollup = "vendor-analytics-rollup"
	JobOutboxRetention       = "outbox-retention"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
