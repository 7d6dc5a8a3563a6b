package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type activeVendorLister interface {
	ActiveVendorIDs(ctx context.Context) ([]uuid.UUID, error)
}

type analyticsRoller interface {
	Rollup(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, date time.Time) (*models.VendorAnalytics, error)
}

type VendorAnalyticsRollupJobParams struct {
	Logger    *logger.Logger
	Vendors   activeVendorLister
	Analytics analyticsRoller
}

// NewVendorAnalyticsRollupJob rolls up the previous UTC day for every active
// vendor. A failing vendor does not stop the others.
func NewVendorAnalyticsRollupJob(params VendorAnalyticsRollupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor lister required")
	}
	if params.Analytics == nil {
		return nil, fmt.Errorf("analytics service required")
	}
	return &vendorAnalyticsRollupJob{
		logg:      params.Logger,
		vendors:   params.Vendors,
		analytics: params.Analytics,
		now:       time.Now,
	}, nil
}

type vendorAnalyticsRollupJob struct {
	logg      *logger.Logger
	vendors   activeVendorLister
	analytics analyticsRoller
	now       func() time.Time
}

func (j *vendorAnalyticsRollupJob) Name() string { return JobVendorAnalyticsRollup }

func (j *vendorAnalyticsRollupJob) Run(ctx context.Context) error {
	today := j.now().UTC().Truncate(24 * time.Hour)
	day := today.AddDate(0, 0, -1)

	vendorIDs, err := j.vendors.ActiveVendorIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active vendors: %w", err)
	}

	var errs error
	rolled := 0
	for _, vendorID := range vendorIDs {
		if _, err := j.analytics.Rollup(ctx, vendorID, enums.AnalyticsPeriodDaily, day); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("vendor %s: %w", vendorID, err))
			continue
		}
		rolled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"date":     day.Format(time.DateOnly),
		"vendors":  len(vendorIDs),
		"rolled":   rolled,
		"failures": len(multierr.Errors(errs)),
	})
	if errs != nil {
		j.logg.Warn(logCtx, "vendor analytics rollup finished with failures")
		return errs
	}
	j.logg.Info(logCtx, "vendor analytics rollup complete")
	return nil
}
