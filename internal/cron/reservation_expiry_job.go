package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const defaultSweepBatchSize = 200

type reservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, batch int) (int, error)
}

type ReservationExpiryJobParams struct {
	Logger    *logger.Logger
	Sweeper   reservationSweeper
	BatchSize int
}

// NewReservationExpiryJob releases stale inventory holds that never became
// part of an order.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("reservation sweeper required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &reservationExpiryJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg    *logger.Logger
	sweeper reservationSweeper
	batch   int
	now     func() time.Time
}

func (j *reservationExpiryJob) Name() string { return JobReservationExpiry }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	released, err := j.sweeper.SweepExpired(ctx, now, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"now":        now,
		"batch_size": j.batch,
		"released":   released,
	})
	if err != nil {
		return fmt.Errorf("sweep expired reservations: %w", err)
	}
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return nil
}
