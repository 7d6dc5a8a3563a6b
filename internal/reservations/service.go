package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

const (
	defaultTTL        = 15 * time.Minute
	defaultSweepBatch = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service holds stock for customers for a limited time.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.InventoryReservation, error)
	Release(ctx context.Context, id uuid.UUID) error
	Commit(ctx context.Context, id, orderID uuid.UUID) error
	AttachOrder(ctx context.Context, id, orderID uuid.UUID) (*models.InventoryReservation, error)
	ListActive(ctx context.Context, customerID uuid.UUID) ([]models.InventoryReservation, error)
	SweepExpired(ctx context.Context, now time.Time, batch int) (int, error)
}

// ReserveInput requests a hold. TTL falls back to the configured default.
type ReserveInput struct {
	ProductID  uuid.UUID
	CustomerID uuid.UUID
	Quantity   int
	SessionID  *string
	TTL        time.Duration
}

type Params struct {
	DB         *gorm.DB
	Tx         txRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
	DefaultTTL time.Duration
	SweepBatch int
	Clock      func() time.Time
}

type service struct {
	tx           txRunner
	outbox       outboxPublisher
	reservations *repo.Repository[models.InventoryReservation]
	logg         *logger.Logger
	ttl          time.Duration
	batch        int
	now          func() time.Time
}

func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	reservations, err := repo.New[models.InventoryReservation](p.DB)
	if err != nil {
		return nil, err
	}
	s := &service{
		tx:           p.Tx,
		outbox:       p.Outbox,
		reservations: reservations,
		logg:         p.Logger,
		ttl:          p.DefaultTTL,
		batch:        p.SweepBatch,
		now:          p.Clock,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.batch <= 0 {
		s.batch = defaultSweepBatch
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.InventoryReservation, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	hold := &models.InventoryReservation{
		ProductID:  input.ProductID,
		CustomerID: input.CustomerID,
		Quantity:   input.Quantity,
		SessionID:  input.SessionID,
		ExpiresAt:  s.now().UTC().Add(ttl),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		stock, err := StockOn(tx)
		if err != nil {
			return err
		}
		inv, err := stock.lock(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if inv == nil {
			return pkgerrors.NotFound("ProductInventory")
		}
		if inv.TrackQuantity && inv.Available() < input.Quantity {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"productId": input.ProductID, "requested": input.Quantity, "available": inv.Available()})
		}
		if err := stock.write(ctx, inv, inv.Quantity, inv.ReservedQuantity+input.Quantity); err != nil {
			return err
		}
		return s.reservations.WithTx(tx).Create(ctx, hold)
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"reservation_id": hold.ID.String(),
			"product_id":     hold.ProductID.String(),
			"quantity":       hold.Quantity,
		})
		s.logg.Info(ctx, "inventory reserved")
	}
	return hold, nil
}

// Release drops a hold. Releasing a hold that no longer exists is a no-op.
func (s *service) Release(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		hold, err := s.reservations.WithTx(tx).FindByID(ctx, id)
		if err != nil || hold == nil {
			return err
		}
		stock, err := StockOn(tx)
		if err != nil {
			return err
		}
		return stock.release(ctx, *hold)
	})
}

// Commit records the order on the hold and moves its quantity out of stock.
func (s *service) Commit(ctx context.Context, id, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		holds := s.reservations.WithTx(tx)
		hold, err := holds.Update(ctx, id, query.Data{"order_id": orderID})
		if err != nil {
			return err
		}
		stock, err := StockOn(tx)
		if err != nil {
			return err
		}
		return stock.commit(ctx, *hold)
	})
}

// AttachOrder ties a hold to an order, which keeps it out of the expiry sweep.
func (s *service) AttachOrder(ctx context.Context, id, orderID uuid.UUID) (*models.InventoryReservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.reservations.Update(ctx, id, query.Data{"order_id": orderID})
}

func (s *service) ListActive(ctx context.Context, customerID uuid.UUID) ([]models.InventoryReservation, error) {
	return s.reservations.FindMany(ctx, query.FindManyArgs{
		Where: query.And(
			query.Eq("customer_id", customerID),
			query.Gt("expires_at", s.now().UTC()),
		).Ptr(),
		OrderBy: []query.OrderBy{query.Asc("expires_at")},
	})
}

// SweepExpired releases lapsed holds that never reached an order, one batch per
// transaction, and returns how many were released.
func (s *service) SweepExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = s.batch
	}
	now = now.UTC()
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		released := 0
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			expired, err := s.reservations.WithTx(tx).FindMany(ctx, query.FindManyArgs{
				Where: query.And(
					query.Lte("expires_at", now),
					query.IsNull("order_id"),
				).Ptr(),
				OrderBy: []query.OrderBy{query.Asc("expires_at")},
				Take:    query.Take(batch),
			})
			if err != nil {
				return err
			}
			stock, err := StockOn(tx)
			if err != nil {
				return err
			}
			for _, hold := range expired {
				if err := stock.release(ctx, hold); err != nil {
					return err
				}
				if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventReservationExpired,
					AggregateType: enums.AggregateReservation,
					AggregateID:   hold.ID,
					OccurredAt:    now,
					Data: payloads.ReservationExpiredEvent{
						ReservationID: hold.ID,
						ProductID:     hold.ProductID,
						CustomerID:    hold.CustomerID,
						Quantity:      hold.Quantity,
						ExpiredAt:     hold.ExpiresAt,
					},
				}); err != nil {
					return err
				}
			}
			released = len(expired)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += released
		if released < batch {
			break
		}
	}
	if total > 0 && s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "released", total), "expired reservations released")
	}
	return total, nil
}
