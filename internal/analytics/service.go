package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service maintains the per-vendor roll-up rows.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.VendorAnalytics, error)
	RecordStrict(ctx context.Context, input RecordInput) (*models.VendorAnalytics, error)
	AddViews(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, at time.Time, views int) (*models.VendorAnalytics, error)
	Query(ctx context.Context, input QueryInput) ([]models.VendorAnalytics, error)
	Summary(ctx context.Context, input SummaryInput) ([]PeriodSummary, error)
	Rollup(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, date time.Time) (*models.VendorAnalytics, error)
}

// RecordInput writes one row. Date may be any instant inside the period; it is
// stored as the period start. A nil ConversionRate is derived from orders and views.
type RecordInput struct {
	VendorID       uuid.UUID
	Period         enums.AnalyticsPeriod
	Date           time.Time
	TotalOrders    int
	TotalRevenue   decimal.Decimal
	TotalViews     int
	ConversionRate *decimal.Decimal
}

type QueryInput struct {
	VendorID uuid.UUID
	Period   enums.AnalyticsPeriod
	From     *time.Time
	To       *time.Time
	Take     *int
}

// SummaryInput totals a vendor's rows per period. Periods with fewer than
// MinOrders orders are left out.
type SummaryInput struct {
	VendorID  uuid.UUID
	From      *time.Time
	To        *time.Time
	MinOrders int
}

type PeriodSummary struct {
	Period            enums.AnalyticsPeriod `json:"period"`
	Rows              int64                 `json:"rows"`
	TotalOrders       int64                 `json:"totalOrders"`
	TotalRevenue      decimal.Decimal       `json:"totalRevenue"`
	TotalViews        int64                 `json:"totalViews"`
	AvgConversionRate decimal.Decimal       `json:"avgConversionRate"`
}

type service struct {
	tx           txRunner
	analytics    *repo.Repository[models.VendorAnalytics]
	vendorOrders *repo.Repository[models.VendorOrder]
	vendors      *repo.Repository[models.Vendor]
	logg         *logger.Logger
}

func NewService(conn *gorm.DB, tx txRunner, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	analytics, err := repo.New[models.VendorAnalytics](conn)
	if err != nil {
		return nil, err
	}
	vendorOrders, err := repo.New[models.VendorOrder](conn)
	if err != nil {
		return nil, err
	}
	vendors, err := repo.New[models.Vendor](conn)
	if err != nil {
		return nil, err
	}
	return &service{tx: tx, analytics: analytics, vendorOrders: vendorOrders, vendors: vendors, logg: logg}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.VendorAnalytics, error) {
	row, err := s.build(input)
	if err != nil {
		return nil, err
	}
	return s.analytics.Upsert(ctx, tripleKey(row.VendorID, row.Period, row.Date), row, query.Data{
		"total_orders":    row.TotalOrders,
		"total_revenue":   row.TotalRevenue,
		"total_views":     row.TotalViews,
		"conversion_rate": row.ConversionRate,
	})
}

// RecordStrict inserts a row and fails with UNIQUE_CONSTRAINT_VIOLATION when the
// (vendor, period, date) triple already exists.
func (s *service) RecordStrict(ctx context.Context, input RecordInput) (*models.VendorAnalytics, error) {
	row, err := s.build(input)
	if err != nil {
		return nil, err
	}
	if err := s.analytics.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// AddViews bumps the view counter of the period containing at, creating the row
// when missing. The conversion rate is recomputed.
func (s *service) AddViews(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, at time.Time, views int) (*models.VendorAnalytics, error) {
	if views <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "views must be positive")
	}
	if !period.IsValid() {
		return nil, invalidPeriod(period)
	}
	start, _ := period.Window(at)
	var row *models.VendorAnalytics
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows := s.analytics.WithTx(tx)
		var err error
		row, err = rows.Upsert(ctx, tripleKey(vendorID, period, start),
			&models.VendorAnalytics{VendorID: vendorID, Period: period, Date: start, TotalViews: views, ConversionRate: decimal.Zero},
			query.Data{"total_views": query.Increment{By: views}},
		)
		if err != nil {
			return err
		}
		rate := conversionRate(row.TotalOrders, row.TotalViews)
		if rate.Equal(row.ConversionRate) {
			return nil
		}
		row, err = rows.Update(ctx, row.ID, query.Data{"conversion_rate": rate})
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) Query(ctx context.Context, input QueryInput) ([]models.VendorAnalytics, error) {
	filters := []query.Filter{query.Eq("vendor_id", input.VendorID)}
	if input.Period != "" {
		if !input.Period.IsValid() {
			return nil, invalidPeriod(input.Period)
		}
		filters = append(filters, query.Eq("period", input.Period))
	}
	filters = append(filters, dateRange(input.From, input.To)...)
	return s.analytics.FindMany(ctx, query.FindManyArgs{
		Where:   query.And(filters...).Ptr(),
		OrderBy: []query.OrderBy{query.Asc("date"), query.Asc("period")},
		Take:    input.Take,
	})
}

func (s *service) Summary(ctx context.Context, input SummaryInput) ([]PeriodSummary, error) {
	if input.MinOrders < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minOrders must not be negative")
	}
	filters := append([]query.Filter{query.Eq("vendor_id", input.VendorID)}, dateRange(input.From, input.To)...)
	args := query.GroupByArgs{
		By:      []string{"period"},
		Where:   query.And(filters...).Ptr(),
		OrderBy: []query.OrderBy{query.Asc("period")},
		Aggregates: query.Aggregates{
			Count: true,
			Sum:   []string{"total_orders", "total_revenue", "total_views"},
			Avg:   []string{"conversion_rate"},
		},
	}
	if input.MinOrders > 0 {
		args.Having = query.Gte("total_orders", input.MinOrders).OfAgg(query.AggSum).Ptr()
	}
	groups, err := s.analytics.GroupBy(ctx, args)
	if err != nil {
		return nil, err
	}

	out := make([]PeriodSummary, 0, len(groups))
	for _, group := range groups {
		period, err := enums.ParseAnalyticsPeriod(fmt.Sprint(group.Key["period"]))
		if err != nil {
			return nil, err
		}
		out = append(out, PeriodSummary{
			Period:            period,
			Rows:              group.Count,
			TotalOrders:       sumOf(group.Sum, "total_orders").IntPart(),
			TotalRevenue:      sumOf(group.Sum, "total_revenue").Round(2),
			TotalViews:        sumOf(group.Sum, "total_views").IntPart(),
			AvgConversionRate: sumOf(group.Avg, "conversion_rate").Round(4),
		})
	}
	return out, nil
}

// Rollup recomputes the row of the period containing date from the vendor's
// shipped and delivered vendor orders created inside the window. Views already
// recorded for the row are kept.
func (s *service) Rollup(ctx context.Context, vendorID uuid.UUID, period enums.AnalyticsPeriod, date time.Time) (*models.VendorAnalytics, error) {
	if !period.IsValid() {
		return nil, invalidPeriod(period)
	}
	start, end := period.Window(date)
	var row *models.VendorAnalytics
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.vendors.WithTx(tx).FindByIDOrThrow(ctx, vendorID); err != nil {
			return err
		}
		sales, err := s.vendorOrders.WithTx(tx).Aggregate(ctx, query.And(
			query.Eq("vendor_id", vendorID),
			query.In("status", enums.OrderStatusShipped, enums.OrderStatusDelivered),
			query.Gte("created_at", start),
			query.Lt("created_at", end),
		).Ptr(), query.Aggregates{Count: true, Sum: []string{"total"}})
		if err != nil {
			return err
		}
		revenue := sumOf(sales.Sum, "total").Round(2)
		orders := int(sales.Count)

		rows := s.analytics.WithTx(tx)
		existing, err := rows.FindUnique(ctx, tripleKey(vendorID, period, start))
		if err != nil {
			return err
		}
		views := 0
		if existing != nil {
			views = existing.TotalViews
		}
		rate := conversionRate(orders, views)
		row, err = rows.Upsert(ctx, tripleKey(vendorID, period, start),
			&models.VendorAnalytics{
				VendorID: vendorID, Period: period, Date: start,
				TotalOrders: orders, TotalRevenue: revenue, ConversionRate: rate,
			},
			query.Data{"total_orders": orders, "total_revenue": revenue, "conversion_rate": rate},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithVendorID(ctx, vendorID.String())
		ctx = s.logg.WithFields(ctx, map[string]any{
			"period": period.String(),
			"date":   start.Format(time.DateOnly),
			"orders": row.TotalOrders,
		})
		s.logg.Debug(ctx, "vendor analytics rolled up")
	}
	return row, nil
}

func (s *service) build(input RecordInput) (*models.VendorAnalytics, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.Period.IsValid() {
		return nil, invalidPeriod(input.Period)
	}
	if input.Date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date is required")
	}
	if input.TotalOrders < 0 || input.TotalViews < 0 || input.TotalRevenue.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "totals must not be negative")
	}
	rate := conversionRate(input.TotalOrders, input.TotalViews)
	if input.ConversionRate != nil {
		if input.ConversionRate.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversion rate must not be negative")
		}
		if input.ConversionRate.Round(4).GreaterThan(maxConversionRate) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversion rate is too large").
				WithDetails(map[string]any{"max": maxConversionRate.String()})
		}
		rate = input.ConversionRate.Round(4)
	}
	start, _ := input.Period.Window(input.Date)
	return &models.VendorAnalytics{
		VendorID:       input.VendorID,
		Period:         input.Period,
		Date:           start,
		TotalOrders:    input.TotalOrders,
		TotalRevenue:   input.TotalRevenue.Round(2),
		TotalViews:     input.TotalViews,
		ConversionRate: rate,
	}, nil
}

func tripleKey(vendorID uuid.UUID, period enums.AnalyticsPeriod, date time.Time) query.UniqueKey {
	return query.UniqueKey{"vendor_id": vendorID, "period": period, "date": models.TruncateDay(date)}
}

func dateRange(from, to *time.Time) []query.Filter {
	var filters []query.Filter
	if from != nil {
		filters = append(filters, query.Gte("date", models.TruncateDay(*from)))
	}
	if to != nil {
		filters = append(filters, query.Lte("date", models.TruncateDay(*to)))
	}
	return filters
}

// maxConversionRate is the largest value conversion_rate numeric(7,4) holds.
var maxConversionRate = decimal.RequireFromString("999.9999")

// conversionRate is orders over views to four places, or zero without views.
// Ratios past the column range are capped.
func conversionRate(orders, views int) decimal.Decimal {
	if views <= 0 {
		return decimal.Zero
	}
	rate := decimal.NewFromInt(int64(orders)).DivRound(decimal.NewFromInt(int64(views)), 4)
	if rate.GreaterThan(maxConversionRate) {
		return maxConversionRate
	}
	return rate
}

func sumOf(values map[string]decimal.NullDecimal, field string) decimal.Decimal {
	if v, ok := values[field]; ok && v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}

func invalidPeriod(period enums.AnalyticsPeriod) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid analytics period").
		WithDetails(map[string]any{"period": period})
}
