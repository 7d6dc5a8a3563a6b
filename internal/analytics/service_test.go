package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

var wednesday = time.Date(2026, 4, 15, 14, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, *gorm.DB, models.Vendor) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(conn, dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), nil)
	require.NoError(t, err)
	vendor := models.Vendor{Name: "Acme", Email: "acme@example.com", IsActive: true}
	require.NoError(t, conn.Create(&vendor).Error)
	return svc, conn, vendor
}

func TestRecordUpsertsTriple(t *testing.T) {
	svc, conn, vendor := newTestService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, RecordInput{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodWeekly, Date: wednesday,
		TotalOrders: 2, TotalRevenue: decimal.NewFromInt(40), TotalViews: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC), first.Date.UTC(), "weeks start on Monday")
	assert.Equal(t, "0.2500", first.ConversionRate.StringFixed(4))

	second, err := svc.Record(ctx, RecordInput{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodWeekly, Date: wednesday.AddDate(0, 0, 2),
		TotalOrders: 3, TotalRevenue: decimal.NewFromInt(60), TotalViews: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, second.TotalOrders)

	var count int64
	require.NoError(t, conn.Model(&models.VendorAnalytics{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordStrictRejectsDuplicateTriple(t *testing.T) {
	svc, _, vendor := newTestService(t)
	ctx := context.Background()
	input := RecordInput{VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: wednesday, TotalOrders: 1}

	_, err := svc.RecordStrict(ctx, input)
	require.NoError(t, err)

	input.Date = wednesday.Add(3 * time.Hour)
	_, err = svc.RecordStrict(ctx, input)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnique))

	input.Period = enums.AnalyticsPeriodMonthly
	_, err = svc.RecordStrict(ctx, input)
	require.NoError(t, err, "another period is another triple")
}

func TestRecordValidates(t *testing.T) {
	svc, _, vendor := newTestService(t)
	ctx := context.Background()

	cases := map[string]RecordInput{
		"no vendor":      {Period: enums.AnalyticsPeriodDaily, Date: wednesday},
		"bad period":     {VendorID: vendor.ID, Period: "HOURLY", Date: wednesday},
		"no date":        {VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily},
		"negative views": {VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: wednesday, TotalViews: -1},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Record(ctx, input)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestRollupCountsShippedAndDelivered(t *testing.T) {
	svc, conn, vendor := newTestService(t)
	ctx := context.Background()
	other := uuid.New()

	day := models.TruncateDay(wednesday)
	seed := []models.VendorOrder{
		{VendorID: vendor.ID, Status: enums.OrderStatusDelivered, Total: decimal.RequireFromString("25.50"), CreatedAt: day.Add(time.Hour)},
		{VendorID: vendor.ID, Status: enums.OrderStatusShipped, Total: decimal.RequireFromString("14.50"), CreatedAt: day.Add(20 * time.Hour)},
		{VendorID: vendor.ID, Status: enums.OrderStatusPending, Total: decimal.NewFromInt(99), CreatedAt: day.Add(2 * time.Hour)},
		{VendorID: vendor.ID, Status: enums.OrderStatusDelivered, Total: decimal.NewFromInt(99), CreatedAt: day.Add(-time.Hour)},
		{VendorID: other, Status: enums.OrderStatusDelivered, Total: decimal.NewFromInt(99), CreatedAt: day.Add(time.Hour)},
	}
	for i := range seed {
		seed[i].OrderID = uuid.New()
		require.NoError(t, conn.Create(&seed[i]).Error)
	}

	_, err := svc.AddViews(ctx, vendor.ID, enums.AnalyticsPeriodDaily, wednesday, 5)
	require.NoError(t, err)
	row, err := svc.AddViews(ctx, vendor.ID, enums.AnalyticsPeriodDaily, wednesday, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, row.TotalViews)

	row, err = svc.Rollup(ctx, vendor.ID, enums.AnalyticsPeriodDaily, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 2, row.TotalOrders)
	assert.Equal(t, "40.00", row.TotalRevenue.StringFixed(2))
	assert.Equal(t, 8, row.TotalViews)
	assert.Equal(t, "0.2500", row.ConversionRate.StringFixed(4))

	_, err = svc.Rollup(ctx, uuid.New(), enums.AnalyticsPeriodDaily, wednesday)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRollupWithoutViewsHasZeroConversion(t *testing.T) {
	svc, conn, vendor := newTestService(t)
	require.NoError(t, conn.Create(&models.VendorOrder{
		OrderID: uuid.New(), VendorID: vendor.ID, Status: enums.OrderStatusShipped,
		Total: decimal.NewFromInt(10), CreatedAt: wednesday,
	}).Error)

	row, err := svc.Rollup(context.Background(), vendor.ID, enums.AnalyticsPeriodMonthly, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 1, row.TotalOrders)
	assert.True(t, row.ConversionRate.IsZero())
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), row.Date.UTC())
}

func TestConversionRateStaysInColumnRange(t *testing.T) {
	assert.Equal(t, "999.9999", conversionRate(5000, 1).StringFixed(4))
	assert.Equal(t, "999.0000", conversionRate(999, 1).StringFixed(4))

	svc, _, vendor := newTestService(t)
	ctx := context.Background()
	row, err := svc.Record(ctx, RecordInput{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: wednesday,
		TotalOrders: 4000, TotalRevenue: decimal.NewFromInt(10), TotalViews: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "999.9999", row.ConversionRate.StringFixed(4))

	tooLarge := decimal.NewFromInt(1000)
	_, err = svc.Record(ctx, RecordInput{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: wednesday,
		TotalViews: 2, ConversionRate: &tooLarge,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestQueryAndSummary(t *testing.T) {
	svc, _, vendor := newTestService(t)
	ctx := context.Background()

	for i, orders := range []int{1, 3, 5} {
		_, err := svc.Record(ctx, RecordInput{
			VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: wednesday.AddDate(0, 0, i),
			TotalOrders: orders, TotalRevenue: decimal.NewFromInt(int64(orders * 10)), TotalViews: 10,
		})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, RecordInput{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodMonthly, Date: wednesday, TotalOrders: 1, TotalViews: 4,
	})
	require.NoError(t, err)

	from := wednesday.AddDate(0, 0, 1)
	daily, err := svc.Query(ctx, QueryInput{VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, From: &from})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, 3, daily[0].TotalOrders)

	summary, err := svc.Summary(ctx, SummaryInput{VendorID: vendor.ID})
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, enums.AnalyticsPeriodDaily, summary[0].Period)
	assert.EqualValues(t, 3, summary[0].Rows)
	assert.EqualValues(t, 9, summary[0].TotalOrders)
	assert.Equal(t, "90.00", summary[0].TotalRevenue.StringFixed(2))
	assert.EqualValues(t, 30, summary[0].TotalViews)
	assert.Equal(t, "0.3000", summary[0].AvgConversionRate.StringFixed(4))

	busy, err := svc.Summary(ctx, SummaryInput{VendorID: vendor.ID, MinOrders: 2})
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, enums.AnalyticsPeriodDaily, busy[0].Period)
}
