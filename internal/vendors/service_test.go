package vendors

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
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(conn, dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), nil)
	require.NoError(t, err)
	return svc, conn
}

func TestCreateNormalizesEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: " Acme ", Email: "  Sales@Acme.COM "})
	require.NoError(t, err)
	assert.Equal(t, "Acme", vendor.Name)
	assert.Equal(t, "sales@acme.com", vendor.Email)
	assert.True(t, vendor.IsActive)
	assert.False(t, vendor.IsVerified)

	found, err := svc.GetByEmail(ctx, "SALES@acme.com")
	require.NoError(t, err)
	assert.Equal(t, vendor.ID, found.ID)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Acme", Email: "sales@acme.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "Acme Two", Email: "Sales@Acme.com"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnique))
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "", Email: "a@b.co"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Create(ctx, CreateInput{Name: "Acme", Email: "not an email"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestVerifyDeactivateAndActiveIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Name: "B", Email: "b@example.com"})
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	deactivated, err := svc.Deactivate(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	ids, err := svc.ActiveVendorIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, ids)
}

func TestUpdateAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Old", Email: "old@example.com"})
	require.NoError(t, err)

	name := "New"
	email := "NEW@example.com"
	updated, err := svc.Update(ctx, vendor.ID, UpdateInput{Name: &name, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, "new@example.com", updated.Email)

	rows, err := svc.List(ctx, query.FindManyArgs{Where: query.StartsWith("name", "N").Ptr()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, vendor.ID, rows[0].ID)
}

func TestDeleteBlockedByProducts(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Acme", Email: "acme@example.com"})
	require.NoError(t, err)
	require.NoError(t, conn.Create(&models.Product{
		Name: "Widget", Price: decimal.NewFromInt(5), Category: "tools", VendorID: vendor.ID, IsActive: true,
	}).Error)

	err = svc.Delete(ctx, vendor.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	_, err = svc.Get(ctx, vendor.ID)
	require.NoError(t, err)
}

func TestDeleteCascadesAnalytics(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	vendor, err := svc.Create(ctx, CreateInput{Name: "Acme", Email: "acme@example.com"})
	require.NoError(t, err)
	require.NoError(t, conn.Create(&models.VendorAnalytics{
		VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: time.Now(),
		TotalRevenue: decimal.Zero, ConversionRate: decimal.Zero,
	}).Error)

	require.NoError(t, svc.Delete(ctx, vendor.ID))

	_, err = svc.Get(ctx, vendor.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	var remaining int64
	require.NoError(t, conn.Model(&models.VendorAnalytics{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
}
