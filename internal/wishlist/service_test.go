package wishlist

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB, []models.Product) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(conn, dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), nil)
	require.NoError(t, err)

	vendor := models.Vendor{Name: "Acme", Email: "acme@example.com", IsActive: true}
	require.NoError(t, conn.Create(&vendor).Error)
	products := []models.Product{
		{Name: "Lamp", Price: decimal.NewFromInt(20), Category: "home", VendorID: vendor.ID, IsActive: true},
		{Name: "Rug", Price: decimal.NewFromInt(80), Category: "home", VendorID: vendor.ID, IsActive: true},
	}
	for i := range products {
		require.NoError(t, conn.Create(&products[i]).Error)
	}
	return svc, conn, products
}

func TestGetOrCreateReturnsSameWishlist(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()

	first, err := svc.GetOrCreate(ctx, customer)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.GetOrCreate(ctx, uuid.Nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestAddItemsSkipsDuplicates(t *testing.T) {
	svc, _, products := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()

	added, err := svc.AddItems(ctx, customer, products[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, added)

	added, err = svc.AddItems(ctx, customer, products[0].ID, products[1].ID, products[1].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, added)

	items, err := svc.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.NotNil(t, item.Product)
		assert.Equal(t, item.ProductID, item.Product.ID)
	}
}

func TestAddItemsRequiresKnownProducts(t *testing.T) {
	svc, conn, products := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItems(ctx, uuid.New(), products[0].ID, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	var count int64
	require.NoError(t, conn.Model(&models.WishlistItem{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = svc.AddItems(ctx, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRemoveItemAndDelete(t *testing.T) {
	svc, conn, products := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()

	_, err := svc.AddItems(ctx, customer, products[0].ID, products[1].ID)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(ctx, customer, products[0].ID))
	err = svc.RemoveItem(ctx, customer, products[0].ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	items, err := svc.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, products[1].ID, items[0].ProductID)

	require.NoError(t, svc.Delete(ctx, customer))
	var count int64
	require.NoError(t, conn.Model(&models.WishlistItem{}).Count(&count).Error)
	assert.Zero(t, count)

	items, err = svc.List(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, items)
}
