package reviews

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

var ratingAggregates = query.Aggregates{Count: true, Avg: []string{"rating"}}

// RefreshRatings recomputes the rating and review count of a product and of
// its vendor from active reviews. It must run inside the writing transaction.
func RefreshRatings(ctx context.Context, tx *gorm.DB, productID, vendorID uuid.UUID) error {
	reviews, err := repo.New[models.ProductReview](tx)
	if err != nil {
		return err
	}
	products, err := repo.New[models.Product](tx)
	if err != nil {
		return err
	}

	summary, err := reviews.Aggregate(ctx, query.And(
		query.Eq("product_id", productID),
		query.Eq("is_active", true),
	).Ptr(), ratingAggregates)
	if err != nil {
		return err
	}
	if _, err := products.Update(ctx, productID, ratingData(summary)); err != nil {
		return err
	}
	return RefreshVendorRating(ctx, tx, vendorID)
}

// RefreshVendorRating recomputes a vendor's rating across all its products.
func RefreshVendorRating(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) error {
	vendors, err := repo.New[models.Vendor](tx)
	if err != nil {
		return err
	}
	products, err := repo.New[models.Product](tx)
	if err != nil {
		return err
	}
	reviews, err := repo.New[models.ProductReview](tx)
	if err != nil {
		return err
	}

	owned, err := products.FindMany(ctx, query.FindManyArgs{
		Where:  query.Eq("vendor_id", vendorID).Ptr(),
		Select: []string{"id"},
	})
	if err != nil {
		return err
	}
	ids := make([]any, 0, len(owned))
	for _, p := range owned {
		ids = append(ids, p.ID)
	}

	summary, err := reviews.Aggregate(ctx, query.And(
		query.In("product_id", ids...),
		query.Eq("is_active", true),
	).Ptr(), ratingAggregates)
	if err != nil {
		return err
	}
	_, err = vendors.Update(ctx, vendorID, ratingData(summary))
	return err
}

func ratingData(summary query.AggregateResult) query.Data {
	avg := summary.Avg["rating"]
	rating := decimal.NullDecimal{}
	if summary.Count > 0 && avg.Valid {
		rating = decimal.NewNullDecimal(avg.Decimal.Round(2))
	}
	return query.Data{
		"rating":       rating,
		"review_count": summary.Count,
	}
}
