package products

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

func validatePricing(price decimal.Decimal, compare *decimal.Decimal) error {
	if price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if !price.Equal(price.Round(2)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "price has more than two decimal places")
	}
	if compare != nil && compare.LessThan(price) {
		return pkgerrors.New(pkgerrors.CodeValidation, "compare price must be at least the price").
			WithDetails(map[string]any{"price": price.StringFixed(2), "comparePrice": compare.StringFixed(2)})
	}
	return nil
}

func validateInventory(input InventoryInput, reserved int) error {
	if input.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if input.LowStockThreshold < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "low stock threshold must not be negative")
	}
	if input.Quantity < reserved {
		return pkgerrors.New(pkgerrors.CodeConflict, "quantity cannot drop below reserved stock").
			WithDetails(map[string]any{"quantity": input.Quantity, "reserved": reserved})
	}
	return nil
}
