package models

import "github.com/google/uuid"

// assignID fills a missing primary key before insert. Postgres also defaults ids,
// but setting them client side keeps the value available to the caller and to sqlite.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Vendor{},
		&Category{},
		&Product{},
		&ProductInventory{},
		&InventoryReservation{},
		&ShoppingCart{},
		&CartItem{},
		&Order{},
		&VendorOrder{},
		&OrderItem{},
		&ProductReview{},
		&Wishlist{},
		&WishlistItem{},
		&VendorAnalytics{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
