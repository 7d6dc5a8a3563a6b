package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// VendorAnalytics is one roll-up row per (vendor, period, period start date).
type VendorAnalytics struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	VendorID       uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:vendor_analytics_vendor_period_date_key,priority:1" json:"vendorId"`
	Period         enums.AnalyticsPeriod `gorm:"column:period;type:analytics_period;not null;uniqueIndex:vendor_analytics_vendor_period_date_key,priority:2" json:"period"`
	Date           time.Time             `gorm:"column:date;type:date;not null;uniqueIndex:vendor_analytics_vendor_period_date_key,priority:3" json:"date"`
	TotalOrders    int                   `gorm:"column:total_orders;not null" json:"totalOrders"`
	TotalRevenue   decimal.Decimal       `gorm:"column:total_revenue;type:numeric(12,2);not null" json:"totalRevenue"`
	TotalViews     int                   `gorm:"column:total_views;not null" json:"totalViews"`
	ConversionRate decimal.Decimal       `gorm:"column:conversion_rate;type:numeric(7,4);not null" json:"conversionRate"`
	Vendor         *Vendor               `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (VendorAnalytics) TableName() string { return "vendor_analytics" }

func (VendorAnalytics) UniqueKeys() [][]string { return [][]string{{"vendor_id", "period", "date"}} }

func (a *VendorAnalytics) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	a.Date = TruncateDay(a.Date)
	return nil
}

// TruncateDay drops the clock part of t in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
