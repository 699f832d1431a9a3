package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// Plan is read-only catalog data. Family groups plans that a customer may
// hold at most one live subscription for.
type Plan struct {
	ID              string                `gorm:"column:id;primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	Family          string                `gorm:"column:family;not null;index"`
	PriceAmount     decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode    string                `gorm:"column:currency_code;not null"`
	Interval        enums.BillingInterval `gorm:"column:interval;type:text;not null"`
	TrialDays       int                   `gorm:"column:trial_days;not null;default:0"`
	ProviderPriceID string                `gorm:"column:provider_price_id;not null"`
	Features        pq.StringArray        `gorm:"column:features;type:text"`
	Active          bool                  `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
