package models

import "time"

// Customer is the paying principal, one-to-one with a provider customer.
type Customer struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	ProviderCustomerID string    `gorm:"column:provider_customer_id;not null;uniqueIndex"`
	Email              *string   `gorm:"column:email"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}
