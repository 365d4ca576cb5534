package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/pkg/enums"
)

// Order is the header row written by an order commit. ID is the
// caller-supplied idempotency key.
type Order struct {
	ID               string              `gorm:"column:id;primaryKey"`
	CustomerID       string              `gorm:"column:customer_id;not null"`
	Total            decimal.Decimal     `gorm:"column:total;type:numeric;not null"`
	Status           enums.OrderStatus   `gorm:"column:status;type:text;not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	PaymentReference *string             `gorm:"column:payment_reference"`
	Lines            []OrderLine         `gorm:"foreignKey:OrderID"`
	CreatedAt        time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;not null"`
}

func (Order) TableName() string { return "orders" }
