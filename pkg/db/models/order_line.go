package models

import "github.com/shopspring/decimal"

// OrderLine snapshots one product of a committed order. Rows are only written
// by the commit that creates their order.
type OrderLine struct {
	OrderID             string          `gorm:"column:order_id;primaryKey"`
	ProductID           int64           `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	ProductNameSnapshot string          `gorm:"column:product_name_snapshot;not null"`
	Label               string          `gorm:"column:label;not null;default:''"`
	UnitPrice           decimal.Decimal `gorm:"column:unit_price;type:numeric;not null"`
	Quantity            int             `gorm:"column:quantity;not null"`
	Subtotal            decimal.Decimal `gorm:"column:subtotal;type:numeric;not null"`
}

func (OrderLine) TableName() string { return "order_lines" }
