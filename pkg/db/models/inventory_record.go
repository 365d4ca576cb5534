package models

import "time"

// InventoryRecord tracks on-hand stock for a single product.
type InventoryRecord struct {
	ProductID      int64     `gorm:"column:product_id;primaryKey;autoIncrement:false"`
	QuantityOnHand int       `gorm:"column:quantity_on_hand;not null;default:0"`
	MinThreshold   int       `gorm:"column:min_threshold;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (InventoryRecord) TableName() string { return "inventory" }
