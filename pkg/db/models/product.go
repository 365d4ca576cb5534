package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog listing a cart line is priced from. The settlement
// core only reads it.
type Product struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description;not null;default:''"`
	BasePrice   decimal.Decimal `gorm:"column:base_price;type:numeric;not null"`
	Brand       string          `gorm:"column:brand;not null;default:''"`
	Category    string          `gorm:"column:category;not null;default:''"`
	ImageRef    string          `gorm:"column:image_ref;not null;default:''"`
	Featured    bool            `gorm:"column:featured;not null;default:false"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Product) TableName() string { return "products" }
