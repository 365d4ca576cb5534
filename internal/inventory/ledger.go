// Package inventory keeps on-hand stock per product. Every call runs inside a
// transaction owned by the caller.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
)

var errTxRequired = errors.New("transaction required")

// InsufficientStockError reports a decrement that would have driven stock
// below zero.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// Ledger reads and adjusts inventory records.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// Get returns quantity on hand and minimum threshold. A product without an
// inventory record reads as (0, 0).
func (l *Ledger) Get(ctx context.Context, tx *gorm.DB, productID int64) (int, int, error) {
	rec, err := l.record(ctx, tx, productID)
	if err != nil {
		return 0, 0, err
	}
	if rec == nil {
		return 0, 0, nil
	}
	return rec.QuantityOnHand, rec.MinThreshold, nil
}

func (l *Ledger) record(ctx context.Context, tx *gorm.DB, productID int64) (*models.InventoryRecord, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rec models.InventoryRecord
	err := tx.WithContext(ctx).Where("product_id = ?", productID).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("load inventory %d: %w", productID, err)
	}
	if rec.ProductID == 0 {
		return nil, nil
	}
	return &rec, nil
}

// Decrement removes amount units from a product's stock and returns the
// updated record. The update is guarded in SQL, so a shortfall writes nothing
// and yields an INSUFFICIENT_STOCK error wrapping *InsufficientStockError.
func (l *Ledger) Decrement(ctx context.Context, tx *gorm.DB, productID int64, amount int) (models.InventoryRecord, error) {
	if tx == nil {
		return models.InventoryRecord{}, errTxRequired
	}
	if amount <= 0 {
		return models.InventoryRecord{}, pkgerrors.New(pkgerrors.CodeValidation, "decrement amount must be positive").
			WithDetails(map[string]any{"product_id": productID, "amount": amount})
	}

	res := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("product_id = ? AND quantity_on_hand >= ?", productID, amount).
		Updates(map[string]any{
			"quantity_on_hand": gorm.Expr("quantity_on_hand - ?", amount),
			"updated_at":       l.now(),
		})
	if res.Error != nil {
		return models.InventoryRecord{}, fmt.Errorf("decrement inventory %d: %w", productID, res.Error)
	}

	rec, err := l.record(ctx, tx, productID)
	if err != nil {
		return models.InventoryRecord{}, err
	}
	if res.RowsAffected == 0 {
		available := 0
		if rec != nil {
			available = rec.QuantityOnHand
		}
		return models.InventoryRecord{}, insufficient(productID, available, amount)
	}
	return *rec, nil
}

func insufficient(productID int64, available, requested int) error {
	cause := &InsufficientStockError{ProductID: productID, Available: available, Requested: requested}
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, cause, "not enough stock").
		WithDetails(map[string]any{
			"product_id": productID,
			"available":  available,
			"requested":  requested,
		})
}

// BelowThreshold reports whether stock is at or under the product's minimum.
// It is informational and never blocks a commit.
func (l *Ledger) BelowThreshold(ctx context.Context, tx *gorm.DB, productID int64) (bool, error) {
	qty, minimum, err := l.Get(ctx, tx, productID)
	if err != nil {
		return false, err
	}
	return qty <= minimum, nil
}

// Create opens the inventory record of a new product.
func (l *Ledger) Create(ctx context.Context, tx *gorm.DB, productID int64, quantityOnHand, minThreshold int) error {
	if tx == nil {
		return errTxRequired
	}
	if quantityOnHand < 0 || minThreshold < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock and threshold must not be negative")
	}
	rec := models.InventoryRecord{
		ProductID:      productID,
		QuantityOnHand: quantityOnHand,
		MinThreshold:   minThreshold,
		UpdatedAt:      l.now(),
	}
	return tx.WithContext(ctx).Create(&rec).Error
}

// LowStock lists records at or below their minimum, scarcest first. A limit of
// zero or less returns them all.
func (l *Ledger) LowStock(ctx context.Context, tx *gorm.DB, limit int) ([]models.InventoryRecord, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.WithContext(ctx).
		Where("quantity_on_hand <= min_threshold").
		Order("quantity_on_hand ASC").
		Order("product_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.InventoryRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return rows, nil
}

// Level buckets a record: critical at or below the minimum, warning within
// warnMultiplier times the minimum.
func Level(rec models.InventoryRecord, warnMultiplier int) enums.StockLevel {
	if warnMultiplier < 1 {
		warnMultiplier = 1
	}
	switch {
	case rec.QuantityOnHand <= rec.MinThreshold:
		return enums.StockLevelCritical
	case rec.QuantityOnHand <= rec.MinThreshold*warnMultiplier:
		return enums.StockLevelWarning
	default:
		return enums.StockLevelOK
	}
}
