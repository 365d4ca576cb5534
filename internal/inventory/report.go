package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
)

// StockStatus is one inventory row with its warning level.
type StockStatus struct {
	ProductID      int64            `json:"product_id"`
	QuantityOnHand int              `json:"quantity_on_hand"`
	MinThreshold   int              `json:"min_threshold"`
	Level          enums.StockLevel `json:"level"`
}

// Reporter serves read-only stock reports outside of any commit.
type Reporter struct {
	db             *gorm.DB
	ledger         *Ledger
	warnMultiplier int
}

func NewReporter(db *gorm.DB, ledger *Ledger, warnMultiplier int) (*Reporter, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &Reporter{db: db, ledger: ledger, warnMultiplier: warnMultiplier}, nil
}

// LowStock lists products at or below their minimum, scarcest first.
func (r *Reporter) LowStock(ctx context.Context, limit int) ([]StockStatus, error) {
	rows, err := r.ledger.LowStock(ctx, r.db, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock")
	}
	out := make([]StockStatus, 0, len(rows))
	for _, rec := range rows {
		out = append(out, StockStatus{
			ProductID:      rec.ProductID,
			QuantityOnHand: rec.QuantityOnHand,
			MinThreshold:   rec.MinThreshold,
			Level:          Level(rec, r.warnMultiplier),
		})
	}
	return out, nil
}
