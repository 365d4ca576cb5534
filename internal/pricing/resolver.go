// Package pricing folds price modifiers over a product's base price.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/pkg/db/models"
)

// Resolution is the final unit price of a product and the label shown for it.
type Resolution struct {
	UnitPrice decimal.Decimal
	Label     string
}

// Resolve folds modifiers left to right over the product's base price. The
// list order is honoured as given; callers that collect modifiers from UI
// toggles should pass them through Canonical or Selection.Modifiers first.
func Resolve(product models.Product, modifiers []Modifier) (Resolution, error) {
	price, label := product.BasePrice, product.Name
	for i, m := range modifiers {
		if !m.valid() {
			return Resolution{}, fmt.Errorf("%w: modifier %d has no kind", ErrInvalidModifier, i)
		}
		price, label = m.apply(price, label)
	}
	return Resolution{UnitPrice: price, Label: label}, nil
}
