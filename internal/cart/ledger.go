// Package cart stages the products a shopper intends to buy.
//
// A Ledger belongs to a single shopping session and is not safe for
// concurrent use.
package cart

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/internal/pricing"
	"github.com/angelmondragon/settlement/pkg/db/models"
)

// Line is one product in the cart with the price it was resolved at.
type Line struct {
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Label       string
	Quantity    int
}

// Subtotal is UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Ledger maps product ids to cart lines. Lines never hold a quantity below 1.
// The zero value is an empty cart ready to use.
type Ledger struct {
	lines map[int64]*Line
}

func New() *Ledger {
	return &Ledger{lines: make(map[int64]*Line)}
}

// AddOrIncrement adds one unit of a product. A product already in the cart
// keeps the price and label it was first added with.
func (c *Ledger) AddOrIncrement(productID int64, productName string, unitPrice decimal.Decimal, label string) {
	if line, ok := c.lines[productID]; ok {
		line.Quantity++
		return
	}
	if c.lines == nil {
		c.lines = make(map[int64]*Line)
	}
	c.lines[productID] = &Line{
		ProductID:   productID,
		ProductName: productName,
		UnitPrice:   unitPrice,
		Label:       label,
		Quantity:    1,
	}
}

// Add is AddOrIncrement for a catalog product priced by the resolver.
func (c *Ledger) Add(product models.Product, res pricing.Resolution) {
	c.AddOrIncrement(product.ID, product.Name, res.UnitPrice, res.Label)
}

// AdjustQuantity moves a line's quantity by delta and drops the line when it
// reaches zero. Unknown products are ignored.
func (c *Ledger) AdjustQuantity(productID int64, delta int) {
	line, ok := c.lines[productID]
	if !ok {
		return
	}
	line.Quantity += delta
	if line.Quantity <= 0 {
		delete(c.lines, productID)
	}
}

func (c *Ledger) Remove(productID int64) {
	delete(c.lines, productID)
}

// Get returns a copy of the line for productID.
func (c *Ledger) Get(productID int64) (Line, bool) {
	line, ok := c.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *line, true
}

func (c *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (c *Ledger) IsEmpty() bool {
	return len(c.lines) == 0
}

// ItemCount is the number of units across all lines.
func (c *Ledger) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return count
}

// Lines returns a snapshot of the cart ordered by product id.
func (c *Ledger) Lines() []Line {
	out := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c *Ledger) Clear() {
	c.lines = make(map[int64]*Line)
}
