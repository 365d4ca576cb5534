package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidModifier is returned when a modifier is built with an out of
// range value.
var ErrInvalidModifier = errors.New("invalid price modifier")

// Kind tags a Modifier variant.
type Kind uint8

const (
	KindDiscount Kind = iota + 1
	KindShippingSurcharge
)

func (k Kind) String() string {
	switch k {
	case KindDiscount:
		return "discount"
	case KindShippingSurcharge:
		return "shipping_surcharge"
	default:
		return "unknown"
	}
}

// RushShippingAmount is the flat surcharge charged for rush delivery.
var RushShippingAmount = decimal.NewFromInt(20000)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Modifier is a single price transform. The zero value is not a valid
// modifier; use NewDiscount or NewShippingSurcharge.
type Modifier struct {
	kind  Kind
	value decimal.Decimal
}

// NewDiscount builds a discount that multiplies the price by (1 - fraction).
// fraction must lie strictly between 0 and 1.
func NewDiscount(fraction decimal.Decimal) (Modifier, error) {
	if !fraction.IsPositive() || fraction.GreaterThanOrEqual(one) {
		return Modifier{}, fmt.Errorf("%w: discount fraction %s outside (0,1)", ErrInvalidModifier, fraction)
	}
	return Modifier{kind: KindDiscount, value: fraction}, nil
}

// NewShippingSurcharge builds a flat surcharge added to the price.
func NewShippingSurcharge(amount decimal.Decimal) (Modifier, error) {
	if amount.IsNegative() {
		return Modifier{}, fmt.Errorf("%w: shipping surcharge %s is negative", ErrInvalidModifier, amount)
	}
	return Modifier{kind: KindShippingSurcharge, value: amount}, nil
}

// RushShipping is the fixed rush delivery surcharge.
func RushShipping() Modifier {
	return Modifier{kind: KindShippingSurcharge, value: RushShippingAmount}
}

func (m Modifier) Kind() Kind { return m.kind }

// Value is the discount fraction or the surcharge amount.
func (m Modifier) Value() decimal.Decimal { return m.value }

func (m Modifier) valid() bool {
	return m.kind == KindDiscount || m.kind == KindShippingSurcharge
}

func (m Modifier) apply(price decimal.Decimal, label string) (decimal.Decimal, string) {
	switch m.kind {
	case KindDiscount:
		return price.Mul(one.Sub(m.value)),
			label + " (Discount " + m.value.Mul(hundred).String() + "%)"
	case KindShippingSurcharge:
		return price.Add(m.value), label + " + extra shipping"
	}
	return price, label
}

// Canonical returns a copy of mods with every discount ahead of every
// surcharge, preserving the relative order within each kind.
func Canonical(mods []Modifier) []Modifier {
	out := make([]Modifier, 0, len(mods))
	for _, m := range mods {
		if m.kind == KindDiscount {
			out = append(out, m)
		}
	}
	for _, m := range mods {
		if m.kind != KindDiscount {
			out = append(out, m)
		}
	}
	return out
}

// Selection mirrors the two toggles a shopper can flip on a product card.
// Whatever order they were flipped in, Modifiers folds the discount first.
type Selection struct {
	Discount  *Modifier
	Surcharge *Modifier
}

func (s Selection) Modifiers() []Modifier {
	mods := make([]Modifier, 0, 2)
	if s.Discount != nil {
		mods = append(mods, *s.Discount)
	}
	if s.Surcharge != nil {
		mods = append(mods, *s.Surcharge)
	}
	return mods
}
