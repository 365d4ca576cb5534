// Package checkout prices a requested basket against the catalog and hands
// the resulting cart to the settlement coordinator.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/internal/cart"
	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/internal/pricing"
	"github.com/angelmondragon/settlement/internal/settlement"
	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/validation"
)

type productLoader interface {
	FindByID(ctx context.Context, id int64) (*models.Product, error)
}

type committer interface {
	Commit(ctx context.Context, req settlement.CommitRequest, items settlement.Cart) (settlement.Result, error)
}

// Service executes checkout.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Output, error)
}

// ItemInput is one requested product. Discount is a fraction in (0,1).
type ItemInput struct {
	ProductID    int64            `json:"product_id" validate:"required,min=1"`
	Quantity     int              `json:"quantity" validate:"required,min=1,max=1000"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	RushShipping bool             `json:"rush_shipping,omitempty"`
}

// Input is a checkout request. An empty OrderID gets a fresh one; clients
// that retry must resend the id they got back.
type Input struct {
	OrderID          string              `json:"order_id,omitempty" validate:"omitempty,max=64"`
	CustomerID       string              `json:"customer_id" validate:"required,max=128"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method,omitempty" validate:"omitempty,oneof=mercadopago card cash"`
	PaymentReference string              `json:"payment_reference,omitempty" validate:"max=128"`
	Items            []ItemInput         `json:"items" validate:"required,min=1,max=100,dive"`
}

// LineOutput is a priced line as it was committed.
type LineOutput struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Label     string          `json:"label"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Output struct {
	Order     orders.OrderSummary `json:"order"`
	Lines     []LineOutput        `json:"lines"`
	ItemCount int                 `json:"item_count"`
	Replayed  bool                `json:"replayed"`
	Attempts  int                 `json:"attempts"`
}

type service struct {
	products productLoader
	commit   committer
	logg     *logger.Logger
}

func NewService(products productLoader, commit committer, logg *logger.Logger) (Service, error) {
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if commit == nil {
		return nil, fmt.Errorf("committer required")
	}
	return &service{products: products, commit: commit, logg: logg}, nil
}

func (s *service) Checkout(ctx context.Context, input Input) (*Output, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	basket, err := s.buildCart(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	orderID := input.OrderID
	if orderID == "" {
		orderID = orders.NewOrderID()
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	// snapshot before commit, ClearCart empties the ledger
	lines, count := linesOf(basket), basket.ItemCount()

	res, err := s.commit.Commit(ctx, settlement.CommitRequest{
		OrderID:          orderID,
		CustomerID:       input.CustomerID,
		PaymentMethod:    input.PaymentMethod,
		PaymentReference: input.PaymentReference,
	}, basket)
	if err != nil {
		return nil, err
	}
	if res.ClearCart {
		basket.Clear()
	}

	return &Output{
		Order:     res.Summary,
		Lines:     lines,
		ItemCount: count,
		Replayed:  res.Replayed,
		Attempts:  res.Attempts,
	}, nil
}

func (s *service) buildCart(ctx context.Context, items []ItemInput) (*cart.Ledger, error) {
	basket := cart.New()
	for i, item := range items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}

		var sel pricing.Selection
		if item.Discount != nil {
			discount, err := pricing.NewDiscount(*item.Discount)
			if err != nil {
				return nil, invalidItem(i, err)
			}
			sel.Discount = &discount
		}
		if item.RushShipping {
			rush := pricing.RushShipping()
			sel.Surcharge = &rush
		}

		res, err := pricing.Resolve(*product, sel.Modifiers())
		if err != nil {
			return nil, invalidItem(i, err)
		}
		if line, ok := basket.Get(product.ID); ok && !line.UnitPrice.Equal(res.UnitPrice) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product listed twice with different options").
				WithDetails(map[string]any{"product_id": product.ID})
		}
		basket.Add(*product, res)
		basket.AdjustQuantity(product.ID, item.Quantity-1)
	}
	return basket, nil
}

func linesOf(basket *cart.Ledger) []LineOutput {
	lines := basket.Lines()
	out := make([]LineOutput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineOutput{
			ProductID: l.ProductID,
			Name:      l.ProductName,
			Label:     l.Label,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal(),
		})
	}
	return out
}

func invalidItem(index int, err error) error {
	if errors.Is(err, pricing.ErrInvalidModifier) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price option").
			WithDetails(map[string]any{"item": index})
	}
	return err
}
