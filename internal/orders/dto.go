package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
)

const orderIDLength = 16

// NewOrderID returns a short opaque token suitable as an idempotency key.
func NewOrderID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:orderIDLength])
}

// OrderSummary is what a commit reports back to its caller.
type OrderSummary struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	Total      decimal.Decimal   `json:"total"`
	Status     enums.OrderStatus `json:"status"`
}

// Equal compares summaries by value; decimals are compared numerically.
func (s OrderSummary) Equal(other OrderSummary) bool {
	return s.OrderID == other.OrderID &&
		s.CustomerID == other.CustomerID &&
		s.Total.Equal(other.Total) &&
		s.Status == other.Status
}

// SummaryOf projects an order header.
func SummaryOf(order models.Order) OrderSummary {
	return OrderSummary{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Total:      order.Total,
		Status:     order.Status,
	}
}

// OrderLineDTO is one persisted line as exposed to collaborators.
type OrderLineDTO struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Label       string          `json:"label,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderDetail is a header together with its lines.
type OrderDetail struct {
	OrderID          string              `json:"order_id"`
	CustomerID       string              `json:"customer_id"`
	Total            decimal.Decimal     `json:"total"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	Lines            []OrderLineDTO      `json:"lines"`
}

func detailOf(order models.Order) OrderDetail {
	lines := make([]OrderLineDTO, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLineDTO{
			ProductID:   line.ProductID,
			ProductName: line.ProductNameSnapshot,
			Label:       line.Label,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal,
		})
	}
	return OrderDetail{
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		Total:            order.Total,
		Status:           order.Status,
		PaymentMethod:    order.PaymentMethod,
		PaymentReference: order.PaymentReference,
		CreatedAt:        order.CreatedAt,
		Lines:            lines,
	}
}

// MarkPaidInput carries the payment collaborator's confirmation.
type MarkPaidInput struct {
	OrderID          string `json:"order_id" validate:"required,max=64"`
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
}

// CancelInput abandons a pending order.
type CancelInput struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
	Reason  string `json:"reason,omitempty" validate:"max=256"`
}

// OrderPage is one page of a customer's order history. NextCursor is empty on
// the last page.
type OrderPage struct {
	Items      []OrderSummary `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
