package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/pkg/enums"
)

// OrderLine is the per-product part of an order event.
type OrderLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderCommittedEvent is emitted when a cart has been settled into an order.
type OrderCommittedEvent struct {
	OrderID       string              `json:"order_id"`
	CustomerID    string              `json:"customer_id"`
	Total         decimal.Decimal     `json:"total"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Lines         []OrderLine         `json:"lines"`
	CommittedAt   time.Time           `json:"committed_at"`
}

// OrderPaidEvent reports a confirmed payment for a pending order.
type OrderPaidEvent struct {
	OrderID          string          `json:"order_id"`
	CustomerID       string          `json:"customer_id"`
	Total            decimal.Decimal `json:"total"`
	PaymentReference string          `json:"payment_reference"`
	PaidAt           time.Time       `json:"paid_at"`
}

// OrderCancelledEvent reports that a pending order was abandoned.
type OrderCancelledEvent struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}
