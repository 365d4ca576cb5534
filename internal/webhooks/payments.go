// Package webhooks applies payment confirmations delivered by the payment
// provider.
package webhooks

import (
	"context"
	"fmt"

	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/pkg/enums"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/validation"
)

type orderPayments interface {
	Get(ctx context.Context, orderID string) (*orders.OrderDetail, error)
	MarkPaid(ctx context.Context, input orders.MarkPaidInput) (*orders.OrderSummary, error)
}

// PaymentNotification is the provider's confirmation that an order was paid.
type PaymentNotification struct {
	OrderID          string `json:"order_id" validate:"required,max=64"`
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
}

type PaymentOutcome struct {
	Order     orders.OrderSummary `json:"order"`
	Duplicate bool                `json:"duplicate"`
}

type PaymentService struct {
	orders orderPayments
	guard  *DeliveryGuard
	logg   *logger.Logger
}

// NewPaymentService wires the handler. guard may be nil, in which case every
// delivery goes to the store; MarkPaid is idempotent either way.
func NewPaymentService(svc orderPayments, guard *DeliveryGuard, logg *logger.Logger) (*PaymentService, error) {
	if svc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	return &PaymentService{orders: svc, guard: guard, logg: logg}, nil
}

func (s *PaymentService) HandlePayment(ctx context.Context, n PaymentNotification) (*PaymentOutcome, error) {
	if err := validation.Struct(n); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":          n.OrderID,
		"payment_reference": n.PaymentReference,
	})

	marked := false
	if s.guard != nil {
		duplicate, err := s.guard.CheckAndMark(ctx, n.OrderID, n.PaymentReference)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payment.guard_unavailable")
		case duplicate:
			detail, err := s.orders.Get(ctx, n.OrderID)
			if err != nil {
				return nil, err
			}
			if settledBy(detail, n.PaymentReference) {
				s.logg.Info(ctx, "payment.duplicate_delivery")
				return &PaymentOutcome{Order: summaryOf(detail), Duplicate: true}, nil
			}
			// The earlier delivery is still in flight or failed without
			// releasing its key; MarkPaid is idempotent, so apply it again.
			s.logg.Warn(s.logg.WithField(ctx, "status", detail.Status), "payment.duplicate_not_settled")
		default:
			marked = true
		}
	}

	summary, err := s.orders.MarkPaid(ctx, orders.MarkPaidInput{
		OrderID:          n.OrderID,
		PaymentReference: n.PaymentReference,
	})
	if err != nil {
		if marked {
			if relErr := s.guard.Release(ctx, n.OrderID, n.PaymentReference); relErr != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", relErr.Error()), "payment.guard_release_failed")
			}
		}
		return nil, err
	}
	s.logg.Info(ctx, "payment.applied")
	return &PaymentOutcome{Order: *summary}, nil
}

// settledBy reports whether the order is already completed with reference.
func settledBy(d *orders.OrderDetail, reference string) bool {
	return d.Status == enums.OrderStatusCompleted &&
		d.PaymentReference != nil && *d.PaymentReference == reference
}

func summaryOf(d *orders.OrderDetail) orders.OrderSummary {
	return orders.OrderSummary{
		OrderID:    d.OrderID,
		CustomerID: d.CustomerID,
		Total:      d.Total,
		Status:     d.Status,
	}
}
