package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/metrics"
	"github.com/angelmondragon/settlement/pkg/outbox"
	"github.com/angelmondragon/settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement/pkg/pagination"
	"github.com/angelmondragon/settlement/pkg/validation"
)

// Service exposes order lookups and the payment lifecycle after commit.
type Service interface {
	Get(ctx context.Context, orderID string) (*OrderDetail, error)
	ListByCustomer(ctx context.Context, customerID string, page pagination.Params) (*OrderPage, error)
	MarkPaid(ctx context.Context, input MarkPaidInput) (*OrderSummary, error)
	Cancel(ctx context.Context, input CancelInput) (*OrderSummary, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outbox.Emitter
	cache   *SummaryCache
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

// ServiceOption customises the orders service.
type ServiceOption func(*service)

func WithSummaryCache(cache *SummaryCache) ServiceOption {
	return func(s *service) { s.cache = cache }
}

func WithMetrics(m *metrics.SettlementMetrics) ServiceOption {
	return func(s *service) { s.metrics = m }
}

func WithLogger(logg *logger.Logger) ServiceOption {
	return func(s *service) { s.logg = logg }
}

// NewService builds the orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, opts ...ServiceOption) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	s := &service{repo: repo, tx: tx, outbox: emitter}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Get(ctx context.Context, orderID string) (*OrderDetail, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderWithLines(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	detail := detailOf(*order)
	return &detail, nil
}

func (s *service) ListByCustomer(ctx context.Context, customerID string, page pagination.Params) (*OrderPage, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	cursor, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(page.Limit)
	rows, err := s.repo.ListByCustomer(ctx, customerID, pagination.LimitWithBuffer(limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	out := &OrderPage{Items: make([]OrderSummary, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		out.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	for _, row := range rows {
		out.Items = append(out.Items, SummaryOf(row))
	}
	return out, nil
}

// MarkPaid moves a pending order to completed. Replaying the same reference
// on a completed order is a no-op. Inventory is not touched.
func (s *service) MarkPaid(ctx context.Context, input MarkPaidInput) (*OrderSummary, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID)

	var summary OrderSummary
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}

		if order.Status == enums.OrderStatusCompleted {
			if order.PaymentReference != nil && *order.PaymentReference == input.PaymentReference {
				summary = SummaryOf(*order)
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid with a different reference").
				WithDetails(map[string]any{"order_id": order.ID})
		}
		if !order.Status.CanTransitionTo(enums.OrderStatusCompleted) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be paid in its current state").
				WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
		}

		reference := input.PaymentReference
		if err := repo.UpdateStatus(ctx, order.ID, order.Status, enums.OrderStatusCompleted, &reference); err != nil {
			return mapUpdateError(err, order.ID)
		}
		order.Status = enums.OrderStatusCompleted
		order.PaymentReference = &reference

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{CustomerID: order.CustomerID, Source: "payment"},
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				CustomerID:       order.CustomerID,
				Total:            order.Total,
				PaymentReference: reference,
				PaidAt:           time.Now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		summary = SummaryOf(*order)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterTransition(ctx, summary)
	}
	return &summary, nil
}

// Cancel abandons a pending order. Stock is not returned; restocking is an
// administrative task.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*OrderSummary, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID)

	var summary OrderSummary
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if order.Status == enums.OrderStatusCancelled {
			summary = SummaryOf(*order)
			return nil
		}
		if !order.Status.CanTransitionTo(enums.OrderStatusCancelled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be cancelled in its current state").
				WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
		}

		if err := repo.UpdateStatus(ctx, order.ID, order.Status, enums.OrderStatusCancelled, nil); err != nil {
			return mapUpdateError(err, order.ID)
		}
		order.Status = enums.OrderStatusCancelled

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{CustomerID: order.CustomerID, Source: "storefront"},
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				CustomerID:  order.CustomerID,
				Reason:      input.Reason,
				CancelledAt: time.Now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		summary = SummaryOf(*order)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterTransition(ctx, summary)
	}
	return &summary, nil
}

func (s *service) afterTransition(ctx context.Context, summary OrderSummary) {
	s.cache.Invalidate(ctx, summary.OrderID)
	s.metrics.IncTransition(summary.Status.String())
	s.logg.Info(s.logg.WithField(ctx, "status", summary.Status), "order status updated")
}

func mapUpdateError(err error, orderID string) error {
	if errors.Is(err, ErrStatusChanged) {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "order changed while it was being updated").
			WithDetails(map[string]any{"order_id": orderID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
