package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
)

type memoryStore struct {
	keys   map[string]bool
	setErr error
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *memoryStore) WebhookKey(reference string) string { return "webhook:" + reference }

type stubOrders struct {
	markCalls int
	markErr   error
	status    enums.OrderStatus
	reference *string
}

func (s *stubOrders) Get(_ context.Context, orderID string) (*orders.OrderDetail, error) {
	status := s.status
	if status == "" {
		status = enums.OrderStatusPendingPayment
	}
	return &orders.OrderDetail{OrderID: orderID, CustomerID: "ana", Total: decimal.NewFromInt(100), Status: status, PaymentReference: s.reference}, nil
}

func (s *stubOrders) MarkPaid(_ context.Context, input orders.MarkPaidInput) (*orders.OrderSummary, error) {
	s.markCalls++
	if s.markErr != nil {
		return nil, s.markErr
	}
	ref := input.PaymentReference
	s.status, s.reference = enums.OrderStatusCompleted, &ref
	return &orders.OrderSummary{OrderID: input.OrderID, CustomerID: "ana", Total: decimal.NewFromInt(100), Status: enums.OrderStatusCompleted}, nil
}

func TestHandlePaymentSkipsDuplicateDeliveries(t *testing.T) {
	store := &memoryStore{keys: map[string]bool{}}
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	svc := &stubOrders{}
	handler, err := NewPaymentService(svc, guard, nil)
	require.NoError(t, err)

	n := PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"}
	first, err := handler.HandlePayment(context.Background(), n)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := handler.HandlePayment(context.Background(), n)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, enums.OrderStatusCompleted, second.Order.Status)
	require.Equal(t, 1, svc.markCalls)
	require.True(t, store.keys["webhook:A1:mp-1"])
}

func TestHandlePaymentReappliesWhenKeyHeldButOrderPending(t *testing.T) {
	store := &memoryStore{keys: map[string]bool{"webhook:A1:mp-1": true}}
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	svc := &stubOrders{}
	handler, err := NewPaymentService(svc, guard, nil)
	require.NoError(t, err)

	out, err := handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"})
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, enums.OrderStatusCompleted, out.Order.Status)
	require.Equal(t, 1, svc.markCalls)
	require.True(t, store.keys["webhook:A1:mp-1"])
}

func TestHandlePaymentKeepsForeignKeyOnFailure(t *testing.T) {
	store := &memoryStore{keys: map[string]bool{"webhook:A1:mp-1": true}}
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	svc := &stubOrders{markErr: pkgerrors.New(pkgerrors.CodeDependency, "store down")}
	handler, err := NewPaymentService(svc, guard, nil)
	require.NoError(t, err)

	_, err = handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"})
	require.Error(t, err)
	require.True(t, store.keys["webhook:A1:mp-1"])
}

func TestHandlePaymentReleasesGuardOnFailure(t *testing.T) {
	store := &memoryStore{keys: map[string]bool{}}
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	svc := &stubOrders{markErr: pkgerrors.New(pkgerrors.CodeStateConflict, "order was cancelled")}
	handler, err := NewPaymentService(svc, guard, nil)
	require.NoError(t, err)

	_, err = handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	require.Empty(t, store.keys)
}

func TestHandlePaymentWithoutGuardOrWithBrokenGuard(t *testing.T) {
	svc := &stubOrders{}
	handler, err := NewPaymentService(svc, nil, nil)
	require.NoError(t, err)
	_, err = handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"})
	require.NoError(t, err)

	guard, err := NewDeliveryGuard(&memoryStore{setErr: errors.New("redis down")}, time.Hour)
	require.NoError(t, err)
	handler, err = NewPaymentService(svc, guard, nil)
	require.NoError(t, err)
	_, err = handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1", PaymentReference: "mp-1"})
	require.NoError(t, err)
	require.Equal(t, 2, svc.markCalls)
}

func TestHandlePaymentValidates(t *testing.T) {
	handler, err := NewPaymentService(&stubOrders{}, nil, nil)
	require.NoError(t, err)
	_, err = handler.HandlePayment(context.Background(), PaymentNotification{OrderID: "A1"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = NewPaymentService(nil, nil, nil)
	require.Error(t, err)
	_, err = NewDeliveryGuard(nil, time.Hour)
	require.Error(t, err)
}
