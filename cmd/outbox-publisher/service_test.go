package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/config"
	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/db/dbtest"
	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	"github.com/angelmondragon/settlement/pkg/outbox"
	"github.com/angelmondragon/settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement/pkg/outbox/registry"
)

type published struct {
	channel string
	message Message
}

type fakePublisher struct {
	sent    []published
	failFor map[string]error
	entered chan struct{}
	release chan struct{}
}

func (f *fakePublisher) Ping(context.Context) error { return nil }

func (f *fakePublisher) Publish(_ context.Context, channel string, payload any) (int64, error) {
	var msg Message
	if err := json.Unmarshal(payload.([]byte), &msg); err != nil {
		return 0, err
	}
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if err := f.failFor[msg.AggregateID]; err != nil {
		return 0, err
	}
	f.sent = append(f.sent, published{channel: channel, message: msg})
	return 1, nil
}

type relayHarness struct {
	client  *db.Client
	emitter *outbox.Service
	repo    *outbox.Repository
	pub     *fakePublisher
	service *Service
}

func newRelayHarness(t *testing.T, maxAttempts int) *relayHarness {
	t.Helper()
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	outboxCfg := config.OutboxConfig{BatchSize: 10, PollInterval: time.Millisecond, MaxAttempts: maxAttempts, ChannelPrefix: "settlement.orders"}
	eventRegistry, err := registry.NewEventRegistry(outboxCfg)
	require.NoError(t, err)

	pub := &fakePublisher{failFor: map[string]error{}}
	service, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: outboxCfg},
		DB:         client,
		Publisher:  pub,
		Repository: repo,
		Registry:   eventRegistry,
	})
	require.NoError(t, err)
	return &relayHarness{client: client, emitter: outbox.NewService(repo, nil), repo: repo, pub: pub, service: service}
}

func (h *relayHarness) emitCommitted(t *testing.T, orderID string) {
	t.Helper()
	err := h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCommitted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderCommittedEvent{
				OrderID:    orderID,
				CustomerID: "ana",
				Total:      decimal.NewFromInt(1500),
				Status:     enums.OrderStatusPendingPayment,
			},
		})
	})
	require.NoError(t, err)
}

func (h *relayHarness) row(t *testing.T, aggregateID string) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, h.client.DB().Where("aggregate_id = ?", aggregateID).First(&row).Error)
	return row
}

func TestProcessBatchPublishesOnEventChannel(t *testing.T) {
	h := newRelayHarness(t, 5)
	h.emitCommitted(t, "A1")
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "A1",
			Data:          payloads.OrderPaidEvent{OrderID: "A1", CustomerID: "ana", PaymentReference: "mp-1"},
		})
	}))

	processed, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, h.pub.sent, 2)
	require.Equal(t, "settlement.orders.order_committed", h.pub.sent[0].channel)
	require.Equal(t, "settlement.orders.order_paid", h.pub.sent[1].channel)
	require.Equal(t, "A1", h.pub.sent[0].message.AggregateID)
	require.Equal(t, 1, h.pub.sent[0].message.Envelope.Version)

	var pending int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending).Error)
	require.Zero(t, pending)

	processed, err = h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessBatchContinuesAfterPublishFailure(t *testing.T) {
	h := newRelayHarness(t, 5)
	h.emitCommitted(t, "A1")
	h.emitCommitted(t, "B2")
	h.pub.failFor["A1"] = errors.New("connection reset")

	processed, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, h.pub.sent, 1)
	require.Equal(t, "B2", h.pub.sent[0].message.AggregateID)

	failed := h.row(t, "A1")
	require.Nil(t, failed.PublishedAt)
	require.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	require.Equal(t, "connection reset", *failed.LastError)
	require.NotNil(t, h.row(t, "B2").PublishedAt)
}

func TestProcessBatchParksRowAtMaxAttempts(t *testing.T) {
	h := newRelayHarness(t, 2)
	h.emitCommitted(t, "A1")
	h.pub.failFor["A1"] = errors.New("timeout")

	_, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, h.row(t, "A1").AttemptCount)

	_, err = h.service.processBatch(context.Background())
	require.NoError(t, err)
	parked := h.row(t, "A1")
	require.Equal(t, 2, parked.AttemptCount)
	require.Contains(t, *parked.LastError, "max publish attempts reached")

	processed, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessBatchParksUndecodableRows(t *testing.T) {
	h := newRelayHarness(t, 5)
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.repo.Insert(tx, models.OutboxEvent{
			ID:            uuid.NewString(),
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "BAD",
			Payload:       "{not json",
			CreatedAt:     time.Now().UTC(),
		})
	}))
	h.emitCommitted(t, "A1")

	processed, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, h.pub.sent, 1)

	bad := h.row(t, "BAD")
	require.Nil(t, bad.PublishedAt)
	require.Equal(t, 5, bad.AttemptCount)
	require.Contains(t, *bad.LastError, "decode envelope")
}

func TestProcessBatchHoldsNoTransactionWhilePublishing(t *testing.T) {
	h := newRelayHarness(t, 5)
	h.emitCommitted(t, "A1")
	h.pub.entered = make(chan struct{})
	h.pub.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.service.processBatch(context.Background())
		done <- err
	}()
	<-h.pub.entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.client.WithTx(ctx, func(tx *gorm.DB) error {
		return h.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "B2",
			Data:          payloads.OrderPaidEvent{OrderID: "B2", CustomerID: "ana", PaymentReference: "mp-2"},
		})
	})
	close(h.pub.release)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.NotNil(t, h.row(t, "A1").PublishedAt)
	require.Nil(t, h.row(t, "B2").PublishedAt)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newRelayHarness(t, 5)
	h.emitCommitted(t, "A1")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := h.service.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, h.pub.sent, 1)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Config: &config.Config{}})
	require.Error(t, err)
}

func TestNextBackoffCaps(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, nextBackoff(0, 100*time.Millisecond, time.Second))
	require.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, nextBackoff(800*time.Millisecond, 100*time.Millisecond, time.Second))
}
