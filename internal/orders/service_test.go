package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/db/dbtest"
	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/metrics"
	"github.com/angelmondragon/settlement/pkg/outbox"
	"github.com/angelmondragon/settlement/pkg/pagination"
)

type memoryKV struct {
	values  map[string]string
	deleted []string
	getErr  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = value.(string)
	return nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

func (m *memoryKV) SummaryKey(orderID string) string {
	return "settle:summary:" + orderID
}

type fixture struct {
	client *db.Client
	svc    Service
	outbox *outbox.Repository
	kv     *memoryKV
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	outboxRepo := outbox.NewRepository(client.DB())
	kv := newMemoryKV()
	svc, err := NewService(
		NewRepository(client.DB()),
		client,
		outbox.NewService(outboxRepo, nil),
		WithSummaryCache(NewSummaryCache(kv, time.Hour, nil)),
		WithMetrics(metrics.NewSettlementMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	return fixture{client: client, svc: svc, outbox: outboxRepo, kv: kv}
}

func (f fixture) events(t *testing.T, orderID string) []enums.OutboxEventType {
	t.Helper()
	rows, err := f.outbox.ListForAggregateTx(f.client.DB(), enums.AggregateOrder, orderID)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	if _, err := NewService(nil, client, emitter); err == nil {
		t.Fatal("expected missing repo to fail")
	}
	if _, err := NewService(repo, nil, emitter); err == nil {
		t.Fatal("expected missing tx runner to fail")
	}
	if _, err := NewService(repo, client, nil); err == nil {
		t.Fatal("expected missing emitter to fail")
	}
}

func TestMarkPaidCompletesPendingOrder(t *testing.T) {
	f := newFixture(t)
	insertOrder(t, f.client, "P1", "cust", enums.OrderStatusPendingPayment, line(1, 100, 2))
	f.kv.values[f.kv.SummaryKey("P1")] = `{"order_id":"P1"}`

	summary, err := f.svc.MarkPaid(context.Background(), MarkPaidInput{OrderID: "P1", PaymentReference: "mp-123"})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, summary.Status)
	require.True(t, summary.Total.Equal(decimal.NewFromInt(200)))

	detail, err := f.svc.Get(context.Background(), "P1")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, detail.Status)
	require.Equal(t, "mp-123", *detail.PaymentReference)
	require.Equal(t, []enums.OutboxEventType{enums.EventOrderPaid}, f.events(t, "P1"))

	_, cached := f.kv.values[f.kv.SummaryKey("P1")]
	require.False(t, cached)
}

func TestMarkPaidIsIdempotentForSameReference(t *testing.T) {
	f := newFixture(t)
	insertOrder(t, f.client, "P2", "cust", enums.OrderStatusPendingPayment, line(1, 100, 1))
	ctx := context.Background()

	_, err := f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "P2", PaymentReference: "ref"})
	require.NoError(t, err)
	again, err := f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "P2", PaymentReference: "ref"})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, again.Status)
	require.Len(t, f.events(t, "P2"), 1)

	_, err = f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "P2", PaymentReference: "other"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestMarkPaidRejections(t *testing.T) {
	f := newFixture(t)
	insertOrder(t, f.client, "C1", "cust", enums.OrderStatusCancelled, line(1, 100, 1))
	ctx := context.Background()

	_, err := f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "C1", PaymentReference: "ref"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "missing", PaymentReference: "ref"})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = f.svc.MarkPaid(ctx, MarkPaidInput{OrderID: "C1"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestCancelTransitions(t *testing.T) {
	f := newFixture(t)
	insertOrder(t, f.client, "X1", "cust", enums.OrderStatusPendingPayment, line(1, 100, 1))
	insertOrder(t, f.client, "X2", "cust", enums.OrderStatusCompleted, line(1, 100, 1))
	ctx := context.Background()

	summary, err := f.svc.Cancel(ctx, CancelInput{OrderID: "X1", Reason: "changed mind"})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, summary.Status)

	again, err := f.svc.Cancel(ctx, CancelInput{OrderID: "X1"})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, again.Status)
	require.Equal(t, []enums.OutboxEventType{enums.EventOrderCancelled}, f.events(t, "X1"))

	_, err = f.svc.Cancel(ctx, CancelInput{OrderID: "X2"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestListByCustomer(t *testing.T) {
	f := newFixture(t)
	insertOrder(t, f.client, "H1", "ana", enums.OrderStatusPendingPayment, line(1, 100, 1))
	insertOrder(t, f.client, "H2", "ana", enums.OrderStatusCompleted, line(2, 50, 2))

	insertOrder(t, f.client, "H3", "ana", enums.OrderStatusCancelled, line(1, 100, 1))
	ctx := context.Background()

	first, err := f.svc.ListByCustomer(ctx, "ana", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.ListByCustomer(ctx, "ana", pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, item := range append(first.Items, second.Items...) {
		require.False(t, seen[item.OrderID])
		seen[item.OrderID] = true
	}
	require.Len(t, seen, 3)

	_, err = f.svc.ListByCustomer(ctx, "", pagination.Params{})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = f.svc.ListByCustomer(ctx, "ana", pagination.Params{Cursor: "???"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSummaryCacheRoundTripAndFailures(t *testing.T) {
	kv := newMemoryKV()
	cache := NewSummaryCache(kv, time.Minute, nil)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "Z1")
	require.False(t, ok)

	want := OrderSummary{OrderID: "Z1", CustomerID: "c", Total: decimal.RequireFromString("180000"), Status: enums.OrderStatusPendingPayment}
	cache.Put(ctx, want)
	got, ok := cache.Get(ctx, "Z1")
	require.True(t, ok)
	require.True(t, want.Equal(got))

	raw, _ := json.Marshal(want)
	require.JSONEq(t, string(raw), kv.values["settle:summary:Z1"])

	kv.getErr = errors.New("connection refused")
	_, ok = cache.Get(ctx, "Z1")
	require.False(t, ok)

	var disabled *SummaryCache
	disabled.Put(ctx, want)
	disabled.Invalidate(ctx, "Z1")
	_, ok = disabled.Get(ctx, "Z1")
	require.False(t, ok)
	require.Nil(t, NewSummaryCache(nil, time.Minute, nil))
}

// staleRepo serves reads from a snapshot taken before another writer moved
// the order on, the interleaving a READ COMMITTED store allows.
type staleRepo struct {
	Repository
	snapshot *models.Order
}

func (r staleRepo) WithTx(tx *gorm.DB) Repository {
	return staleRepo{Repository: r.Repository.WithTx(tx), snapshot: r.snapshot}
}

func (r staleRepo) FindOrder(context.Context, string) (*models.Order, error) {
	copied := *r.snapshot
	return &copied, nil
}

func TestTransitionsRejectLostRace(t *testing.T) {
	client := dbtest.Open(t)
	stale := insertOrder(t, client, "R1", "ana", enums.OrderStatusPendingPayment, line(1, 100, 1))
	outboxRepo := outbox.NewRepository(client.DB())
	emitter := outbox.NewService(outboxRepo, nil)

	winner, err := NewService(NewRepository(client.DB()), client, emitter)
	require.NoError(t, err)
	_, err = winner.MarkPaid(context.Background(), MarkPaidInput{OrderID: "R1", PaymentReference: "mp-first"})
	require.NoError(t, err)

	loser, err := NewService(staleRepo{Repository: NewRepository(client.DB()), snapshot: &stale}, client, emitter)
	require.NoError(t, err)
	_, err = loser.MarkPaid(context.Background(), MarkPaidInput{OrderID: "R1", PaymentReference: "mp-second"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	_, err = loser.Cancel(context.Background(), CancelInput{OrderID: "R1"})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	detail, err := winner.Get(context.Background(), "R1")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, detail.Status)
	require.Equal(t, "mp-first", *detail.PaymentReference)

	var events []models.OutboxEvent
	require.NoError(t, client.DB().Where("aggregate_id = ?", "R1").Find(&events).Error)
	require.Len(t, events, 1)
}
