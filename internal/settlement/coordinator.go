// Package settlement turns a cart into a durable order. A commit writes the
// order header, its lines and the matching stock decrements in one
// transaction and re-runs the whole unit when the store reports contention.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement/internal/cart"
	"github.com/angelmondragon/settlement/internal/inventory"
	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/metrics"
	"github.com/angelmondragon/settlement/pkg/outbox"
	"github.com/angelmondragon/settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement/pkg/validation"
)

// Cart is the read side of a shopping cart the coordinator settles.
type Cart interface {
	IsEmpty() bool
	Lines() []cart.Line
	Total() decimal.Decimal
}

// StockLedger decrements inventory inside the commit transaction.
type StockLedger interface {
	Decrement(ctx context.Context, tx *gorm.DB, productID int64, amount int) (models.InventoryRecord, error)
}

// Notifier is told about every order that was newly committed.
type Notifier func(ctx context.Context, summary orders.OrderSummary)

// CommitRequest identifies the order being placed. A non-empty
// PaymentReference means payment is already confirmed and the order is
// written as completed.
type CommitRequest struct {
	OrderID          string              `json:"order_id" validate:"required,max=64"`
	CustomerID       string              `json:"customer_id" validate:"required,max=128"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=mercadopago card cash"`
	PaymentReference string              `json:"payment_reference,omitempty" validate:"max=128"`
}

// Result reports a successful commit. ClearCart tells the caller to empty
// the cart it passed in; Replayed marks an order that already existed.
type Result struct {
	Summary   orders.OrderSummary
	Replayed  bool
	ClearCart bool
	Attempts  int
}

// Coordinator commits carts as orders.
type Coordinator struct {
	tx             db.TxRunner
	orders         orders.Repository
	stock          StockLedger
	outbox         outbox.Emitter
	policy         db.RetryPolicy
	cache          *orders.SummaryCache
	metrics        *metrics.SettlementMetrics
	logg           *logger.Logger
	notify         Notifier
	warnMultiplier int
	now            func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy sets how often a whole commit is re-run on transient faults.
func WithRetryPolicy(policy db.RetryPolicy) Option {
	return func(c *Coordinator) {
		if policy != nil {
			c.policy = policy
		}
	}
}

func WithSummaryCache(cache *orders.SummaryCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Coordinator) { c.logg = logg }
}

func WithNotifier(fn Notifier) Option {
	return func(c *Coordinator) { c.notify = fn }
}

// WithWarnMultiplier sets the low stock warning band, see inventory.Level.
func WithWarnMultiplier(n int) Option {
	return func(c *Coordinator) { c.warnMultiplier = n }
}

// NewCoordinator wires a coordinator. Without WithRetryPolicy a commit is
// tried three times.
func NewCoordinator(tx db.TxRunner, repo orders.Repository, stock StockLedger, emitter outbox.Emitter, opts ...Option) (*Coordinator, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	c := &Coordinator{
		tx:     tx,
		orders: repo,
		stock:  stock,
		outbox: emitter,
		policy: db.ExponentialPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     4 * time.Second,
		},
		warnMultiplier: 2,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// attemptResult is what one run of the commit transaction produced.
type attemptResult struct {
	summary  orders.OrderSummary
	replayed bool
	stock    []models.InventoryRecord
}

// Commit persists the cart as order req.OrderID. Calling it again with the
// same order id returns the stored summary and changes nothing.
func (c *Coordinator) Commit(ctx context.Context, req CommitRequest, items Cart) (Result, error) {
	started := time.Now()
	ctx = c.logg.WithFields(ctx, map[string]any{
		"order_id":    req.OrderID,
		"customer_id": req.CustomerID,
	})

	lines, total, err := c.validate(req, items)
	if err != nil {
		c.metrics.ObserveCommit(metrics.OutcomeRejected, 0, time.Since(started))
		return Result{}, err
	}
	method, _ := enums.ParsePaymentMethod(string(req.PaymentMethod))

	if cached, ok := c.cache.Get(ctx, req.OrderID); ok {
		if cached.CustomerID != req.CustomerID {
			c.metrics.ObserveCommit(metrics.OutcomeRejected, 0, time.Since(started))
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderIDTaken, "order id is already in use")
		}
		c.metrics.ObserveCommit(metrics.OutcomeReplayed, 0, time.Since(started))
		c.logg.Info(ctx, "order already committed, served from cache")
		return Result{Summary: cached, Replayed: true, ClearCart: true}, nil
	}

	backoff := c.policy.Backoff()
	var lastErr error
	attempt := 0
	for {
		attempt++
		res, err := c.attempt(ctx, req, method, lines, total)
		if err == nil {
			return c.succeed(ctx, res, attempt, started), nil
		}
		if !retryable(err) {
			c.metrics.ObserveCommit(outcomeOf(err), attempt, time.Since(started))
			return Result{}, err
		}
		lastErr = err

		wait, stop := backoff.Next()
		if stop {
			break
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		}), "order commit failed, retrying")
		if sleepErr := db.Sleep(ctx, wait); sleepErr != nil {
			lastErr = multierr.Append(lastErr, sleepErr)
			break
		}
	}

	return Result{}, c.exhausted(ctx, lastErr, attempt, started)
}

func (c *Coordinator) validate(req CommitRequest, items Cart) ([]cart.Line, decimal.Decimal, error) {
	if err := validation.Struct(req); err != nil {
		return nil, decimal.Zero, err
	}
	if items == nil || items.IsEmpty() {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrEmptyCart, "cart is empty")
	}

	lines := items.Lines()
	sum := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 || !line.UnitPrice.IsPositive() {
			return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidTotal, "cart line has a non-positive price or quantity").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		sum = sum.Add(line.Subtotal())
	}
	total := items.Total()
	if !total.IsPositive() || !total.Equal(sum) {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidTotal, "cart total does not match its lines")
	}
	return lines, total, nil
}

// attempt runs the idempotency check and, when the order is new, the writes
// and their verification, all inside one transaction.
func (c *Coordinator) attempt(ctx context.Context, req CommitRequest, method enums.PaymentMethod, lines []cart.Line, total decimal.Decimal) (attemptResult, error) {
	var res attemptResult
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res = attemptResult{}
		repo := c.orders.WithTx(tx)

		existing, err := repo.FindOrder(ctx, req.OrderID)
		switch {
		case err == nil:
			if existing.CustomerID != req.CustomerID {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderIDTaken, "order id is already in use")
			}
			if !existing.Total.Equal(total) {
				c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
					"stored_total": existing.Total.String(),
					"cart_total":   total.String(),
				}), "order id replayed with a different cart")
			}
			res.summary = orders.SummaryOf(*existing)
			res.replayed = true
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		now := c.now()
		header := models.Order{
			ID:            req.OrderID,
			CustomerID:    req.CustomerID,
			Total:         total,
			Status:        enums.OrderStatusPendingPayment,
			PaymentMethod: method,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if req.PaymentReference != "" {
			reference := req.PaymentReference
			header.Status = enums.OrderStatusCompleted
			header.PaymentReference = &reference
		}
		if err := repo.CreateOrder(ctx, &header); err != nil {
			if db.IsUniqueViolation(err, "") {
				return multierr.Append(errConcurrentInsert, err)
			}
			return err
		}

		rows := make([]models.OrderLine, 0, len(lines))
		eventLines := make([]payloads.OrderLine, 0, len(lines))
		for _, line := range lines {
			rows = append(rows, models.OrderLine{
				OrderID:             header.ID,
				ProductID:           line.ProductID,
				ProductNameSnapshot: line.ProductName,
				Label:               line.Label,
				UnitPrice:           line.UnitPrice,
				Quantity:            line.Quantity,
				Subtotal:            line.Subtotal(),
			})
			eventLines = append(eventLines, payloads.OrderLine{
				ProductID: line.ProductID,
				Name:      line.ProductName,
				UnitPrice: line.UnitPrice,
				Quantity:  line.Quantity,
				Subtotal:  line.Subtotal(),
			})
		}
		if err := repo.CreateLines(ctx, rows); err != nil {
			return err
		}

		// lines arrive sorted by product id, so concurrent commits touch
		// inventory rows in the same order
		for _, line := range lines {
			rec, err := c.stock.Decrement(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			res.stock = append(res.stock, rec)
		}

		if err := verify(ctx, repo, header.ID, len(rows), total); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCommitted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   header.ID,
			Actor:         &outbox.ActorRef{CustomerID: header.CustomerID, Source: "checkout"},
			Data: payloads.OrderCommittedEvent{
				OrderID:       header.ID,
				CustomerID:    header.CustomerID,
				Total:         header.Total,
				Status:        header.Status,
				PaymentMethod: header.PaymentMethod,
				Lines:         eventLines,
				CommittedAt:   now,
			},
			OccurredAt: now,
		}
		if err := c.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		res.summary = orders.SummaryOf(header)
		return nil
	})
	return res, err
}

// verify reads the order back through the transaction before it commits.
func verify(ctx context.Context, repo orders.Repository, orderID string, wantLines int, total decimal.Decimal) error {
	headers, err := repo.CountOrders(ctx, orderID)
	if err != nil {
		return err
	}
	if headers != 1 {
		return &verificationError{field: "order header", want: "1", got: strconv.FormatInt(headers, 10)}
	}
	count, err := repo.CountLines(ctx, orderID)
	if err != nil {
		return err
	}
	if count != int64(wantLines) {
		return &verificationError{field: "line count", want: strconv.Itoa(wantLines), got: strconv.FormatInt(count, 10)}
	}
	stored, err := repo.FindOrderWithLines(ctx, orderID)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, line := range stored.Lines {
		sum = sum.Add(line.Subtotal)
	}
	if !sum.Equal(total) || !stored.Total.Equal(total) {
		return &verificationError{field: "order total", want: total.String(), got: sum.String()}
	}
	return nil
}

func (c *Coordinator) succeed(ctx context.Context, res attemptResult, attempts int, started time.Time) Result {
	c.cache.Put(ctx, res.summary)

	if res.replayed {
		c.metrics.ObserveCommit(metrics.OutcomeReplayed, attempts, time.Since(started))
		c.logg.Info(ctx, "order already committed, returning stored summary")
		return Result{Summary: res.summary, Replayed: true, ClearCart: true, Attempts: attempts}
	}

	for _, rec := range res.stock {
		level := inventory.Level(rec, c.warnMultiplier)
		c.metrics.SetLowStock(strconv.FormatInt(rec.ProductID, 10), level == enums.StockLevelCritical)
		if level == enums.StockLevelCritical {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"product_id":       rec.ProductID,
				"quantity_on_hand": rec.QuantityOnHand,
				"min_threshold":    rec.MinThreshold,
			}), "product stock at or below minimum")
		}
	}

	c.metrics.ObserveCommit(metrics.OutcomeCommitted, attempts, time.Since(started))
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"total":    res.summary.Total.String(),
		"status":   res.summary.Status,
		"attempts": attempts,
	}), "order committed")

	if c.notify != nil {
		c.notify(ctx, res.summary)
	}
	return Result{Summary: res.summary, ClearCart: true, Attempts: attempts}
}

func (c *Coordinator) exhausted(ctx context.Context, lastErr error, attempts int, started time.Time) error {
	var verr *verificationError
	if errors.As(lastErr, &verr) {
		c.metrics.ObserveCommit(metrics.OutcomeInconsistent, attempts, time.Since(started))
		c.logg.Error(c.logg.WithField(ctx, "attempts", attempts), "order failed verification", lastErr)
		return pkgerrors.Wrap(
			pkgerrors.CodeConsistency,
			multierr.Append(ErrConsistencyVerificationFailed, lastErr),
			"order could not be verified after saving",
		)
	}
	c.metrics.ObserveCommit(metrics.OutcomeExhausted, attempts, time.Since(started))
	c.logg.Error(c.logg.WithField(ctx, "attempts", attempts), "order commit retries exhausted", lastErr)
	return pkgerrors.Wrap(
		pkgerrors.CodePersistenceExhausted,
		multierr.Append(ErrPersistenceExhausted, lastErr),
		"could not save the order",
	)
}

// retryable reports whether re-running the whole commit may succeed.
func retryable(err error) bool {
	var verr *verificationError
	return db.IsTransient(err) || errors.Is(err, errConcurrentInsert) || errors.As(err, &verr)
}

func outcomeOf(err error) string {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInsufficientStock:
		return metrics.OutcomeInsufficientStock
	case pkgerrors.CodeValidation, pkgerrors.CodeStateConflict:
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeFailed
}
