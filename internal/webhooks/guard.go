package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type guardStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookKey(reference string) string
}

// DeliveryGuard remembers which payment confirmations were already applied
// so repeated deliveries skip the store.
type DeliveryGuard struct {
	store guardStore
	ttl   time.Duration
}

func NewDeliveryGuard(store guardStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("guard store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &DeliveryGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether this confirmation was seen before, marking it
// seen otherwise.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, orderID, reference string) (bool, error) {
	if orderID == "" || reference == "" {
		return false, errors.New("order id and reference are required")
	}
	set, err := g.store.SetNX(ctx, g.key(orderID, reference), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set delivery key: %w", err)
	}
	return !set, nil
}

// Release forgets a confirmation so a redelivery is processed again.
func (g *DeliveryGuard) Release(ctx context.Context, orderID, reference string) error {
	return g.store.Del(ctx, g.key(orderID, reference))
}

func (g *DeliveryGuard) key(orderID, reference string) string {
	return g.store.WebhookKey(orderID + ":" + reference)
}
