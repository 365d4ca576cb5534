package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/redis"
)

// KV is the subset of the redis client the summary cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SummaryKey(orderID string) string
}

// SummaryCache remembers committed order summaries so repeated commits of the
// same id can answer without touching the store. The database stays
// authoritative: every cache failure is logged and treated as a miss. A nil
// *SummaryCache is a valid, disabled cache.
type SummaryCache struct {
	kv   KV
	ttl  time.Duration
	logg *logger.Logger
}

func NewSummaryCache(kv KV, ttl time.Duration, logg *logger.Logger) *SummaryCache {
	if kv == nil {
		return nil
	}
	return &SummaryCache{kv: kv, ttl: ttl, logg: logg}
}

func (c *SummaryCache) Get(ctx context.Context, orderID string) (OrderSummary, bool) {
	if c == nil {
		return OrderSummary{}, false
	}
	raw, err := c.kv.Get(ctx, c.kv.SummaryKey(orderID))
	if err != nil {
		if !redis.IsMiss(err) {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "summary cache read failed")
		}
		return OrderSummary{}, false
	}
	var summary OrderSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "summary cache entry unreadable")
		return OrderSummary{}, false
	}
	return summary, true
}

func (c *SummaryCache) Put(ctx context.Context, summary OrderSummary) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, c.kv.SummaryKey(summary.OrderID), string(raw), c.ttl); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "summary cache write failed")
	}
}

func (c *SummaryCache) Invalidate(ctx context.Context, orderID string) {
	if c == nil {
		return
	}
	if err := c.kv.Del(ctx, c.kv.SummaryKey(orderID)); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "summary cache invalidation failed")
	}
}
