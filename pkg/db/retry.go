package db

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/settlement/pkg/config"
)

const defaultGrowthFactor = 1.5

// RetryPolicy decides how often and how patiently a retried operation runs.
// Implementations must hand out a fresh schedule on every Backoff call.
type RetryPolicy interface {
	// Attempts is the maximum number of tries, including the first one.
	Attempts() int
	// Backoff returns the wait schedule between tries.
	Backoff() retry.Backoff
}

// ExponentialPolicy grows the wait by Factor after every failed try, capped
// at MaxBackoff, optionally jittered, and bounded in total by MaxWait.
type ExponentialPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxWait        time.Duration
	Factor         float64
	JitterPercent  uint64
}

// NewPolicy converts a configured retry budget into an ExponentialPolicy.
func NewPolicy(cfg config.RetryConfig) ExponentialPolicy {
	return ExponentialPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxWait:        cfg.MaxWait,
		Factor:         defaultGrowthFactor,
		JitterPercent:  cfg.JitterPercent,
	}
}

func (p ExponentialPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p ExponentialPolicy) Backoff() retry.Backoff {
	factor := p.Factor
	if factor < 1 {
		factor = defaultGrowthFactor
	}
	next := p.InitialBackoff
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		current := next
		next = time.Duration(float64(next) * factor)
		return current, false
	})
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxWait > 0 {
		b = retry.WithMaxDuration(p.MaxWait, b)
	}
	return retry.WithMaxRetries(uint64(p.Attempts()-1), b)
}

// NoRetry runs an operation exactly once.
type NoRetry struct{}

func (NoRetry) Attempts() int { return 1 }

func (NoRetry) Backoff() retry.Backoff {
	return retry.WithMaxRetries(0, retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, true
	}))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
