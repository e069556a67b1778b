// Package ratelimit implements a fixed-window request limiter on the
// shared state store, so the budget holds across worker processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/state"
)

// counterSlack keeps the counter alive slightly past the window edge so a
// straggling increment cannot resurrect a fresh window at zero.
const counterSlack = 2 * time.Second

// Limiter admits requests per key within fixed windows. A nil limit or
// window disables limiting for that call.
type Limiter struct {
	store  state.Store
	clock  collect.Clock
	logger *zap.Logger
}

// New builds a Limiter on the given store.
func New(store state.Store, clock collect.Clock, logger *zap.Logger) *Limiter {
	if clock == nil {
		clock = collect.SystemClock{}
	}
	return &Limiter{store: store, clock: clock, logger: logger.Named("ratelimit")}
}

// Allow reports whether one more request fits the current window for key.
// The increment happens regardless, so denied calls still consume nothing
// extra next window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	// Index in nanoseconds so sub-second windows divide cleanly.
	idx := l.clock.Now().UnixNano() / int64(window)
	bucket := fmt.Sprintf("rl:%s:%d", key, idx)
	count, err := l.store.IncrWindow(ctx, bucket, window+counterSlack)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count > int64(limit) {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}
