// Package state provides the shared mutable store for orchestrator
// runtime records. Every mutation goes through a guarded read-modify-write
// so concurrent workers, in one process or many, never lose updates.
package state

import (
	"context"
	"time"
)

// UpdateFunc transforms the current value of a key. found is false when the
// key does not exist yet. Returning an error aborts the update and
// propagates unchanged.
type UpdateFunc func(cur []byte, found bool) ([]byte, error)

// Store is the shared key-value substrate for SourceMetrics, proxy health
// and rate-limit counters. Implementations must make Update atomic with
// respect to every other writer of the same key.
type Store interface {
	// Get returns the raw value for key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Update applies fn to the current value of key atomically and returns
	// the stored result.
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
	// Keys lists all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// IncrWindow atomically increments a windowed counter, creating it with
	// the given lifetime on first use, and returns the new count.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
