package collycollector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

type warmupClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *warmupClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *warmupClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type warmupPolicies struct {
	warmup *collect.WarmupConfig
}

func (p warmupPolicies) Get(source string) collect.SourcePolicy {
	return collect.SourcePolicy{Source: source, Warmup: p.warmup}
}

func TestWarmupVisitsHomepageThenCategory(t *testing.T) {
	t.Parallel()
	var homeHits, categoryHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			homeHits.Add(1)
		case "/sneakers":
			categoryHits.Add(1)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	clock := &warmupClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	session := NewWarmupSession(warmupPolicies{warmup: &collect.WarmupConfig{
		Homepage:     srv.URL + "/",
		CategoryURLs: []string{srv.URL + "/sneakers"},
		DelayMin:     time.Millisecond,
		DelayMax:     2 * time.Millisecond,
		HomepageTTL:  10 * time.Minute,
	}}, clock, zap.NewNop())

	require.NoError(t, session.Run(context.Background(), "size"))
	require.Equal(t, int64(1), homeHits.Load())
	require.Equal(t, int64(1), categoryHits.Load())

	// Inside the TTL the journey is cached.
	require.NoError(t, session.Run(context.Background(), "size"))
	require.Equal(t, int64(1), homeHits.Load())
	require.Equal(t, int64(1), categoryHits.Load())

	clock.Advance(11 * time.Minute)
	require.NoError(t, session.Run(context.Background(), "size"))
	require.Equal(t, int64(2), homeHits.Load())
	require.Equal(t, int64(2), categoryHits.Load())
}

func TestWarmupCategoryTTLOutlivesHomepage(t *testing.T) {
	t.Parallel()
	var homeHits, categoryHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			homeHits.Add(1)
		case "/sale":
			categoryHits.Add(1)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	clock := &warmupClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	session := NewWarmupSession(warmupPolicies{warmup: &collect.WarmupConfig{
		Homepage:     srv.URL + "/",
		CategoryURLs: []string{srv.URL + "/sale"},
		DelayMin:     time.Millisecond,
		DelayMax:     2 * time.Millisecond,
		HomepageTTL:  5 * time.Minute,
		CategoryTTL:  time.Hour,
	}}, clock, zap.NewNop())

	require.NoError(t, session.Run(context.Background(), "size"))
	require.Equal(t, int64(1), homeHits.Load())
	require.Equal(t, int64(1), categoryHits.Load())

	// Past the homepage TTL but inside the category TTL only the
	// homepage is refreshed.
	clock.Advance(6 * time.Minute)
	require.NoError(t, session.Run(context.Background(), "size"))
	require.Equal(t, int64(2), homeHits.Load())
	require.Equal(t, int64(1), categoryHits.Load())
}

func TestWarmupSkipsWithoutConfig(t *testing.T) {
	t.Parallel()
	session := NewWarmupSession(warmupPolicies{}, nil, zap.NewNop())
	require.NoError(t, session.Run(context.Background(), "size"))
}
