package collect

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest captures everything a Collector needs for one attempt.
type FetchRequest struct {
	Source   string
	URL      string
	Mode     Mode
	ProxyURL string
	Headers  http.Header
}

// FetchResult is the raw response handed back by a Collector.
type FetchResult struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Duration   time.Duration
	Item       *Item
}

// Collector fetches a URL and extracts a product item. Implementations
// raise the typed errors of this package so the orchestrator can classify
// them. On a DataExtractionError the fetched Body should still be returned
// so the payload can be archived for selector repair.
type Collector interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Scorer computes the quality score (0-100) for a collected item. The
// formula is an external collaborator; only the score crosses into the
// core.
type Scorer interface {
	Score(ctx context.Context, item Item) (float64, error)
}

// ItemRepository persists admitted items. Upsert must be idempotent keyed
// by (source, external id).
type ItemRepository interface {
	Upsert(ctx context.Context, item Item) error
}

// Clock returns the current time; swap in a fake for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
