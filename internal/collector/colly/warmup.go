package collycollector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

// WarmupSession replays a plausible user journey before slow-mode product
// fetches: homepage first, then one random category page, with jittered
// pauses. Visits are cached per source so repeated attempts inside the TTL
// skip the journey.
type WarmupSession struct {
	policies interface {
		Get(source string) collect.SourcePolicy
	}
	clock  collect.Clock
	logger *zap.Logger

	mu           sync.Mutex
	lastHomepage map[string]time.Time
	lastCategory map[string]time.Time
	fetchers     map[string]*colly.Collector
}

// NewWarmupSession builds a WarmupSession over the policy registry.
func NewWarmupSession(policies interface {
	Get(source string) collect.SourcePolicy
}, clock collect.Clock, logger *zap.Logger) *WarmupSession {
	if clock == nil {
		clock = collect.SystemClock{}
	}
	return &WarmupSession{
		policies:     policies,
		clock:        clock,
		logger:       logger.Named("warmup"),
		lastHomepage: make(map[string]time.Time),
		lastCategory: make(map[string]time.Time),
		fetchers:     make(map[string]*colly.Collector),
	}
}

// Run performs the warmup journey for source if its policy configures one.
// Homepage and category visits expire on their own TTLs, so a long category
// TTL keeps repeated attempts down to the homepage refresh alone.
func (w *WarmupSession) Run(ctx context.Context, source string) error {
	cfg := w.policies.Get(source).Warmup
	if cfg == nil || cfg.Homepage == "" {
		return nil
	}
	homeTTL := cfg.HomepageTTL
	if homeTTL <= 0 {
		homeTTL = 10 * time.Minute
	}
	catTTL := cfg.CategoryTTL
	if catTTL <= 0 {
		catTTL = homeTTL
	}

	now := w.clock.Now()
	w.mu.Lock()
	homepageDue := now.Sub(w.lastHomepage[source]) >= homeTTL
	categoryDue := len(cfg.CategoryURLs) > 0 && now.Sub(w.lastCategory[source]) >= catTTL
	if !homepageDue && !categoryDue {
		w.mu.Unlock()
		return nil
	}
	if homepageDue {
		w.lastHomepage[source] = now
	}
	if categoryDue {
		w.lastCategory[source] = now
	}
	fetcher, ok := w.fetchers[source]
	if !ok {
		// A per-source collector keeps the cookie jar across the
		// journey and the product fetches that follow.
		// Synchronous by default; colly v2.1.0's Async option ignores its
		// argument and always enables async, so it must not be passed.
		fetcher = colly.NewCollector(colly.AllowURLRevisit())
		fetcher.IgnoreRobotsTxt = true
		fetcher.SetRequestTimeout(15 * time.Second)
		w.fetchers[source] = fetcher
	}
	w.mu.Unlock()

	if homepageDue {
		if err := w.visit(ctx, fetcher, cfg.Homepage); err != nil {
			return fmt.Errorf("warmup homepage for %s: %w", source, err)
		}
	}
	if categoryDue {
		if err := w.pause(ctx, cfg); err != nil {
			return err
		}
		category := cfg.CategoryURLs[rand.Intn(len(cfg.CategoryURLs))]
		if err := w.visit(ctx, fetcher, category); err != nil {
			return fmt.Errorf("warmup category for %s: %w", source, err)
		}
	}
	w.logger.Debug("warmup journey complete", zap.String("source", source))
	return nil
}

func (w *WarmupSession) visit(ctx context.Context, fetcher *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() { done <- fetcher.Visit(url) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (w *WarmupSession) pause(ctx context.Context, cfg *collect.WarmupConfig) error {
	minDelay, maxDelay := cfg.DelayMin, cfg.DelayMax
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay + 2*time.Second
	}
	delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)+1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
