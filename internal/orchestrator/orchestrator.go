// Package orchestrator runs the full collection pipeline for one URL:
// policy gate, circuit breaker, rate limit, proxy selection, fetch with
// retry, outcome accounting and score-gated admission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/retry"
	"github.com/sharkted/collector/internal/tracker"
)

// Sentinel errors for skipped attempts. They mean "not now", not "broken";
// callers schedule a later retry instead of counting a failure.
var (
	ErrSourceDisabled = errors.New("source disabled by policy")
	ErrSourceBlocked  = errors.New("source is blocked")
	ErrRateLimited    = errors.New("rate limit exhausted")
)

// PolicySource resolves the policy governing a source.
type PolicySource interface {
	Get(source string) collect.SourcePolicy
}

// Tracker is the state-machine surface the orchestrator needs.
type Tracker interface {
	CurrentMode(ctx context.Context, source string) (collect.Mode, error)
	RecordOutcome(ctx context.Context, source string, out collect.Outcome) (tracker.Decision, error)
}

// ProxyPool selects proxies and absorbs per-proxy outcomes.
type ProxyPool interface {
	GetProxy(ctx context.Context, source string) (collect.ProxyInfo, error)
	RecordSuccess(ctx context.Context, source string, tier collect.ProxyTier, url string, rt time.Duration) error
	RecordFailure(ctx context.Context, source string, tier collect.ProxyTier, url string) error
}

// Limiter admits requests within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// AdmissionGate applies the score threshold before persistence.
type AdmissionGate interface {
	Admit(ctx context.Context, item collect.Item, score float64) (bool, error)
}

// Archiver stores raw payloads that failed extraction for offline repair.
type Archiver interface {
	Archive(ctx context.Context, source, url string, body []byte) error
}

// Result reports what one Collect call did.
type Result struct {
	Mode     collect.Mode
	Item     *collect.Item
	Score    float64
	Admitted bool
	Decision tracker.Decision
}

// Orchestrator wires the collection subsystems together.
type Orchestrator struct {
	policies  PolicySource
	tracker   Tracker
	pool      ProxyPool
	limiter   Limiter
	collector collect.Collector
	scorer    collect.Scorer
	gate      AdmissionGate
	archiver  Archiver
	logger    *zap.Logger
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Policies  PolicySource
	Tracker   Tracker
	Pool      ProxyPool
	Limiter   Limiter
	Collector collect.Collector
	Scorer    collect.Scorer
	Gate      AdmissionGate
	Archiver  Archiver
	Logger    *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		policies:  cfg.Policies,
		tracker:   cfg.Tracker,
		pool:      cfg.Pool,
		limiter:   cfg.Limiter,
		collector: cfg.Collector,
		scorer:    cfg.Scorer,
		gate:      cfg.Gate,
		archiver:  cfg.Archiver,
		logger:    logger.Named("orchestrator"),
	}
}

// Collect runs one attempt for url against source. Skipped attempts return
// a sentinel error and touch no counters; executed attempts always record
// their outcome, win or lose.
func (o *Orchestrator) Collect(ctx context.Context, source, url string) (Result, error) {
	pol := o.policies.Get(source)
	if !pol.Enabled {
		return Result{}, fmt.Errorf("%w: %s (%s)", ErrSourceDisabled, source, pol.Reason)
	}

	mode, err := o.tracker.CurrentMode(ctx, source)
	if err != nil {
		return Result{}, err
	}
	if mode == collect.ModeBlocked {
		return Result{}, fmt.Errorf("%w: %s", ErrSourceBlocked, source)
	}

	ok, err := o.limiter.Allow(ctx, source, pol.RequestLimit, pol.RateWindow)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRateLimited, source)
	}

	req := collect.FetchRequest{Source: source, URL: url, Mode: mode}
	var proxy collect.ProxyInfo
	usesProxy := mode == collect.ModeProxy || mode == collect.ModeBrowser
	if usesProxy {
		proxy, err = o.pool.GetProxy(ctx, source)
		if err != nil {
			return Result{}, fmt.Errorf("select proxy for %s: %w", source, err)
		}
		// A tier-NONE source yields the zero proxy: fetch directly and
		// keep its outcomes out of the pool's health records.
		if proxy.URL == "" {
			usesProxy = false
		}
		req.ProxyURL = proxy.URL
	}

	start := time.Now()
	var lastBody []byte
	res, fetchErr := retry.Do(ctx, retry.Policy{
		Retries:   pol.MaxRetries,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		RetryIf:   collect.IsRetryable,
	}, func(ctx context.Context) (collect.FetchResult, error) {
		r, err := o.collector.Fetch(ctx, req)
		if len(r.Body) > 0 {
			lastBody = r.Body
		}
		return r, err
	})
	elapsed := time.Since(start)

	if usesProxy {
		if fetchErr == nil {
			err = o.pool.RecordSuccess(ctx, source, proxy.Tier, proxy.URL, res.Duration)
		} else {
			err = o.pool.RecordFailure(ctx, source, proxy.Tier, proxy.URL)
		}
		if err != nil {
			o.logger.Warn("proxy accounting failed", zap.String("source", source), zap.Error(err))
		}
	}

	out := collect.Outcome{
		Mode:     mode,
		Success:  fetchErr == nil,
		Duration: elapsed,
	}
	if fetchErr != nil {
		out.ErrorType = collect.ErrorTypeOf(fetchErr)
		if code, ok := collect.StatusCodeOf(fetchErr); ok {
			out.StatusCode = code
		}
	} else {
		out.StatusCode = res.StatusCode
	}
	dec, recErr := o.tracker.RecordOutcome(ctx, source, out)
	if recErr != nil {
		o.logger.Error("outcome accounting failed", zap.String("source", source), zap.Error(recErr))
	}

	if fetchErr != nil {
		o.archiveIfStructural(ctx, source, url, lastBody, fetchErr)
		return Result{Mode: mode, Decision: dec}, fetchErr
	}

	result := Result{Mode: mode, Decision: dec, Item: res.Item}
	if res.Item == nil {
		return result, nil
	}
	score, err := o.scorer.Score(ctx, *res.Item)
	if err != nil {
		return result, fmt.Errorf("score item from %s: %w", source, err)
	}
	result.Score = score
	result.Admitted, err = o.gate.Admit(ctx, *res.Item, score)
	if err != nil {
		return result, err
	}
	return result, nil
}

// archiveIfStructural keeps the raw payload of an extraction failure so the
// selectors can be repaired offline against the exact markup that broke.
func (o *Orchestrator) archiveIfStructural(ctx context.Context, source, url string, body []byte, fetchErr error) {
	if o.archiver == nil || len(body) == 0 {
		return
	}
	var extractErr *collect.DataExtractionError
	if !errors.As(fetchErr, &extractErr) {
		return
	}
	if err := o.archiver.Archive(ctx, source, url, body); err != nil {
		o.logger.Warn("payload archive failed",
			zap.String("source", source),
			zap.String("url", url),
			zap.Error(err))
	}
}
