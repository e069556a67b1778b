// Package collycollector implements the fetching side of collection using
// gocolly, mapping transport and status failures into the typed error
// taxonomy the orchestrator classifies.
package collycollector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

// Extractor turns fetched markup into a product item. Implementations
// return a DataExtractionError when expected fields are absent and a
// ValidationError when extracted values fail sanity checks.
type Extractor interface {
	Extract(source, url string, body []byte) (*collect.Item, error)
}

// Config controls fetch behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration

	// SlowDelayMin/Max bound the jittered pause prepended to every
	// direct_slow attempt.
	SlowDelayMin time.Duration
	SlowDelayMax time.Duration
}

// Collector fetches product pages with colly.
type Collector struct {
	cfg       Config
	base      *colly.Collector
	extractor Extractor
	warmup    *WarmupSession
	logger    *zap.Logger
}

// New builds a Collector. extractor may be nil for probe-only fetches;
// warmup may be nil when no source uses direct_slow.
func New(cfg Config, extractor Extractor, warmup *WarmupSession, logger *zap.Logger) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SlowDelayMin <= 0 {
		cfg.SlowDelayMin = 2 * time.Second
	}
	if cfg.SlowDelayMax < cfg.SlowDelayMin {
		cfg.SlowDelayMax = cfg.SlowDelayMin + 3*time.Second
	}
	// Synchronous collection is the default; colly v2.1.0's Async option
	// ignores its argument and always enables async, so it must not be passed.
	base := colly.NewCollector(colly.AllowURLRevisit())
	base.WithTransport(newTransport())
	return &Collector{
		cfg:       cfg,
		base:      base,
		extractor: extractor,
		warmup:    warmup,
		logger:    logger.Named("collector"),
	}
}

// Fetch executes one attempt in the requested mode.
func (c *Collector) Fetch(ctx context.Context, req collect.FetchRequest) (collect.FetchResult, error) {
	if req.Mode == collect.ModeDirectSlow {
		if err := c.behaveLikeVisitor(ctx, req.Source); err != nil {
			return collect.FetchResult{}, err
		}
	}

	start := time.Now()
	res, err := c.visit(ctx, req)
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	if blocked, status := looksBlocked(res.StatusCode, res.Body); blocked {
		return res, collect.NewBlockedError(req.Source, req.URL, status)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, collect.NewHTTPError(req.Source, req.URL, res.StatusCode)
	}

	if c.extractor != nil {
		item, err := c.extractor.Extract(req.Source, req.URL, res.Body)
		if err != nil {
			return res, err
		}
		res.Item = item
	}
	return res, nil
}

// behaveLikeVisitor runs the warmup journey, then pauses a human-looking
// interval before the real request.
func (c *Collector) behaveLikeVisitor(ctx context.Context, source string) error {
	if c.warmup != nil {
		if err := c.warmup.Run(ctx, source); err != nil {
			c.logger.Debug("warmup failed, continuing without it",
				zap.String("source", source), zap.Error(err))
		}
	}
	spread := c.cfg.SlowDelayMax - c.cfg.SlowDelayMin
	delay := c.cfg.SlowDelayMin + time.Duration(rand.Int63n(int64(spread)+1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return collect.NewTimeoutError(source, "", "canceled during slow-mode pause")
	}
}

func (c *Collector) visit(ctx context.Context, req collect.FetchRequest) (collect.FetchResult, error) {
	clone := c.base.Clone()
	if c.cfg.UserAgent != "" {
		clone.UserAgent = c.cfg.UserAgent
	}
	clone.IgnoreRobotsTxt = true
	clone.SetRequestTimeout(c.cfg.Timeout)
	if req.ProxyURL != "" {
		if err := clone.SetProxy(req.ProxyURL); err != nil {
			return collect.FetchResult{}, fmt.Errorf("set proxy %s: %w", req.ProxyURL, err)
		}
	}

	var result collect.FetchResult
	var respErr error
	clone.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	clone.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Body = append([]byte(nil), r.Body...)
		result.FinalURL = r.Request.URL.String()
	})
	clone.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
		}
		respErr = err
	})

	done := make(chan error, 1)
	go func() { done <- clone.Visit(req.URL) }()
	select {
	case <-ctx.Done():
		return result, collect.NewTimeoutError(req.Source, req.URL, "fetch canceled: "+ctx.Err().Error())
	case err := <-done:
		if err == nil {
			err = respErr
		}
		if err != nil {
			// Colly reports HTTP statuses >= 400 through OnError.
			if result.StatusCode != 0 {
				if blocked, status := looksBlocked(result.StatusCode, result.Body); blocked {
					return result, collect.NewBlockedError(req.Source, req.URL, status)
				}
				return result, collect.NewHTTPError(req.Source, req.URL, result.StatusCode)
			}
			return result, classifyTransport(req, err)
		}
		return result, nil
	}
}

func classifyTransport(req collect.FetchRequest, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return collect.NewTimeoutError(req.Source, req.URL, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return collect.NewTimeoutError(req.Source, req.URL, err.Error())
	}
	return collect.NewNetworkError(req.Source, req.URL, err.Error())
}

// blockMarkers are body fragments that betray an anti-bot interstitial
// behind a 200.
var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("cf-chl"),
	[]byte("are you a robot"),
	[]byte("request unsuccessful. incapsula"),
	[]byte("datadome"),
}

// looksBlocked detects anti-bot responses by status or by a block page
// served with a success status.
func looksBlocked(status int, body []byte) (bool, int) {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return true, status
	}
	if status >= 200 && status < 300 && len(body) > 0 {
		// Only sniff the head of the page; markers live in titles and
		// challenge scripts, not product descriptions.
		head := body
		if len(head) > 4096 {
			head = head[:4096]
		}
		lowered := bytes.ToLower(head)
		for _, marker := range blockMarkers {
			if bytes.Contains(lowered, marker) {
				return true, status
			}
		}
	}
	return false, status
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// UserAgentHeader builds default headers that look like a real browser
// session for the given language region.
func UserAgentHeader(lang string) http.Header {
	h := http.Header{}
	if lang == "" {
		lang = "en-US,en;q=0.9"
	}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", lang)
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}
