// Package proxypool manages proxy health records and per-source tier
// escalation on top of the shared state store.
package proxypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/events"
	"github.com/sharkted/collector/internal/state"
)

const (
	proxyPrefix  = "proxy:"
	configPrefix = "proxycfg:"

	// defaultReuseInterval spaces out reuse of one endpoint against the
	// same pool so a single proxy does not hammer a site.
	defaultReuseInterval = 2 * time.Second

	// failureCeiling permanently retires a proxy. Once an endpoint has
	// failed this many times it stays out of rotation until the catalog
	// is reloaded with a replacement.
	failureCeiling = 10

	// ema weights for the response-time estimate.
	emaKeep   = 0.7
	emaSample = 0.3
)

// ErrNoProxyAvailable means no working proxy exists at or below the
// source's current tier.
var ErrNoProxyAvailable = errors.New("no working proxy available")

// Pool selects proxies for sources and absorbs per-proxy outcomes.
type Pool struct {
	store         state.Store
	clock         collect.Clock
	emitter       events.Emitter
	logger        *zap.Logger
	reuseInterval time.Duration
}

// Option customizes a Pool.
type Option func(*Pool)

// WithReuseInterval overrides the minimum spacing between uses of the same
// proxy.
func WithReuseInterval(d time.Duration) Option {
	return func(p *Pool) { p.reuseInterval = d }
}

// New builds a Pool.
func New(store state.Store, clock collect.Clock, emitter events.Emitter, logger *zap.Logger, opts ...Option) *Pool {
	if clock == nil {
		clock = collect.SystemClock{}
	}
	p := &Pool{
		store:         store,
		clock:         clock,
		emitter:       emitter,
		logger:        logger.Named("proxypool"),
		reuseInterval: defaultReuseInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func proxyKey(tier collect.ProxyTier, url string) string {
	return fmt.Sprintf("%s%s:%s", proxyPrefix, tier, url)
}

func configKey(source string) string { return configPrefix + source }

// LoadCatalog registers proxies from configuration. Health stats of proxies
// already known survive the reload; tier and country are refreshed from the
// catalog entry.
func (p *Pool) LoadCatalog(ctx context.Context, catalog []collect.ProxyInfo) error {
	for _, entry := range catalog {
		entry := entry
		_, err := p.store.Update(ctx, proxyKey(entry.Tier, entry.URL), func(cur []byte, found bool) ([]byte, error) {
			if !found {
				entry.IsWorking = true
				return json.Marshal(entry)
			}
			var existing collect.ProxyInfo
			if err := json.Unmarshal(cur, &existing); err != nil {
				return nil, fmt.Errorf("decode proxy %s: %w", entry.URL, err)
			}
			existing.Tier = entry.Tier
			existing.Country = entry.Country
			return json.Marshal(existing)
		})
		if err != nil {
			return err
		}
	}
	p.logger.Info("proxy catalog loaded", zap.Int("proxies", len(catalog)))
	return nil
}

func defaultSourceConfig(source string) collect.SourceProxyConfig {
	return collect.SourceProxyConfig{
		Source:                 source,
		MinTier:                collect.TierLow,
		MaxTier:                collect.TierHigh,
		CurrentTier:            collect.TierLow,
		FailuresBeforeEscalate: 3,
	}
}

// EnsureSource installs the tier configuration for a source if absent.
func (p *Pool) EnsureSource(ctx context.Context, cfg collect.SourceProxyConfig) error {
	if cfg.CurrentTier < cfg.MinTier {
		cfg.CurrentTier = cfg.MinTier
	}
	if cfg.FailuresBeforeEscalate <= 0 {
		cfg.FailuresBeforeEscalate = 3
	}
	_, err := p.store.Update(ctx, configKey(cfg.Source), func(cur []byte, found bool) ([]byte, error) {
		if found {
			return cur, nil
		}
		return json.Marshal(cfg)
	})
	return err
}

func (p *Pool) sourceConfig(ctx context.Context, source string) (collect.SourceProxyConfig, error) {
	cur, found, err := p.store.Get(ctx, configKey(source))
	if err != nil {
		return collect.SourceProxyConfig{}, err
	}
	if !found {
		return defaultSourceConfig(source), nil
	}
	var cfg collect.SourceProxyConfig
	if err := json.Unmarshal(cur, &cfg); err != nil {
		return collect.SourceProxyConfig{}, fmt.Errorf("decode proxy config for %s: %w", source, err)
	}
	return cfg, nil
}

// GetProxy picks a proxy for the source's current tier, falling back tier
// by tier down to its minimum. Within a tier it prefers working proxies
// rested past the reuse interval, best success rate first and fastest on
// ties; when every candidate is fresh-used the least recently used wins.
// The chosen proxy's LastUsedAt is stamped before returning. A source
// configured at TierNone needs no proxy; the zero ProxyInfo comes back
// with no error and the caller connects directly.
func (p *Pool) GetProxy(ctx context.Context, source string) (collect.ProxyInfo, error) {
	cfg, err := p.sourceConfig(ctx, source)
	if err != nil {
		return collect.ProxyInfo{}, err
	}
	if cfg.CurrentTier == collect.TierNone {
		return collect.ProxyInfo{}, nil
	}
	for tier := cfg.CurrentTier; tier >= cfg.MinTier; tier-- {
		chosen, ok, err := p.pickFromTier(ctx, tier)
		if err != nil {
			return collect.ProxyInfo{}, err
		}
		if ok {
			return chosen, nil
		}
	}
	return collect.ProxyInfo{}, fmt.Errorf("%w for %s at tier %s", ErrNoProxyAvailable, source, cfg.CurrentTier)
}

func (p *Pool) pickFromTier(ctx context.Context, tier collect.ProxyTier) (collect.ProxyInfo, bool, error) {
	candidates, err := p.tierProxies(ctx, tier)
	if err != nil {
		return collect.ProxyInfo{}, false, err
	}
	working := candidates[:0]
	for _, info := range candidates {
		if info.IsWorking {
			working = append(working, info)
		}
	}
	if len(working) == 0 {
		return collect.ProxyInfo{}, false, nil
	}

	now := p.clock.Now()
	rested := make([]collect.ProxyInfo, 0, len(working))
	for _, info := range working {
		if now.Sub(info.LastUsedAt) >= p.reuseInterval {
			rested = append(rested, info)
		}
	}
	var chosen collect.ProxyInfo
	if len(rested) > 0 {
		sort.SliceStable(rested, func(i, j int) bool {
			ri, rj := rested[i].SuccessRate(), rested[j].SuccessRate()
			if ri != rj {
				return ri > rj
			}
			return rested[i].AvgResponseTimeMs < rested[j].AvgResponseTimeMs
		})
		chosen = rested[0]
	} else {
		chosen = working[0]
		for _, info := range working[1:] {
			if info.LastUsedAt.Before(chosen.LastUsedAt) {
				chosen = info
			}
		}
	}

	stamped, err := p.updateProxy(ctx, tier, chosen.URL, func(info *collect.ProxyInfo) {
		info.LastUsedAt = now
	})
	if err != nil {
		return collect.ProxyInfo{}, false, err
	}
	return stamped, true, nil
}

func (p *Pool) tierProxies(ctx context.Context, tier collect.ProxyTier) ([]collect.ProxyInfo, error) {
	keys, err := p.store.Keys(ctx, proxyPrefix+tier.String()+":")
	if err != nil {
		return nil, err
	}
	out := make([]collect.ProxyInfo, 0, len(keys))
	for _, key := range keys {
		cur, found, err := p.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var info collect.ProxyInfo
		if err := json.Unmarshal(cur, &info); err != nil {
			return nil, fmt.Errorf("decode proxy %s: %w", key, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *Pool) updateProxy(ctx context.Context, tier collect.ProxyTier, url string, mutate func(*collect.ProxyInfo)) (collect.ProxyInfo, error) {
	var result collect.ProxyInfo
	_, err := p.store.Update(ctx, proxyKey(tier, url), func(cur []byte, found bool) ([]byte, error) {
		info := collect.ProxyInfo{URL: url, Tier: tier, IsWorking: true}
		if found {
			if err := json.Unmarshal(cur, &info); err != nil {
				return nil, fmt.Errorf("decode proxy %s: %w", url, err)
			}
		}
		mutate(&info)
		result = info
		return json.Marshal(info)
	})
	return result, err
}

// RecordSuccess credits the proxy and clears the source's failure streak.
func (p *Pool) RecordSuccess(ctx context.Context, source string, tier collect.ProxyTier, url string, rt time.Duration) error {
	_, err := p.updateProxy(ctx, tier, url, func(info *collect.ProxyInfo) {
		info.SuccessCount++
		sample := float64(rt.Milliseconds())
		if info.AvgResponseTimeMs == 0 {
			info.AvgResponseTimeMs = sample
		} else {
			info.AvgResponseTimeMs = emaKeep*info.AvgResponseTimeMs + emaSample*sample
		}
	})
	if err != nil {
		return err
	}
	_, err = p.store.Update(ctx, configKey(source), func(cur []byte, found bool) ([]byte, error) {
		cfg := defaultSourceConfig(source)
		if found {
			if err := json.Unmarshal(cur, &cfg); err != nil {
				return nil, fmt.Errorf("decode proxy config for %s: %w", source, err)
			}
		}
		cfg.ConsecutiveFailures = 0
		return json.Marshal(cfg)
	})
	return err
}

// RecordFailure debits the proxy, retiring it at the failure ceiling, and
// advances the source's tier once its streak passes the escalation bar.
func (p *Pool) RecordFailure(ctx context.Context, source string, tier collect.ProxyTier, url string) error {
	retired := false
	_, err := p.updateProxy(ctx, tier, url, func(info *collect.ProxyInfo) {
		info.FailureCount++
		if info.FailureCount >= failureCeiling {
			if info.IsWorking {
				retired = true
			}
			info.IsWorking = false
		}
	})
	if err != nil {
		return err
	}
	if retired {
		p.logger.Warn("proxy retired",
			zap.String("url", url),
			zap.Stringer("tier", tier))
	}

	var escalated bool
	var from, to collect.ProxyTier
	now := p.clock.Now()
	_, err = p.store.Update(ctx, configKey(source), func(cur []byte, found bool) ([]byte, error) {
		escalated = false
		cfg := defaultSourceConfig(source)
		if found {
			if err := json.Unmarshal(cur, &cfg); err != nil {
				return nil, fmt.Errorf("decode proxy config for %s: %w", source, err)
			}
		}
		cfg.ConsecutiveFailures++
		if cfg.ConsecutiveFailures >= cfg.FailuresBeforeEscalate && cfg.CurrentTier < cfg.MaxTier {
			escalated = true
			from, to = cfg.CurrentTier, cfg.CurrentTier+1
			cfg.CurrentTier = to
			cfg.ConsecutiveFailures = 0
			cfg.LastEscalationAt = &now
		}
		return json.Marshal(cfg)
	})
	if err != nil {
		return err
	}
	if escalated {
		if p.emitter != nil {
			evt := events.New(events.KindProxyTierEscalated, source)
			evt.FromTier = from
			evt.ToTier = to
			p.emitter.Emit(evt)
		}
		p.logger.Warn("proxy tier escalated",
			zap.String("source", source),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return nil
}

// ResetSource restores the source's tier to its minimum and clears its
// failure streak.
func (p *Pool) ResetSource(ctx context.Context, source string) error {
	_, err := p.store.Update(ctx, configKey(source), func(cur []byte, found bool) ([]byte, error) {
		cfg := defaultSourceConfig(source)
		if found {
			if err := json.Unmarshal(cur, &cfg); err != nil {
				return nil, fmt.Errorf("decode proxy config for %s: %w", source, err)
			}
		}
		cfg.CurrentTier = cfg.MinTier
		cfg.ConsecutiveFailures = 0
		cfg.LastEscalationAt = nil
		return json.Marshal(cfg)
	})
	if err != nil {
		return err
	}
	p.logger.Info("proxy tier reset", zap.String("source", source))
	return nil
}

// SourceTier reports the tier the source currently escalated to.
func (p *Pool) SourceTier(ctx context.Context, source string) (collect.ProxyTier, error) {
	cfg, err := p.sourceConfig(ctx, source)
	if err != nil {
		return collect.TierNone, err
	}
	return cfg.CurrentTier, nil
}

// Stats lists every known proxy record.
func (p *Pool) Stats(ctx context.Context) ([]collect.ProxyInfo, error) {
	keys, err := p.store.Keys(ctx, proxyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]collect.ProxyInfo, 0, len(keys))
	for _, key := range keys {
		cur, found, err := p.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var info collect.ProxyInfo
		if err := json.Unmarshal(cur, &info); err != nil {
			return nil, fmt.Errorf("decode proxy %s: %w", key, err)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return strings.Compare(out[i].URL, out[j].URL) < 0
	})
	return out, nil
}
