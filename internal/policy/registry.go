// Package policy holds the per-source collection policy registry.
package policy

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

// DefaultPolicy returns the conservative baseline applied to sources with
// no explicit entry: direct mode, slow fallback only.
func DefaultPolicy() collect.SourcePolicy {
	return collect.SourcePolicy{
		BaselineMode:      collect.ModeDirect,
		MaxRetries:        2,
		BaseInterval:      120 * time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        6 * time.Hour,
		AllowSlow:         true,
		Enabled:           true,
		PlanTier:          "free",

		StructuralFailureThreshold: 5,
	}
}

// Registry resolves the SourcePolicy for a source name. Lookups for unknown
// sources fall back to the default policy so a new site can be collected
// before it has an explicit entry.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]collect.SourcePolicy
	def      collect.SourcePolicy
	logger   *zap.Logger
}

// NewRegistry builds a registry seeded with the given policies.
func NewRegistry(policies []collect.SourcePolicy, logger *zap.Logger) *Registry {
	r := &Registry{
		policies: make(map[string]collect.SourcePolicy, len(policies)),
		def:      DefaultPolicy(),
		logger:   logger.Named("policy"),
	}
	for _, p := range policies {
		r.policies[p.Source] = normalize(p)
	}
	return r
}

// Get returns the policy for source, falling back to the default with the
// source name filled in.
func (r *Registry) Get(source string) collect.SourcePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[source]; ok {
		return p
	}
	p := r.def
	p.Source = source
	return p
}

// Register installs or replaces the policy for a source.
func (r *Registry) Register(p collect.SourcePolicy) {
	p = normalize(p)
	r.mu.Lock()
	r.policies[p.Source] = p
	r.mu.Unlock()
	r.logger.Info("policy registered",
		zap.String("source", p.Source),
		zap.String("baseline_mode", string(p.BaselineMode)),
		zap.Bool("enabled", p.Enabled),
		zap.String("plan_tier", p.PlanTier))
}

// Sources lists every source with an explicit policy.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.policies))
	for s := range r.policies {
		out = append(out, s)
	}
	return out
}

// normalize fills gaps a hand-written config entry commonly leaves empty.
func normalize(p collect.SourcePolicy) collect.SourcePolicy {
	if p.BaselineMode == "" {
		p.BaselineMode = collect.ModeDirect
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2
	}
	if p.BaseInterval <= 0 {
		p.BaseInterval = 120 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 6 * time.Hour
	}
	if p.StructuralFailureThreshold <= 0 {
		p.StructuralFailureThreshold = 5
	}
	return p
}
