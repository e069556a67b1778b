// Package collect defines the core types shared across the collection
// orchestrator subsystems.
package collect

import (
	"time"
)

// Mode is the approach strategy currently used against a source.
type Mode string

// Collection modes, in escalation order. WebUnlocker is a parallel branch
// for sources routed through a paid unlocker endpoint; Blocked is reported
// while a source is circuit-broken.
const (
	ModeDirect      Mode = "direct"
	ModeDirectSlow  Mode = "direct_slow"
	ModeProxy       Mode = "proxy"
	ModeBrowser     Mode = "browser"
	ModeWebUnlocker Mode = "web_unlocker"
	ModeBlocked     Mode = "blocked"
)

// ProxyTier classifies outbound egress strength.
type ProxyTier int

// Proxy tiers ordered by strength.
const (
	TierNone ProxyTier = iota
	TierLow
	TierMedium
	TierHigh
)

// String returns the lowercase tier label used in keys and logs.
func (t ProxyTier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseTier converts a config label into a ProxyTier.
func ParseTier(s string) (ProxyTier, bool) {
	switch s {
	case "none", "":
		return TierNone, true
	case "low":
		return TierLow, true
	case "medium":
		return TierMedium, true
	case "high":
		return TierHigh, true
	}
	return TierNone, false
}

// WarmupConfig describes the user-journey warmup executed before a
// DIRECT_SLOW attempt: homepage, then one category page, with jittered
// pauses in between.
type WarmupConfig struct {
	Homepage     string        `json:"homepage"`
	CategoryURLs []string      `json:"category_urls"`
	DelayMin     time.Duration `json:"delay_min"`
	DelayMax     time.Duration `json:"delay_max"`
	HomepageTTL  time.Duration `json:"homepage_ttl"`
	CategoryTTL  time.Duration `json:"category_ttl"`
}

// SourcePolicy is the immutable collection configuration for one source.
// It is installed at startup (or via administrative registration) and never
// mutated afterwards.
type SourcePolicy struct {
	Source            string        `json:"source"`
	BaselineMode      Mode          `json:"baseline_mode"`
	MaxRetries        int           `json:"max_retries"`
	BaseInterval      time.Duration `json:"base_interval"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"max_backoff"`
	AllowSlow         bool          `json:"allow_slow"`
	AllowProxy        bool          `json:"allow_proxy"`
	AllowBrowser      bool          `json:"allow_browser"`
	Enabled           bool          `json:"enabled"`
	Reason            string        `json:"reason,omitempty"`
	PlanTier          string        `json:"plan_tier"`

	// EscalateAfter is the consecutive-failure count that triggers an
	// escalation decision for blocking-class errors. Zero means "use
	// MaxRetries".
	EscalateAfter int `json:"escalate_after"`

	// StructuralFailureThreshold bounds the dedicated counter for
	// extraction/validation failures before a breakage event is emitted.
	StructuralFailureThreshold int `json:"structural_failure_threshold"`

	// RequestLimit/RateWindow feed the per-source fixed-window limiter.
	RequestLimit int           `json:"request_limit"`
	RateWindow   time.Duration `json:"rate_window"`

	Warmup *WarmupConfig `json:"warmup,omitempty"`
}

// EscalationThreshold resolves the consecutive-failure count that arms an
// escalation decision for blocking-class errors.
func (p SourcePolicy) EscalationThreshold() int {
	if p.EscalateAfter > 0 {
		return p.EscalateAfter
	}
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return 2
}

// SourceMetrics is the mutable runtime state for one source, shared by all
// workers through the state store. Mutations happen only inside guarded
// read-modify-write updates.
type SourceMetrics struct {
	Source              string     `json:"source"`
	CurrentMode         Mode       `json:"current_mode"`
	TotalAttempts       int64      `json:"total_attempts"`
	TotalSuccess        int64      `json:"total_success"`
	TotalFailures       int64      `json:"total_failures"`
	Success24h          int64      `json:"success_24h"`
	Failures24h         int64      `json:"failures_24h"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	StructuralFailures  int        `json:"structural_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	LastErrorType       string     `json:"last_error_type,omitempty"`
	LastStatusCode      int        `json:"last_status_code,omitempty"`
	BlockedUntil        *time.Time `json:"blocked_until,omitempty"`
	BlockReason         string     `json:"block_reason,omitempty"`
}

// IsBlocked reports whether the source is circuit-broken at the given time.
func (m SourceMetrics) IsBlocked(now time.Time) bool {
	return m.BlockedUntil != nil && now.Before(*m.BlockedUntil)
}

// SuccessRate24h returns the rolling success percentage, or zero when the
// window is empty.
func (m SourceMetrics) SuccessRate24h() float64 {
	total := m.Success24h + m.Failures24h
	if total == 0 {
		return 0
	}
	return float64(m.Success24h) / float64(total) * 100
}

// ProxyInfo is the health record for a single proxy endpoint.
type ProxyInfo struct {
	URL               string    `json:"url"`
	Tier              ProxyTier `json:"tier"`
	Country           string    `json:"country,omitempty"`
	SuccessCount      int64     `json:"success_count"`
	FailureCount      int64     `json:"failure_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	IsWorking         bool      `json:"is_working"`
	LastUsedAt        time.Time `json:"last_used_at"`
}

// SuccessRate returns the fraction of successful uses, defaulting to 1 for
// an unused proxy so fresh proxies sort ahead of known-bad ones.
func (p ProxyInfo) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 1
	}
	return float64(p.SuccessCount) / float64(total)
}

// SourceProxyConfig tracks the active proxy tier for one source. The tier
// only moves up, bounded by MaxTier; ResetSource restores MinTier.
type SourceProxyConfig struct {
	Source                 string     `json:"source"`
	MinTier                ProxyTier  `json:"min_tier"`
	MaxTier                ProxyTier  `json:"max_tier"`
	CurrentTier            ProxyTier  `json:"current_tier"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	FailuresBeforeEscalate int        `json:"failures_before_escalate"`
	LastEscalationAt       *time.Time `json:"last_escalation_at,omitempty"`
}

// Outcome is the ephemeral result of one collection attempt, flowing from
// the worker into the state machine and proxy pool. It is never persisted.
type Outcome struct {
	Mode       Mode
	Success    bool
	StatusCode int
	ErrorType  string
	Duration   time.Duration
}

// Item is a collected product listing handed to the admission gate and,
// when admitted, to the repository. Extraction of items from raw markup is
// an external collaborator's job.
type Item struct {
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
