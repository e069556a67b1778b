// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sharkted/collector/internal/collect"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Auth      AuthConfig             `mapstructure:"auth"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Redis     RedisConfig            `mapstructure:"redis"`
	DB        DBConfig               `mapstructure:"db"`
	PubSub    PubSubConfig           `mapstructure:"pubsub"`
	Archive   ArchiveConfig          `mapstructure:"archive"`
	Collector CollectorConfig        `mapstructure:"collector"`
	Admission AdmissionConfig        `mapstructure:"admission"`
	Policies  map[string]PolicyEntry `mapstructure:"policies"`
	Proxies   ProxiesConfig          `mapstructure:"proxies"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RedisConfig selects the shared state store. An empty Addr falls back to
// the in-process store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables item persistence and snapshot mirroring.
type DBConfig struct {
	DSN              string `mapstructure:"dsn"`
	SnapshotInterval int    `mapstructure:"snapshot_interval_seconds"`
}

// PubSubConfig holds metadata for escalation notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig configures the failed-extraction payload bucket.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// CollectorConfig governs fetch behavior.
type CollectorConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	SlowDelayMinSec  int    `mapstructure:"slow_delay_min_seconds"`
	SlowDelayMaxSec  int    `mapstructure:"slow_delay_max_seconds"`
	ProxyReuseMillis int    `mapstructure:"proxy_reuse_ms"`
}

// AdmissionConfig sets the score gate.
type AdmissionConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// PolicyEntry is one per-source policy in the config file.
type PolicyEntry struct {
	BaselineMode               string       `mapstructure:"baseline_mode"`
	MaxRetries                 int          `mapstructure:"max_retries"`
	BaseIntervalSeconds        int          `mapstructure:"base_interval_seconds"`
	BackoffMultiplier          float64      `mapstructure:"backoff_multiplier"`
	MaxBackoffSeconds          int          `mapstructure:"max_backoff_seconds"`
	AllowSlow                  bool         `mapstructure:"allow_slow"`
	AllowProxy                 bool         `mapstructure:"allow_proxy"`
	AllowBrowser               bool         `mapstructure:"allow_browser"`
	Enabled                    bool         `mapstructure:"enabled"`
	Reason                     string       `mapstructure:"reason"`
	PlanTier                   string       `mapstructure:"plan_tier"`
	EscalateAfter              int          `mapstructure:"escalate_after"`
	StructuralFailureThreshold int          `mapstructure:"structural_failure_threshold"`
	RequestLimit               int          `mapstructure:"request_limit"`
	RateWindowSeconds          int          `mapstructure:"rate_window_seconds"`
	Warmup                     *WarmupEntry `mapstructure:"warmup"`
}

// WarmupEntry configures the slow-mode user journey for one source.
type WarmupEntry struct {
	Homepage          string   `mapstructure:"homepage"`
	CategoryURLs      []string `mapstructure:"category_urls"`
	DelayMinSeconds   int      `mapstructure:"delay_min_seconds"`
	DelayMaxSeconds   int      `mapstructure:"delay_max_seconds"`
	HomepageTTLMinute int      `mapstructure:"homepage_ttl_minutes"`
	CategoryTTLMinute int      `mapstructure:"category_ttl_minutes"`
}

// ProxiesConfig carries the proxy catalog and per-source tier settings.
type ProxiesConfig struct {
	Catalog []ProxyEntry               `mapstructure:"catalog"`
	Sources map[string]SourceTierEntry `mapstructure:"sources"`
}

// ProxyEntry is one catalog proxy.
type ProxyEntry struct {
	URL     string `mapstructure:"url"`
	Tier    string `mapstructure:"tier"`
	Country string `mapstructure:"country"`
}

// SourceTierEntry bounds a source's proxy tier escalation.
type SourceTierEntry struct {
	MinTier                string `mapstructure:"min_tier"`
	MaxTier                string `mapstructure:"max_tier"`
	FailuresBeforeEscalate int    `mapstructure:"failures_before_escalate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.snapshot_interval_seconds", 60)
	v.SetDefault("collector.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("collector.timeout_seconds", 15)
	v.SetDefault("collector.slow_delay_min_seconds", 2)
	v.SetDefault("collector.slow_delay_max_seconds", 5)
	v.SetDefault("collector.proxy_reuse_ms", 2000)
	v.SetDefault("admission.threshold", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Collector.TimeoutSeconds <= 0 {
		return fmt.Errorf("collector.timeout_seconds must be > 0")
	}
	if c.Admission.Threshold < 0 || c.Admission.Threshold > 100 {
		return fmt.Errorf("admission.threshold must be within [0,100]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth is enabled")
	}
	for name, entry := range c.Policies {
		if entry.BaselineMode != "" && !validMode(entry.BaselineMode) {
			return fmt.Errorf("policies.%s.baseline_mode %q is not a valid mode", name, entry.BaselineMode)
		}
	}
	for _, p := range c.Proxies.Catalog {
		if p.URL == "" {
			return fmt.Errorf("proxies.catalog entries require a url")
		}
		if _, ok := collect.ParseTier(p.Tier); !ok {
			return fmt.Errorf("proxy %s has invalid tier %q", p.URL, p.Tier)
		}
	}
	for source, entry := range c.Proxies.Sources {
		if _, ok := collect.ParseTier(entry.MinTier); !ok {
			return fmt.Errorf("proxies.sources.%s has invalid min_tier %q", source, entry.MinTier)
		}
		if _, ok := collect.ParseTier(entry.MaxTier); !ok {
			return fmt.Errorf("proxies.sources.%s has invalid max_tier %q", source, entry.MaxTier)
		}
	}
	return nil
}

func validMode(s string) bool {
	switch collect.Mode(s) {
	case collect.ModeDirect, collect.ModeDirectSlow, collect.ModeProxy,
		collect.ModeBrowser, collect.ModeWebUnlocker:
		return true
	}
	return false
}

// SourcePolicies converts the config entries into registry policies.
func (c Config) SourcePolicies() []collect.SourcePolicy {
	out := make([]collect.SourcePolicy, 0, len(c.Policies))
	for name, entry := range c.Policies {
		out = append(out, entry.toPolicy(name))
	}
	return out
}

func (e PolicyEntry) toPolicy(source string) collect.SourcePolicy {
	p := collect.SourcePolicy{
		Source:                     source,
		BaselineMode:               collect.Mode(e.BaselineMode),
		MaxRetries:                 e.MaxRetries,
		BaseInterval:               time.Duration(e.BaseIntervalSeconds) * time.Second,
		BackoffMultiplier:          e.BackoffMultiplier,
		MaxBackoff:                 time.Duration(e.MaxBackoffSeconds) * time.Second,
		AllowSlow:                  e.AllowSlow,
		AllowProxy:                 e.AllowProxy,
		AllowBrowser:               e.AllowBrowser,
		Enabled:                    e.Enabled,
		Reason:                     e.Reason,
		PlanTier:                   e.PlanTier,
		EscalateAfter:              e.EscalateAfter,
		StructuralFailureThreshold: e.StructuralFailureThreshold,
		RequestLimit:               e.RequestLimit,
		RateWindow:                 time.Duration(e.RateWindowSeconds) * time.Second,
	}
	if e.Warmup != nil && e.Warmup.Homepage != "" {
		p.Warmup = &collect.WarmupConfig{
			Homepage:     e.Warmup.Homepage,
			CategoryURLs: e.Warmup.CategoryURLs,
			DelayMin:     time.Duration(e.Warmup.DelayMinSeconds) * time.Second,
			DelayMax:     time.Duration(e.Warmup.DelayMaxSeconds) * time.Second,
			HomepageTTL:  time.Duration(e.Warmup.HomepageTTLMinute) * time.Minute,
			CategoryTTL:  time.Duration(e.Warmup.CategoryTTLMinute) * time.Minute,
		}
	}
	return p
}

// ProxyCatalog converts the catalog entries into pool records.
func (c Config) ProxyCatalog() []collect.ProxyInfo {
	out := make([]collect.ProxyInfo, 0, len(c.Proxies.Catalog))
	for _, entry := range c.Proxies.Catalog {
		tier, _ := collect.ParseTier(entry.Tier)
		out = append(out, collect.ProxyInfo{URL: entry.URL, Tier: tier, Country: entry.Country})
	}
	return out
}

// SourceProxyConfigs converts per-source tier settings for the pool.
func (c Config) SourceProxyConfigs() []collect.SourceProxyConfig {
	out := make([]collect.SourceProxyConfig, 0, len(c.Proxies.Sources))
	for source, entry := range c.Proxies.Sources {
		// An explicit "none" stays none (the source runs proxyless);
		// only an absent tier falls back to the defaults.
		minTier, _ := collect.ParseTier(entry.MinTier)
		if entry.MinTier == "" {
			minTier = collect.TierLow
		}
		maxTier, _ := collect.ParseTier(entry.MaxTier)
		if entry.MaxTier == "" {
			maxTier = collect.TierHigh
		}
		if maxTier < minTier {
			maxTier = minTier
		}
		out = append(out, collect.SourceProxyConfig{
			Source:                 source,
			MinTier:                minTier,
			MaxTier:                maxTier,
			CurrentTier:            minTier,
			FailuresBeforeEscalate: entry.FailuresBeforeEscalate,
		})
	}
	return out
}
