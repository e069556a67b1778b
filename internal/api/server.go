package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/orchestrator"
)

// PolicyRegistry is the policy surface the API needs.
type PolicyRegistry interface {
	Get(source string) collect.SourcePolicy
	Register(p collect.SourcePolicy)
	Sources() []string
}

// Tracker is the metrics surface the API needs.
type Tracker interface {
	Metrics(ctx context.Context, source string) (collect.SourceMetrics, bool, error)
	AllMetrics(ctx context.Context) ([]collect.SourceMetrics, error)
	Unblock(ctx context.Context, source string) (bool, error)
}

// ProxyPool is the proxy surface the API needs.
type ProxyPool interface {
	Stats(ctx context.Context) ([]collect.ProxyInfo, error)
	ResetSource(ctx context.Context, source string) error
	SourceTier(ctx context.Context, source string) (collect.ProxyTier, error)
}

// CollectRunner triggers one ad-hoc collection.
type CollectRunner interface {
	Collect(ctx context.Context, source, url string) (orchestrator.Result, error)
}

// Config controls server-level toggles.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the collection subsystems.
type Server struct {
	router   chi.Router
	policies PolicyRegistry
	tracker  Tracker
	pool     ProxyPool
	runner   CollectRunner
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer serves
// /metrics; pass the registry the event sink registered against.
func NewServer(
	policies PolicyRegistry,
	tracker Tracker,
	pool ProxyPool,
	runner CollectRunner,
	gatherer prometheus.Gatherer,
	cfg Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		policies: policies,
		tracker:  tracker,
		pool:     pool,
		runner:   runner,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.registerSource)
			r.Route("/{source}", func(r chi.Router) {
				r.Get("/", s.getSource)
				r.Post("/unblock", s.unblockSource)
				r.Post("/proxy/reset", s.resetProxyTier)
			})
		})
		r.Get("/proxies", s.listProxies)
		r.Post("/collect", s.collect)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The state store backs every request; listing keys proves it answers.
	if _, err := s.tracker.AllMetrics(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.tracker.AllMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": metrics})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	metrics, found, err := s.tracker.Metrics(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "source not tracked")
		return
	}
	tier, err := s.pool.SourceTier(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sourceDetail{
		Metrics:       metrics,
		Policy:        s.policies.Get(source),
		ProxyTier:     tier.String(),
		SuccessRate:   metrics.SuccessRate24h(),
		CurrentlyDown: metrics.IsBlocked(time.Now().UTC()),
	})
}

func (s *Server) registerSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pol, err := req.toPolicy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.policies.Register(pol)
	writeJSON(w, http.StatusCreated, map[string]string{"source": pol.Source})
}

func (s *Server) unblockSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	was, err := s.tracker.Unblock(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "was_blocked": was})
}

func (s *Server) resetProxyTier(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if err := s.pool.ResetSource(r.Context(), source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": source, "status": "reset"})
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pool.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": stats})
}

func (s *Server) collect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "source and url are required")
		return
	}
	res, err := s.runner.Collect(r.Context(), req.Source, req.URL)
	switch {
	case errors.Is(err, orchestrator.ErrSourceDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrator.ErrSourceBlocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, collectResponse{
			Mode:  string(res.Mode),
			Error: err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, collectResponse{
			Mode:     string(res.Mode),
			Admitted: res.Admitted,
			Score:    res.Score,
			Item:     res.Item,
		})
	}
}

type sourceDetail struct {
	Metrics       collect.SourceMetrics `json:"metrics"`
	Policy        collect.SourcePolicy  `json:"policy"`
	ProxyTier     string                `json:"proxy_tier"`
	SuccessRate   float64               `json:"success_rate_24h"`
	CurrentlyDown bool                  `json:"blocked"`
}

type collectRequest struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

type collectResponse struct {
	Mode     string        `json:"mode"`
	Admitted bool          `json:"admitted"`
	Score    float64       `json:"score,omitempty"`
	Item     *collect.Item `json:"item,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type registerSourceRequest struct {
	Source                     string  `json:"source"`
	BaselineMode               string  `json:"baseline_mode"`
	MaxRetries                 int     `json:"max_retries"`
	BaseIntervalSeconds        int     `json:"base_interval_seconds"`
	BackoffMultiplier          float64 `json:"backoff_multiplier"`
	MaxBackoffSeconds          int     `json:"max_backoff_seconds"`
	AllowSlow                  bool    `json:"allow_slow"`
	AllowProxy                 bool    `json:"allow_proxy"`
	AllowBrowser               bool    `json:"allow_browser"`
	Enabled                    bool    `json:"enabled"`
	Reason                     string  `json:"reason"`
	PlanTier                   string  `json:"plan_tier"`
	EscalateAfter              int     `json:"escalate_after"`
	StructuralFailureThreshold int     `json:"structural_failure_threshold"`
	RequestLimit               int     `json:"request_limit"`
	RateWindowSeconds          int     `json:"rate_window_seconds"`
}

func (r registerSourceRequest) toPolicy() (collect.SourcePolicy, error) {
	if r.Source == "" {
		return collect.SourcePolicy{}, errors.New("source is required")
	}
	mode := collect.Mode(r.BaselineMode)
	switch mode {
	case "", collect.ModeDirect, collect.ModeDirectSlow, collect.ModeProxy,
		collect.ModeBrowser, collect.ModeWebUnlocker:
	default:
		return collect.SourcePolicy{}, errors.New("invalid baseline_mode")
	}
	return collect.SourcePolicy{
		Source:                     r.Source,
		BaselineMode:               mode,
		MaxRetries:                 r.MaxRetries,
		BaseInterval:               time.Duration(r.BaseIntervalSeconds) * time.Second,
		BackoffMultiplier:          r.BackoffMultiplier,
		MaxBackoff:                 time.Duration(r.MaxBackoffSeconds) * time.Second,
		AllowSlow:                  r.AllowSlow,
		AllowProxy:                 r.AllowProxy,
		AllowBrowser:               r.AllowBrowser,
		Enabled:                    r.Enabled,
		Reason:                     r.Reason,
		PlanTier:                   r.PlanTier,
		EscalateAfter:              r.EscalateAfter,
		StructuralFailureThreshold: r.StructuralFailureThreshold,
		RequestLimit:               r.RequestLimit,
		RateWindow:                 time.Duration(r.RateWindowSeconds) * time.Second,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
