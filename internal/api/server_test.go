package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/orchestrator"
	"github.com/sharkted/collector/internal/policy"
	"github.com/sharkted/collector/internal/proxypool"
	"github.com/sharkted/collector/internal/state"
	"github.com/sharkted/collector/internal/tracker"
)

type stubRunner struct {
	result orchestrator.Result
	err    error
	source string
	url    string
}

func (r *stubRunner) Collect(_ context.Context, source, url string) (orchestrator.Result, error) {
	r.source, r.url = source, url
	return r.result, r.err
}

type serverEnv struct {
	server  *Server
	tracker *tracker.Tracker
	runner  *stubRunner
}

func newServerEnv(t *testing.T, cfg Config) *serverEnv {
	t.Helper()
	store := state.NewMemoryStore()
	reg := policy.NewRegistry([]collect.SourcePolicy{{
		Source: "size", Enabled: true, MaxRetries: 2, AllowSlow: true,
	}}, zap.NewNop())
	tr := tracker.New(store, reg, nil, nil, zap.NewNop())
	pool := proxypool.New(store, nil, nil, zap.NewNop())
	runner := &stubRunner{}
	srv := NewServer(reg, tr, pool, runner, prometheus.NewRegistry(), cfg, zap.NewNop())
	return &serverEnv{server: srv, tracker: tr, runner: runner}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListSources(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	_, err := env.tracker.RecordOutcome(context.Background(), "size", collect.Outcome{
		Mode: collect.ModeDirect, Success: true, StatusCode: 200,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sources []collect.SourceMetrics `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	require.Equal(t, "size", resp.Sources[0].Source)
	require.Equal(t, int64(1), resp.Sources[0].TotalSuccess)
}

func TestGetSourceNotTracked(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/v1/sources/ghost/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSourceDetail(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	_, err := env.tracker.RecordOutcome(context.Background(), "size", collect.Outcome{
		Mode: collect.ModeDirect, Success: true, StatusCode: 200,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/sources/size/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail sourceDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, collect.ModeDirect, detail.Metrics.CurrentMode)
	require.Equal(t, "low", detail.ProxyTier)
	require.InDelta(t, 100, detail.SuccessRate, 0.01)
	require.False(t, detail.CurrentlyDown)
}

func TestRegisterSource(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/sources/", map[string]any{
		"source":        "zalando",
		"baseline_mode": "proxy",
		"allow_proxy":   true,
		"enabled":       true,
		"plan_tier":     "premium",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sources/", map[string]any{
		"source":        "bad",
		"baseline_mode": "teleport",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnblockSource(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})

	// Two blocked responses escalate to direct_slow; two more exhaust the
	// ladder and trip the breaker.
	for i := 0; i < 4; i++ {
		_, err := env.tracker.RecordOutcome(context.Background(), "size", collect.Outcome{
			Mode: collect.ModeDirect, ErrorType: "BlockedError", StatusCode: 403,
		})
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodPost, "/v1/sources/size/unblock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		WasBlocked bool `json:"was_blocked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.WasBlocked)

	rec = env.do(t, http.MethodPost, "/v1/sources/size/unblock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.WasBlocked)
}

func TestCollectEndpoint(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	item := &collect.Item{Source: "size", ExternalID: "sku-1", Title: "Samba"}
	env.runner.result = orchestrator.Result{Mode: collect.ModeDirect, Admitted: true, Score: 85, Item: item}

	rec := env.do(t, http.MethodPost, "/v1/collect", collectRequest{Source: "size", URL: "https://size.example/p/1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "size", env.runner.source)

	var resp collectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Admitted)
	require.Equal(t, float64(85), resp.Score)
}

func TestCollectEndpointSentinelMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		code int
	}{
		{orchestrator.ErrSourceDisabled, http.StatusForbidden},
		{orchestrator.ErrSourceBlocked, http.StatusConflict},
		{orchestrator.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		env := newServerEnv(t, Config{})
		env.runner.err = tc.err
		rec := env.do(t, http.MethodPost, "/v1/collect", collectRequest{Source: "size", URL: "https://x"})
		require.Equal(t, tc.code, rec.Code)
	}
}

func TestCollectEndpointValidation(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/v1/collect", map[string]string{"source": "size"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{AuthEnabled: true, APIKey: "sekrit"})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	out := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	env := newServerEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
