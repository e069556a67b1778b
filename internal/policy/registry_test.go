package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

func TestGetFallsBackToDefault(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil, zap.NewNop())

	p := r.Get("unknown-shop")
	require.Equal(t, "unknown-shop", p.Source)
	require.Equal(t, collect.ModeDirect, p.BaselineMode)
	require.True(t, p.Enabled)
	require.True(t, p.AllowSlow)
	require.False(t, p.AllowProxy)
	require.False(t, p.AllowBrowser)
	require.Equal(t, 2, p.MaxRetries)
	require.Equal(t, 120*time.Second, p.BaseInterval)
}

func TestGetExplicitPolicy(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]collect.SourcePolicy{{
		Source:       "size",
		BaselineMode: collect.ModeProxy,
		AllowProxy:   true,
		Enabled:      true,
		PlanTier:     "premium",
	}}, zap.NewNop())

	p := r.Get("size")
	require.Equal(t, collect.ModeProxy, p.BaselineMode)
	require.Equal(t, "premium", p.PlanTier)
}

func TestRegisterReplaces(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]collect.SourcePolicy{{Source: "size", Enabled: true}}, zap.NewNop())

	r.Register(collect.SourcePolicy{Source: "size", Enabled: false, Reason: "legal hold"})
	p := r.Get("size")
	require.False(t, p.Enabled)
	require.Equal(t, "legal hold", p.Reason)
	require.ElementsMatch(t, []string{"size"}, r.Sources())
}

func TestNormalizeFillsDefaults(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]collect.SourcePolicy{{Source: "bare", Enabled: true}}, zap.NewNop())

	p := r.Get("bare")
	require.Equal(t, collect.ModeDirect, p.BaselineMode)
	require.Equal(t, float64(2), p.BackoffMultiplier)
	require.Equal(t, 6*time.Hour, p.MaxBackoff)
	require.Equal(t, 5, p.StructuralFailureThreshold)
}
