package collect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		current Mode
		policy  SourcePolicy
		want    Mode
		ok      bool
	}{
		{
			name:    "direct to direct_slow",
			current: ModeDirect,
			policy:  SourcePolicy{AllowSlow: true},
			want:    ModeDirectSlow,
			ok:      true,
		},
		{
			name:    "direct skips slow to proxy",
			current: ModeDirect,
			policy:  SourcePolicy{AllowProxy: true},
			want:    ModeProxy,
			ok:      true,
		},
		{
			name:    "direct with nothing allowed",
			current: ModeDirect,
			policy:  SourcePolicy{},
			ok:      false,
		},
		{
			name:    "proxy to browser",
			current: ModeProxy,
			policy:  SourcePolicy{AllowProxy: true, AllowBrowser: true},
			want:    ModeBrowser,
			ok:      true,
		},
		{
			name:    "proxy is top rung when browser forbidden",
			current: ModeProxy,
			policy:  SourcePolicy{AllowSlow: true, AllowProxy: true},
			ok:      false,
		},
		{
			name:    "browser is terminal",
			current: ModeBrowser,
			policy:  SourcePolicy{AllowSlow: true, AllowProxy: true, AllowBrowser: true},
			ok:      false,
		},
		{
			name:    "web_unlocker never traverses the ladder",
			current: ModeWebUnlocker,
			policy:  SourcePolicy{AllowSlow: true, AllowProxy: true, AllowBrowser: true},
			ok:      false,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextMode(tc.current, tc.policy)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestClassifyType(t *testing.T) {
	t.Parallel()
	require.Equal(t, ClassBlocking, ClassifyType("BlockedError"))
	require.Equal(t, ClassStructural, ClassifyType("DataExtractionError"))
	require.Equal(t, ClassStructural, ClassifyType("ValidationError"))
	require.Equal(t, ClassTransient, ClassifyType("TimeoutError"))
	require.Equal(t, ClassTransient, ClassifyType("NetworkError"))
	require.Equal(t, ClassTransient, ClassifyType("HTTPError"))
	require.Equal(t, ClassTransient, ClassifyType("UnknownError"))
}

func TestOnLadder(t *testing.T) {
	t.Parallel()
	require.True(t, OnLadder(ModeDirect))
	require.True(t, OnLadder(ModeBrowser))
	require.False(t, OnLadder(ModeWebUnlocker))
	require.False(t, OnLadder(ModeBlocked))
}
