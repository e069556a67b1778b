package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	path := objectPath("size", "https://size.example/p/sku-1", now)
	require.True(t, strings.HasPrefix(path, "size/"))
	require.True(t, strings.HasSuffix(path, ".html"))
	require.Contains(t, path, "1772355600-")

	// Same URL hashes the same; different URLs diverge.
	require.Equal(t, path, objectPath("size", "https://size.example/p/sku-1", now))
	require.NotEqual(t, path, objectPath("size", "https://size.example/p/sku-2", now))
}

func TestNoopArchive(t *testing.T) {
	t.Parallel()
	require.NoError(t, Noop{}.Archive(context.Background(), "size", "https://x", []byte("body")))
}
