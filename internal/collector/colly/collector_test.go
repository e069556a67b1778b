package collycollector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
)

type stubExtractor struct {
	item *collect.Item
	err  error
}

func (e stubExtractor) Extract(string, string, []byte) (*collect.Item, error) {
	return e.item, e.err
}

func newTestCollector(t *testing.T, extractor Extractor) *Collector {
	t.Helper()
	return New(Config{Timeout: 5 * time.Second}, extractor, nil, zap.NewNop())
}

func TestFetchSuccessExtractsItem(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Samba OG</body></html>"))
	}))
	defer srv.Close()

	want := &collect.Item{Source: "size", ExternalID: "sku-1", Title: "Samba OG", Price: 99, Currency: "EUR"}
	c := newTestCollector(t, stubExtractor{item: want})

	res, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: srv.URL, Mode: collect.ModeDirect})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, want, res.Item)
	require.Contains(t, string(res.Body), "Samba OG")
}

func TestFetchForbiddenIsBlockedError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestCollector(t, nil)
	_, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: srv.URL, Mode: collect.ModeDirect})
	require.Equal(t, "BlockedError", collect.ErrorTypeOf(err))
	code, ok := collect.StatusCodeOf(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, code)
}

func TestFetchBlockPageBehindOK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><title>Access Denied</title>please solve this CAPTCHA</html>"))
	}))
	defer srv.Close()

	c := newTestCollector(t, nil)
	_, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: srv.URL, Mode: collect.ModeDirect})
	require.Equal(t, "BlockedError", collect.ErrorTypeOf(err))
}

func TestFetchServerErrorIsRetryableHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestCollector(t, nil)
	_, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: srv.URL, Mode: collect.ModeDirect})
	require.Equal(t, "HTTPError", collect.ErrorTypeOf(err))
	require.True(t, collect.IsRetryable(err))
}

func TestFetchConnectionFailureIsNetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestCollector(t, nil)
	_, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: url, Mode: collect.ModeDirect})
	require.Equal(t, "NetworkError", collect.ErrorTypeOf(err))
	require.True(t, collect.IsRetryable(err))
}

func TestFetchExtractionErrorKeepsBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>redesigned layout</html>"))
	}))
	defer srv.Close()

	c := newTestCollector(t, stubExtractor{err: collect.NewDataExtractionError("size", srv.URL, "price missing")})
	res, err := c.Fetch(context.Background(), collect.FetchRequest{Source: "size", URL: srv.URL, Mode: collect.ModeDirect})
	require.Equal(t, "DataExtractionError", collect.ErrorTypeOf(err))
	require.Contains(t, string(res.Body), "redesigned")
}

func TestLooksBlocked(t *testing.T) {
	t.Parallel()
	blocked, status := looksBlocked(429, nil)
	require.True(t, blocked)
	require.Equal(t, 429, status)

	blocked, _ = looksBlocked(200, []byte("<html>Request unsuccessful. Incapsula incident ID</html>"))
	require.True(t, blocked)

	blocked, _ = looksBlocked(200, []byte("<html>plain product page</html>"))
	require.False(t, blocked)

	blocked, _ = looksBlocked(500, nil)
	require.False(t, blocked)
}
