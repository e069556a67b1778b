package collect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	t.Parallel()
	require.True(t, IsRetryable(NewNetworkError("size", "", "connection reset")))
	require.True(t, IsRetryable(NewTimeoutError("size", "", "deadline exceeded")))
	require.True(t, IsRetryable(NewHTTPError("size", "", 503)))
	require.False(t, IsRetryable(NewHTTPError("size", "", 404)))
	require.False(t, IsRetryable(NewBlockedError("size", "", 403)))
	require.False(t, IsRetryable(NewDataExtractionError("size", "", "price missing")))
	require.False(t, IsRetryable(NewValidationError("size", "price", "non-positive price")))
	require.False(t, IsRetryable(fmt.Errorf("some other failure")))
}

func TestRetryableThroughWrapping(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("fetch size: %w", NewTimeoutError("size", "https://example.com", "timeout"))
	require.True(t, IsRetryable(wrapped))
	require.Equal(t, "TimeoutError", ErrorTypeOf(wrapped))
}

func TestErrorTypeOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, "BlockedError", ErrorTypeOf(NewBlockedError("a", "", 429)))
	require.Equal(t, "NetworkError", ErrorTypeOf(NewNetworkError("a", "", "refused")))
	require.Equal(t, "HTTPError", ErrorTypeOf(NewHTTPError("a", "", 500)))
	require.Equal(t, "DataExtractionError", ErrorTypeOf(NewDataExtractionError("a", "", "missing")))
	require.Equal(t, "ValidationError", ErrorTypeOf(NewValidationError("a", "price", "bad")))
	require.Equal(t, "UnknownError", ErrorTypeOf(fmt.Errorf("boom")))
	require.Equal(t, "", ErrorTypeOf(nil))
}

func TestStatusCodeOf(t *testing.T) {
	t.Parallel()
	code, ok := StatusCodeOf(NewBlockedError("a", "", 403))
	require.True(t, ok)
	require.Equal(t, 403, code)

	code, ok = StatusCodeOf(NewHTTPError("a", "", 502))
	require.True(t, ok)
	require.Equal(t, 502, code)

	_, ok = StatusCodeOf(NewTimeoutError("a", "", "timeout"))
	require.False(t, ok)
}
