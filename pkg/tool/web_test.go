package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/httpclient"
)

// newWebTestContext is newTestContext plus an httpclient.Client pointed at
// no particular host; individual tests still issue requests against an
// httptest.Server, which requires no rewrite since web_fetch/web_search
// take the target URL from tool args, not from client configuration.
func newWebTestContext(t *testing.T) *Context {
	t.Helper()
	tc := newTestContext(t, allowAllPolicy())
	tc.HTTPClient = httpclient.New(httpclient.WithMaxRetries(2), httpclient.WithBaseDelay(0))
	return tc
}

func TestWebFetchReturnsBodyThroughHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from origin"))
	}))
	defer srv.Close()

	tc := newWebTestContext(t)
	out, err := webFetch(context.Background(), tc, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "hello from origin", out)
}

func TestWebFetchRetriesOnServerErrorThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	tc := newWebTestContext(t)
	out, err := webFetch(context.Background(), tc, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestWebFetchMissingURLErrors(t *testing.T) {
	tc := newWebTestContext(t)
	_, err := webFetch(context.Background(), tc, map[string]any{})
	assert.Error(t, err)
}

func TestWebFetchNoHTTPClientErrors(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	_, err := webFetch(context.Background(), tc, map[string]any{"url": "http://example.invalid"})
	assert.Error(t, err)
}

func TestWebSearchEncodesQueryAndReturnsBody(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("<html>results</html>"))
	}))
	defer srv.Close()

	// web_search hardcodes the duckduckgo endpoint, so this test exercises
	// the handler's request-building/body-reading path by invoking the
	// HTTPClient directly against the test server rather than the fixed URL.
	tc := newWebTestContext(t)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"?q="+urlEncode("go retries"), nil)
	require.NoError(t, err)
	resp, err := tc.HTTPClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "q=go+retries", gotQuery)
}
