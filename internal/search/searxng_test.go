// internal/search/searxng_test.go
package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vigil-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg config.SearchConfig) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.Endpoint = server.URL + "/search"

	httpClient := &http.Client{Timeout: 2 * time.Second, Transport: &http.Transport{}}
	t.Cleanup(httpClient.CloseIdleConnections)

	c, err := NewClient(cfg, httpClient, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestClient_Search(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "acme corp official website", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Acme Corp","url":"https://www.acme.example/","content":"Official site"},
			{"title":"No URL","url":"","content":"skipped"},
			{"title":"Acme on Wiki","url":"https://wiki.example/Acme","content":"Acme is..."},
			{"title":"Third","url":"https://third.example/","content":""}
		]}`))
	}, config.SearchConfig{})

	resp, err := c.Search(context.Background(), "  acme corp official website ", 2)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.HasResults())
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://www.acme.example/", resp.Results[0].URL)
	assert.Equal(t, "Official site", resp.Results[0].Snippet)
	assert.Equal(t, "https://wiki.example/Acme", resp.Results[1].URL)
}

func TestClient_SearchFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, config.SearchConfig{})

		resp, err := c.Search(context.Background(), "acme", 5)
		require.Error(t, err)
		assert.False(t, resp.Success)
		assert.False(t, resp.HasResults())
		assert.Equal(t, "search endpoint returned status 429", resp.Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>not json</html>`))
		}, config.SearchConfig{})

		resp, err := c.Search(context.Background(), "acme", 5)
		require.Error(t, err)
		assert.False(t, resp.Success)
	})

	t.Run("empty query", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		}, config.SearchConfig{})

		_, err := c.Search(context.Background(), "   ", 5)
		assert.Error(t, err)
	})
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}, config.SearchConfig{RateLimit: 0.01, Burst: 1})

	resp, err := c.Search(context.Background(), "first", 5)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.HasResults(), "success without hits is not evidence")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, "second", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestNewClient_InvalidEndpoint(t *testing.T) {
	_, err := NewClient(config.SearchConfig{Endpoint: "not a url"}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
