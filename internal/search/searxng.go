// internal/search/searxng.go
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/network"
)

const maxResponseBytes = 4 << 20

// searxResponse is the subset of the SearXNG JSON format we read.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Client queries a SearXNG compatible JSON search endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	// be a good net citizen with shared instances.
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.Searcher = (*Client)(nil)

// NewClient creates a search client. A nil httpClient gets one built from
// the network defaults with the configured timeout.
func NewClient(cfg config.SearchConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid search endpoint '%s': %w", cfg.Endpoint, err)
	}
	if httpClient == nil {
		netCfg := network.NewDefaultClientConfig()
		if cfg.Timeout > 0 {
			netCfg.RequestTimeout = cfg.Timeout
		}
		netCfg.Logger = logger
		httpClient = network.NewClient(netCfg).Client
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("search"),
	}, nil
}

// Search runs one query. On failure the returned response has Success false
// and carries the error text, and the error is also returned.
func (c *Client) Search(ctx context.Context, query string, numResults int) (schemas.SearchResponse, error) {
	resp := schemas.SearchResponse{Query: query}
	query = strings.TrimSpace(query)
	if query == "" {
		resp.Error = "empty query"
		return resp, fmt.Errorf("search query is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		resp.Error = err.Error()
		return resp, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	u, _ := url.Parse(c.endpoint)
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		resp.Error = err.Error()
		return resp, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Search request failed.", zap.String("query", query), zap.Error(err))
		resp.Error = err.Error()
		return resp, fmt.Errorf("search request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		resp.Error = err.Error()
		return resp, fmt.Errorf("failed to read search response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		resp.Error = fmt.Sprintf("search endpoint returned status %d", httpResp.StatusCode)
		c.logger.Warn("Search endpoint returned an error.", zap.String("query", query), zap.Int("status", httpResp.StatusCode))
		return resp, fmt.Errorf("%s", resp.Error)
	}

	var parsed searxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		resp.Error = "invalid search response"
		return resp, fmt.Errorf("failed to parse search response: %w", err)
	}

	for _, r := range parsed.Results {
		if numResults > 0 && len(resp.Results) >= numResults {
			break
		}
		if r.URL == "" {
			continue
		}
		resp.Results = append(resp.Results, schemas.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	resp.Success = true
	c.logger.Debug("Search complete.", zap.String("query", query), zap.Int("results", len(resp.Results)))
	return resp, nil
}
