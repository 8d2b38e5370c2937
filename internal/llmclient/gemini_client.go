// internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/network"
)

const geminiEndpointFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// GoogleClient talks to the Gemini generateContent REST endpoint directly.
type GoogleClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	// newBackoff builds a fresh retry policy per request.
	newBackoff func() backoff.BackOff
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// -- Wire format --

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float32 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata geminiUsage `json:"usageMetadata"`
}

// blockedReasons are finish or block reasons for which retrying cannot help.
var blockedReasons = map[string]bool{
	"SAFETY":             true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"OTHER":              true,
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}

// NewGoogleClient initializes the REST client. The HTTP client comes from the
// shared network defaults with the model's API timeout.
func NewGoogleClient(cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Model == "" {
			return nil, fmt.Errorf("model name is required when no endpoint is configured")
		}
		endpoint = fmt.Sprintf(geminiEndpointFormat, cfg.Model)
	}

	netCfg := network.NewDefaultClientConfig()
	netCfg.RequestTimeout = cfg.APITimeout
	netCfg.Logger = logger

	return &GoogleClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		config:     cfg,
		httpClient: network.NewClient(netCfg).Client,
		logger:     logger.Named("llm_client.gemini"),
		newBackoff: defaultBackoff,
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated text.
// Throttling, gateway errors and network failures are retried. A safety block
// is returned immediately wrapping schemas.ErrContentBlocked.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	body, err := json.Marshal(newGeminiRequest(req, c.config))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var text string
	attempts := 0
	operation := func() error {
		attempts++
		var err error
		text, err = c.post(ctx, body)
		if err != nil && attempts > 1 {
			c.logger.Debug("Gemini attempt failed.", zap.Int("attempt", attempts), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// post performs one HTTP round trip. Errors that retrying cannot fix are
// wrapped in backoff.Permanent.
func (c *GoogleClient) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		c.logger.Warn("Network error during model request, retrying.", zap.Error(err))
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Gemini API returned error status.", zap.Int("status", resp.StatusCode), zap.ByteString("response", respBody))
		err := fmt.Errorf("gemini API error: status %d, body: %s", resp.StatusCode, respBody)
		if retryableStatus(resp.StatusCode) {
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	text, usage, err := decodeGeminiResponse(respBody)
	if err != nil {
		return "", err
	}
	c.logger.Info("Model generation complete.",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", usage.PromptTokenCount),
		zap.Int("completion_tokens", usage.CandidatesTokenCount),
		zap.Int("total_tokens", usage.TotalTokenCount),
	)
	return text, nil
}

// Close releases pooled connections.
func (c *GoogleClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// newGeminiRequest builds the payload. A zero request temperature falls back
// to the model's configured temperature.
func newGeminiRequest(req schemas.GenerationRequest, cfg config.LLMModelConfig) geminiRequest {
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = float64(cfg.Temperature)
	}
	gen := geminiGenerationConfig{
		Temperature:     temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxTokens,
	}
	if req.Options.ForceJSONFormat {
		gen.ResponseMimeType = "application/json"
	}

	payload := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}}},
		GenerationConfig: gen,
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	categories := make([]string, 0, len(cfg.SafetyFilters))
	for category := range cfg.SafetyFilters {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		payload.SafetySettings = append(payload.SafetySettings, geminiSafetySetting{Category: category, Threshold: cfg.SafetyFilters[category]})
	}
	return payload
}

// decodeGeminiResponse joins the text parts of the first candidate.
func decodeGeminiResponse(body []byte) (string, geminiUsage, error) {
	var payload geminiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", geminiUsage{}, backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
	}
	if payload.PromptFeedback != nil && payload.PromptFeedback.BlockReason != "" {
		return "", payload.UsageMetadata, backoff.Permanent(fmt.Errorf("%w (prompt block reason: %s)", schemas.ErrContentBlocked, payload.PromptFeedback.BlockReason))
	}
	if len(payload.Candidates) == 0 {
		return "", payload.UsageMetadata, backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}

	candidate := payload.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() > 0 {
		return sb.String(), payload.UsageMetadata, nil
	}
	if blockedReasons[candidate.FinishReason] {
		return "", payload.UsageMetadata, backoff.Permanent(fmt.Errorf("%w (finish reason: %s)", schemas.ErrContentBlocked, candidate.FinishReason))
	}
	return "", payload.UsageMetadata, fmt.Errorf("gemini API returned empty content (finish reason: %s)", candidate.FinishReason)
}
