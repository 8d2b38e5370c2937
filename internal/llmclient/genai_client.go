// internal/llmclient/genai_client.go
package llmclient

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/network"
)

// GenAIClient wraps the Google GenAI SDK. It serves as the secondary backend
// used for replanning.
type GenAIClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GenAIClient)(nil)

// NewGenAIClient builds an SDK client against the Gemini API backend.
func NewGenAIClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required for the genai provider")
	}

	netCfg := network.NewDefaultClientConfig()
	netCfg.RequestTimeout = cfg.APITimeout
	netCfg.Logger = logger

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: network.NewClient(netCfg).Client,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.genai"),
	}, nil
}

// Generate issues a single GenerateContent call.
func (c *GenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(req.UserPrompt), c.buildConfig(req))
	if err != nil {
		c.logger.Warn("GenAI generation failed.", zap.String("model", c.config.Model), zap.Error(err))
		return "", fmt.Errorf("genai generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", emptyResponseError(resp)
	}

	fields := []zap.Field{zap.String("model", c.config.Model), zap.Duration("duration", time.Since(start))}
	if resp.UsageMetadata != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
		)
	}
	c.logger.Info("LLM generation complete (GenAI)", fields...)
	return text, nil
}

// Close is a no-op; the SDK client holds no resources beyond its HTTP pool.
func (c *GenAIClient) Close() error { return nil }

func (c *GenAIClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if c.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	categories := make([]string, 0, len(c.config.SafetyFilters))
	for category := range c.config.SafetyFilters {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		gc.SafetySettings = append(gc.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(c.config.SafetyFilters[category]),
		})
	}
	return gc
}

// emptyResponseError reports why a response carried no text. Safety blocks
// wrap schemas.ErrContentBlocked.
func emptyResponseError(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("%w (prompt block reason: %s)", schemas.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	reason := ""
	if len(resp.Candidates) > 0 {
		reason = string(resp.Candidates[0].FinishReason)
	}
	if blockedReasons[reason] {
		return fmt.Errorf("%w (finish reason: %s)", schemas.ErrContentBlocked, reason)
	}
	return fmt.Errorf("genai returned empty content (finish reason: %s)", reason)
}
