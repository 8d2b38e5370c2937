// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// NewClient builds the primary reasoning backend: an LLMRouter whose fast and
// powerful tiers are looked up by name in the router's model map.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	routerCfg := cfg.LLM
	if routerCfg.DefaultFastModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultFastModel is not specified in LLMRouterConfig")
	}
	if routerCfg.DefaultPowerfulModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel is not specified in LLMRouterConfig")
	}

	fastCfg, ok := routerCfg.Models[routerCfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultFastModel '%s' not found in the models map", routerCfg.DefaultFastModel)
	}
	powerfulCfg, ok := routerCfg.Models[routerCfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel '%s' not found in the models map", routerCfg.DefaultPowerfulModel)
	}

	fast, err := NewModelClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Fast tier LLM client (Model: %s): %w", routerCfg.DefaultFastModel, err)
	}

	var powerful schemas.LLMClient = fast
	if routerCfg.DefaultPowerfulModel != routerCfg.DefaultFastModel {
		powerful, err = NewModelClient(ctx, powerfulCfg, logger)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("failed to initialize Powerful tier LLM client (Model: %s): %w", routerCfg.DefaultPowerfulModel, err)
		}
	}

	return NewLLMRouter(logger, fast, powerful)
}

// NewSecondaryClient builds the alternate backend used for replanning. It
// returns nil without error when no secondary model is configured.
func NewSecondaryClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.Secondary.Model == "" || cfg.Secondary.APIKey == "" {
		logger.Info("No secondary reasoning backend configured.")
		return nil, nil
	}
	return NewModelClient(ctx, cfg.Secondary, logger)
}

// NewModelClient creates a single model client for the configured provider.
func NewModelClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("LLM provider is not specified in the model configuration")
	case config.ProviderGemini:
		return NewGoogleClient(cfg, logger)
	case config.ProviderGenAI:
		return NewGenAIClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderGemini, config.ProviderGenAI)
	}
}
