// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/llmclient"
	"github.com/xkilldash9x/vigil-cli/internal/search"
	"github.com/xkilldash9x/vigil-cli/internal/store"
)

// InitializeStore opens the memory store named by the database driver. The
// in-memory driver is allowed but loudly flagged, since nothing survives exit.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.MemoryStore, error) {
	if cfg.Driver == config.DriverMemory || cfg.Driver == "" {
		logger.Warn("No persistent memory store configured; verified targets and tool results will be lost on exit.")
	}
	s, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}
	return s, nil
}

// InitializeLLMClient creates the primary reasoning backend.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Planning and synthesis will fall back to heuristics.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeSecondaryClient creates the alternate backend used by the planner
// cascade. It is optional: a failure is logged and yields nil.
func InitializeSecondaryClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) schemas.LLMClient {
	client, err := llmclient.NewSecondaryClient(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Secondary LLM backend unavailable; the planner will skip it.", zap.Error(err))
		return nil
	}
	return client
}

// InitializeSearcher returns the web search client, or nil when search is disabled.
func InitializeSearcher(cfg config.SearchConfig, logger *zap.Logger) (schemas.Searcher, error) {
	if !cfg.Enabled {
		logger.Debug("Web search disabled.")
		return nil, nil
	}
	client, err := search.NewClient(cfg, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search client: %w", err)
	}
	return client, nil
}

// InitializeAuthz builds the authorization gate and its shared managers from
// the policy and autonomy configuration.
func InitializeAuthz(cfg config.Interface, logger *zap.Logger) (*authz.Gate, error) {
	mode, err := authz.ParseMode(cfg.Policy().DefaultMode)
	if err != nil {
		return nil, err
	}
	level, err := authz.ParseLevel(cfg.Autonomy().DefaultLevel)
	if err != nil {
		return nil, err
	}

	scope := authz.NewScopeManager()
	modes := authz.NewModeManager(mode)
	policy := authz.NewPolicyEngine(scope, modes, logger,
		authz.WithHighRiskCategories(cfg.Policy().HighRiskCategories))
	autonomy := authz.NewAutonomyController(level, nil, authz.NewAuditLog(cfg.Autonomy().AuditCapacity), logger)

	if cfg.Autonomy().AutoApprove {
		logger.Warn("Auto-approve is enabled; every confirmation request will be granted without asking.")
		autonomy.SetConfirmationCallback(func(context.Context, string, map[string]any) (string, error) {
			return "yes", nil
		})
	}

	logger.Debug("Authorization gate initialized.",
		zap.String("mode", string(mode)),
		zap.Stringer("autonomy_level", level))
	return authz.NewGate(policy, autonomy, modes, scope, logger), nil
}
