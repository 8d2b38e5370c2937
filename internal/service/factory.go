// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/orchestrator"
	"github.com/xkilldash9x/vigil-cli/internal/planner"
	"github.com/xkilldash9x/vigil-cli/internal/resolver"
	"github.com/xkilldash9x/vigil-cli/internal/session"
	"github.com/xkilldash9x/vigil-cli/internal/supervisor"
	"github.com/xkilldash9x/vigil-cli/internal/synth"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

// ComponentFactory creates the set of components a conversation runs on.
// Commands depend on this interface so their wiring can be replaced in tests.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// FactoryOption overrides a dependency the factory would otherwise build.
type FactoryOption func(*concreteFactory)

// WithLLMClients injects the reasoning backends. secondary may be nil.
func WithLLMClients(primary, secondary schemas.LLMClient) FactoryOption {
	return func(f *concreteFactory) {
		f.llm = primary
		f.secondary = secondary
		f.llmInjected = true
	}
}

// WithToolExecutor replaces the subprocess executor. The authorization guard
// still wraps it.
func WithToolExecutor(exec schemas.ToolExecutor) FactoryOption {
	return func(f *concreteFactory) { f.executor = exec }
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	llm         schemas.LLMClient
	secondary   schemas.LLMClient
	llmInjected bool
	executor    schemas.ToolExecutor
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create handles the full dependency injection and initialization of the
// conversation components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("cannot create components with nil configuration or logger")
	}
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Memory store
	memStore, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Store = memStore
	logger.Debug("Memory store initialized.", zap.String("driver", cfg.Database().Driver))

	// 2. Result consumer
	components.Results = StartResultConsumer(ctx, memStore, logger)
	logger.Debug("Result consumer started (with batching).")

	// 3. Reasoning backends. Without a primary backend every stage falls back
	// to its heuristics.
	if f.llmInjected {
		components.LLM, components.Secondary = f.llm, f.secondary
	} else {
		if llm, err := InitializeLLMClient(ctx, cfg.Agent(), logger); err != nil {
			logger.Warn("Continuing without a reasoning backend.", zap.Error(err))
		} else {
			components.LLM = llm
		}
		if cfg.Planner().SecondaryEnabled {
			components.Secondary = InitializeSecondaryClient(ctx, cfg.Agent(), logger)
		}
	}

	// 4. Web search
	searcher, err := InitializeSearcher(cfg.Search(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Searcher = searcher

	// 5. Tool catalog and executors
	registry, err := tools.LoadRegistry(cfg.Tools(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to load tool catalog: %w", err)
		return nil, initializationErr
	}
	components.Registry = registry

	executor := f.executor
	if executor == nil {
		executor = tools.NewProcessExecutor(cfg.Tools(), logger)
	}
	guarded := tools.NewGuardedExecutor(executor, logger)
	logger.Debug("Tool registry initialized.", zap.Int("tools", registry.Len()))

	// 6. Authorization
	gate, err := InitializeAuthz(cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize authorization gate: %w", err)
		return nil, initializationErr
	}
	components.Gate = gate

	// 7. Pipeline stages
	supOpts := []supervisor.Option{supervisor.WithRecorder(components.Results)}
	if cfg.Tools().ModelCalling && components.LLM != nil {
		supOpts = append(supOpts, supervisor.WithToolCaller(tools.NewModelCaller(components.LLM, guarded, logger)))
		logger.Debug("Model-driven tool calling enabled.")
	}
	sup := supervisor.New(gate, registry, guarded, logger, supOpts...)

	res := resolver.New(components.LLM, searcher, memStore, cfg.Resolver(), logger)
	plan := planner.New(components.LLM, components.Secondary, registry, cfg.Planner(), logger)
	syn := synth.New(synth.NewComposer(cfg.Synthesis(), components.LLM, logger), memStore, cfg.Session(), logger)

	components.Sessions = session.NewManager(memStore, cfg.Session(), logger)

	// 8. Orchestrator
	orch, err := orchestrator.New(cfg, logger, orchestrator.Deps{
		Sessions:    components.Sessions,
		Gate:        gate,
		Resolver:    res,
		Planner:     plan,
		Executor:    sup,
		Synthesizer: syn,
		Searcher:    searcher,
	})
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	logger.Info("All components initialized successfully.")
	return components, nil
}
