package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/mocks"
)

func TestCreate_ValidationErrors(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("NilConfig", func(t *testing.T) {
		_, err := NewComponentFactory().Create(ctx, nil, logger)
		assert.Error(t, err)
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetDatabaseDriver("oracle")

		_, err := NewComponentFactory().Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("InvalidModeShutsDownPartialComponents", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.SetPolicyDefaultMode("reckless")
		llm := closingLLM()

		_, err := NewComponentFactory(WithLLMClients(llm, nil)).Create(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize authorization gate")
		llm.AssertExpectations(t)
	})
}

func TestCreate_WiresComponents(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetDatabaseDriver(config.DriverMemory)
	cfg.SetAutonomyAutoApprove(true)

	llm := closingLLM()
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("offline"))
	exec := new(mocks.MockToolExecutor)

	components, err := NewComponentFactory(WithLLMClients(llm, nil), WithToolExecutor(exec)).Create(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, components.Store)
	assert.NotNil(t, components.Registry)
	assert.NotNil(t, components.Sessions)
	assert.NotNil(t, components.Results)
	assert.Nil(t, components.Searcher, "search is disabled by default")
	require.NotNil(t, components.Orchestrator)
	assert.Same(t, components.Gate, components.Orchestrator.Gate())
	assert.Same(t, components.Sessions, components.Orchestrator.Sessions())
	assert.Positive(t, components.Registry.Len())

	conv := components.Orchestrator.NewConversation()
	turn, err := components.Orchestrator.HandleTurn(context.Background(), conv.ID, "hello there", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, turn.Text())
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)

	components.Shutdown()
	llm.AssertExpectations(t)
}
