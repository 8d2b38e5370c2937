package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/internal/mocks"
)

func TestComponents_Shutdown(t *testing.T) {
	store := new(mocks.MockMemoryStore)
	store.On("SaveToolResult", mock.Anything, "c1", mock.Anything).Return(nil).Once()
	store.On("Close").Return(nil).Once()

	primary := closingLLM()
	secondary := new(mocks.MockLLMClient)
	secondary.On("Close").Return(errors.New("already closed")).Once()

	results := StartResultConsumer(context.Background(), store, zap.NewNop())
	results.Record("c1", toolResult("1"))

	components := &Components{
		Store:     store,
		LLM:       primary,
		Secondary: secondary,
		Results:   results,
	}
	components.Shutdown()

	// The buffered result reached the store before it was closed.
	store.AssertExpectations(t)
	primary.AssertExpectations(t)
	secondary.AssertExpectations(t)
	assert.True(t, results.Close(time.Second))
}

func TestComponents_ShutdownEmpty(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Shutdown() })
}
