// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*MockLLMClient)(nil)

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Memory Store Mock --

// MockMemoryStore mocks the schemas.MemoryStore interface.
type MockMemoryStore struct {
	mock.Mock
}

var _ schemas.MemoryStore = (*MockMemoryStore)(nil)

func (m *MockMemoryStore) GetVerifiedTarget(ctx context.Context, conversationID string) (string, error) {
	args := m.Called(ctx, conversationID)
	return args.String(0), args.Error(1)
}

func (m *MockMemoryStore) SaveVerifiedTarget(ctx context.Context, conversationID, domain string) error {
	args := m.Called(ctx, conversationID, domain)
	return args.Error(0)
}

func (m *MockMemoryStore) ListVerifiedTargets(ctx context.Context, limit int) ([]schemas.VerifiedTarget, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.VerifiedTarget), args.Error(1)
}

func (m *MockMemoryStore) SaveToolResult(ctx context.Context, conversationID string, result schemas.ToolResult) error {
	args := m.Called(ctx, conversationID, result)
	return args.Error(0)
}

func (m *MockMemoryStore) RecentToolResults(ctx context.Context, conversationID string, limit int) ([]schemas.ToolResult, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.ToolResult), args.Error(1)
}

func (m *MockMemoryStore) SaveAgentContext(ctx context.Context, conversationID string, agentCtx schemas.AgentContext) error {
	args := m.Called(ctx, conversationID, agentCtx)
	return args.Error(0)
}

func (m *MockMemoryStore) LoadAgentContext(ctx context.Context, conversationID string) (*schemas.AgentContext, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.AgentContext), args.Error(1)
}

func (m *MockMemoryStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Search Mock --

// MockSearcher mocks the schemas.Searcher interface.
type MockSearcher struct {
	mock.Mock
}

var _ schemas.Searcher = (*MockSearcher)(nil)

func (m *MockSearcher) Search(ctx context.Context, query string, numResults int) (schemas.SearchResponse, error) {
	args := m.Called(ctx, query, numResults)
	return args.Get(0).(schemas.SearchResponse), args.Error(1)
}

// -- Tool Mocks --

// MockToolRegistry mocks the schemas.ToolRegistry interface.
type MockToolRegistry struct {
	mock.Mock
}

var _ schemas.ToolRegistry = (*MockToolRegistry)(nil)

func (m *MockToolRegistry) Get(name string) (schemas.ToolDefinition, bool) {
	args := m.Called(name)
	return args.Get(0).(schemas.ToolDefinition), args.Bool(1)
}

func (m *MockToolRegistry) List() []schemas.ToolDefinition {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]schemas.ToolDefinition)
}

// MockToolExecutor mocks the schemas.ToolExecutor interface.
type MockToolExecutor struct {
	mock.Mock
}

var _ schemas.ToolExecutor = (*MockToolExecutor)(nil)

func (m *MockToolExecutor) Execute(ctx context.Context, req schemas.ExecutionRequest, stream schemas.StreamCallback) schemas.ToolResult {
	args := m.Called(ctx, req, stream)
	return args.Get(0).(schemas.ToolResult)
}

// MockToolCaller mocks the schemas.ToolCaller interface.
type MockToolCaller struct {
	mock.Mock
}

var _ schemas.ToolCaller = (*MockToolCaller)(nil)

func (m *MockToolCaller) CallTool(ctx context.Context, req schemas.ToolCallRequest, stream schemas.StreamCallback) (*schemas.ToolResult, error) {
	args := m.Called(ctx, req, stream)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ToolResult), args.Error(1)
}
