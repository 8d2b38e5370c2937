package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// MemoryStore keeps everything in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	targets  map[string]schemas.VerifiedTarget
	results  map[string][]schemas.ToolResult
	contexts map[string]schemas.AgentContext
}

var _ schemas.MemoryStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:  make(map[string]schemas.VerifiedTarget),
		results:  make(map[string][]schemas.ToolResult),
		contexts: make(map[string]schemas.AgentContext),
	}
}

func (m *MemoryStore) GetVerifiedTarget(_ context.Context, conversationID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.targets[conversationID].Domain, nil
}

func (m *MemoryStore) SaveVerifiedTarget(_ context.Context, conversationID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[conversationID] = schemas.VerifiedTarget{ConversationID: conversationID, Domain: domain, VerifiedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) ListVerifiedTargets(_ context.Context, limit int) ([]schemas.VerifiedTarget, error) {
	m.mu.RLock()
	out := make([]schemas.VerifiedTarget, 0, len(m.targets))
	for _, vt := range m.targets {
		out = append(out, vt)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VerifiedAt.After(out[j].VerifiedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveToolResult(_ context.Context, conversationID string, result schemas.ToolResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[conversationID] = append(m.results[conversationID], result)
	return nil
}

func (m *MemoryStore) RecentToolResults(_ context.Context, conversationID string, limit int) ([]schemas.ToolResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.results[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]schemas.ToolResult(nil), all...), nil
}

func (m *MemoryStore) SaveAgentContext(_ context.Context, conversationID string, agentCtx schemas.AgentContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[conversationID] = agentCtx.Clone()
	return nil
}

func (m *MemoryStore) LoadAgentContext(_ context.Context, conversationID string) (*schemas.AgentContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agentCtx, ok := m.contexts[conversationID]
	if !ok {
		return nil, nil
	}
	clone := agentCtx.Clone()
	return &clone, nil
}

func (m *MemoryStore) Close() error { return nil }
