// File: internal/session/session.go
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// DefaultHistoryLimit bounds the short-term history when no limit is configured.
const DefaultHistoryLimit = 50

var uuidNewString = uuid.NewString

// Conversation is the per-conversation state carried between turns. It is
// owned by one conversation; the turn lock serializes the turns that touch it.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Context   *schemas.AgentContext

	// Subtasks accumulates every planned subtask for audit and idempotence.
	Subtasks []schemas.Subtask

	// PendingCandidates holds the candidates last presented for selection.
	PendingCandidates []schemas.EntityCandidate

	// PendingRequest is the request that was paused for clarification.
	PendingRequest string

	// PendingConfirmation is the search-validated entity awaiting a yes/no
	// reply. It is not persisted as the verified target until confirmed.
	PendingConfirmation *schemas.EntityInfo

	history      []schemas.Message
	historyLimit int
	turn         sync.Mutex
}

func newConversation(id string, limit int) *Conversation {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Conversation{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		Context:      schemas.NewAgentContext(),
		historyLimit: limit,
	}
}

// BeginTurn blocks until no other turn is running for this conversation and
// returns the function that ends the turn.
func (c *Conversation) BeginTurn() (end func()) {
	c.turn.Lock()
	return c.turn.Unlock
}

// AddMessage appends to the short-term history, evicting the oldest messages
// beyond the limit.
func (c *Conversation) AddMessage(role schemas.Role, content string) {
	c.history = append(c.history, schemas.Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if over := len(c.history) - c.historyLimit; over > 0 {
		c.history = append([]schemas.Message(nil), c.history[over:]...)
	}
}

// History returns up to n of the most recent messages, oldest first. A
// non-positive n returns the whole buffer.
func (c *Conversation) History(n int) []schemas.Message {
	start := 0
	if n > 0 && n < len(c.history) {
		start = len(c.history) - n
	}
	return append([]schemas.Message(nil), c.history[start:]...)
}

// RecentText joins the content of the last n messages with spaces.
func (c *Conversation) RecentText(n int) string {
	msgs := c.History(n)
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, " ")
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (c *Conversation) LastAssistantMessage() (string, bool) {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == schemas.RoleAssistant {
			return c.history[i].Content, true
		}
	}
	return "", false
}

// RecordSubtasks appends planned subtasks, skipping IDs already recorded.
func (c *Conversation) RecordSubtasks(subtasks []schemas.Subtask) {
	seen := make(map[string]bool, len(c.Subtasks))
	for _, st := range c.Subtasks {
		seen[st.ID] = true
	}
	for _, st := range subtasks {
		if st.ID != "" && seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		c.Subtasks = append(c.Subtasks, st)
	}
}

// UpdateSubtask replaces the recorded subtask with the same ID.
func (c *Conversation) UpdateSubtask(st schemas.Subtask) {
	for i := range c.Subtasks {
		if c.Subtasks[i].ID == st.ID {
			c.Subtasks[i] = st
			return
		}
	}
}

// Manager owns every conversation of the process and loads and saves their
// AgentContext through the memory store.
type Manager struct {
	mu     sync.Mutex
	convs  map[string]*Conversation
	store  schemas.MemoryStore
	limit  int
	logger *zap.Logger
}

// NewManager creates a manager. store may be nil, in which case nothing is persisted.
func NewManager(store schemas.MemoryStore, cfg config.SessionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		convs:  make(map[string]*Conversation),
		store:  store,
		limit:  cfg.HistoryLimit,
		logger: logger.Named("session"),
	}
}

// New starts a fresh conversation with a generated ID.
func (m *Manager) New() *Conversation {
	conv := newConversation(uuidNewString(), m.limit)
	m.mu.Lock()
	m.convs[conv.ID] = conv
	m.mu.Unlock()
	return conv
}

// Get returns the conversation, creating it and restoring its last AgentContext
// snapshot on first use. A failed restore is logged and the conversation
// starts empty.
func (m *Manager) Get(ctx context.Context, id string) (*Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}

	m.mu.Lock()
	if conv, ok := m.convs[id]; ok {
		m.mu.Unlock()
		return conv, nil
	}
	conv := newConversation(id, m.limit)
	m.convs[id] = conv
	m.mu.Unlock()

	if m.store != nil {
		snapshot, err := m.store.LoadAgentContext(ctx, id)
		switch {
		case err != nil:
			m.logger.Warn("Failed to restore agent context.", zap.String("conversation_id", id), zap.Error(err))
		case snapshot != nil:
			conv.Context = snapshot
			m.logger.Debug("Restored agent context.", zap.String("conversation_id", id), zap.String("domain", snapshot.Domain))
		}
	}
	return conv, nil
}

// Reset discards a conversation's in-memory state. The next Get starts over
// with an empty AgentContext unless a snapshot is restored from the store.
func (m *Manager) Reset(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
}

// Persist writes the conversation's AgentContext snapshot.
func (m *Manager) Persist(ctx context.Context, conv *Conversation) error {
	if m.store == nil || conv == nil {
		return nil
	}
	if err := m.store.SaveAgentContext(ctx, conv.ID, conv.Context.Clone()); err != nil {
		return fmt.Errorf("failed to persist agent context for %s: %w", conv.ID, err)
	}
	return nil
}

// IDs lists the open conversations, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
