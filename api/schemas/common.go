package schemas

import (
	"time"
)

// -- Conversation Schemas --

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the short-term conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// VerifiedTarget is a target identity confirmed for a conversation.
type VerifiedTarget struct {
	ConversationID string    `json:"conversation_id"`
	Domain         string    `json:"domain"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// -- Search Schemas --

// SearchResult is a single web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the outcome of one search query. Success is false when the
// backend failed, regardless of how many results were returned.
type SearchResponse struct {
	Success bool           `json:"success"`
	Query   string         `json:"query"`
	Results []SearchResult `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HasResults reports whether the search genuinely succeeded with hits.
func (r SearchResponse) HasResults() bool {
	return r.Success && len(r.Results) > 0
}

// -- Stream Events --

// EventKind labels a streamed notification.
type EventKind string

const (
	EventStatus        EventKind = "status"
	EventModelResponse EventKind = "model_response"
	EventToolOutput    EventKind = "tool_output"
	EventToolResult    EventKind = "tool_result"
	EventPolicy        EventKind = "policy_decision"
	EventClarification EventKind = "clarification"
	EventAnswer        EventKind = "answer"
)

// StreamCallback receives intermediate output synchronously from inside the
// turn. Its return is never awaited for control decisions.
type StreamCallback func(kind EventKind, source string, payload any)

// Emit invokes the callback when one is set.
func (cb StreamCallback) Emit(kind EventKind, source string, payload any) {
	if cb != nil {
		cb(kind, source, payload)
	}
}
