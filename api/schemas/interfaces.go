package schemas

import (
	"context"
	"errors"
)

// -- Memory Store Interface --

// MemoryStore is the conversation-scoped persistence collaborator. The core
// treats it as an authoritative cache: verified targets, tool results and
// AgentContext snapshots are read from and written through it.
type MemoryStore interface {
	// GetVerifiedTarget returns the verified target domain for a conversation,
	// or an empty string when none has been recorded.
	GetVerifiedTarget(ctx context.Context, conversationID string) (string, error)
	// SaveVerifiedTarget records the verified target domain for a conversation.
	SaveVerifiedTarget(ctx context.Context, conversationID, domain string) error
	// ListVerifiedTargets returns the most recently verified targets across all
	// conversations, newest first.
	ListVerifiedTargets(ctx context.Context, limit int) ([]VerifiedTarget, error)
	// SaveToolResult appends a tool result to the conversation's history.
	SaveToolResult(ctx context.Context, conversationID string, result ToolResult) error
	// RecentToolResults returns up to limit tool results for a conversation, oldest first.
	RecentToolResults(ctx context.Context, conversationID string, limit int) ([]ToolResult, error)
	// SaveAgentContext stores a snapshot of the conversation's fact store.
	SaveAgentContext(ctx context.Context, conversationID string, agentCtx AgentContext) error
	// LoadAgentContext returns the last snapshot, or nil when none exists.
	LoadAgentContext(ctx context.Context, conversationID string) (*AgentContext, error)
	// Close releases the underlying connection pool or database handle.
	Close() error
}

// -- Search Interface --

// Searcher is the web search capability. It is network dependent and may
// fail; callers must treat a failed response as "no evidence".
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) (SearchResponse, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// ErrContentBlocked is wrapped by LLMClient implementations when the provider
// withholds a response on safety grounds. Callers treat it as a refusal.
var ErrContentBlocked = errors.New("response blocked by the reasoning backend")

// -- Tool Interfaces --

// ToolRegistry resolves tool definitions by name or alias.
type ToolRegistry interface {
	// Get returns the definition for a tool name or alias.
	Get(name string) (ToolDefinition, bool)
	// List returns every registered tool, sorted by name.
	List() []ToolDefinition
}

// ExecutionRequest describes one tool invocation.
type ExecutionRequest struct {
	Tool           ToolDefinition
	Command        string // command template name; empty selects the default
	Target         string // the authorized target the invocation is bound to
	Mode           string // the execution mode the grant was issued under
	Parameters     map[string]string
	SubtaskID      string
	ConversationID string
}

// ToolExecutor runs tools. It is side effecting and may block up to the
// command timeout. Failures are reported in the returned ToolResult, never
// as a panic.
type ToolExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest, stream StreamCallback) ToolResult
}

// ToolCallRequest is handed to a ToolCaller to derive parameters for one tool.
type ToolCallRequest struct {
	Request     ExecutionRequest
	Subtask     Subtask
	UserPrompt  string
	RecentTurns []Message
}

// ToolCaller is the model-driven tool calling capability. It returns a nil
// result when the model did not call the tool, so the caller can fall back
// to direct execution.
type ToolCaller interface {
	CallTool(ctx context.Context, req ToolCallRequest, stream StreamCallback) (*ToolResult, error)
}
