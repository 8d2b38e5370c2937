package schemas

import (
	"sort"
	"strings"
	"time"
)

// ErrorCode defines standardized error codes for tool execution failures.
type ErrorCode string

const (
	ErrCodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	ErrCodePolicyDenied      ErrorCode = "POLICY_DENIED"
	ErrCodeApprovalDenied    ErrorCode = "APPROVAL_DENIED"
	ErrCodeExecutorPanic     ErrorCode = "EXECUTOR_PANIC"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
)

// -- Tool Catalog Schemas --

// CommandTemplate describes one invocation form of a tool. Args may contain
// {domain}, {target}, {host}, {url} and {ports} placeholders.
type CommandTemplate struct {
	Args         []string      `yaml:"args" json:"args"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	SuccessCodes []int         `yaml:"success_codes" json:"success_codes,omitempty"`
	Description  string        `yaml:"description" json:"description,omitempty"`
}

// IsSuccess reports whether an exit code counts as success. An empty list
// accepts only zero.
func (c CommandTemplate) IsSuccess(code int) bool {
	if len(c.SuccessCodes) == 0 {
		return code == 0
	}
	for _, sc := range c.SuccessCodes {
		if sc == code {
			return true
		}
	}
	return false
}

// ToolDefinition is a tool catalog entry. Mode lists the tool's capability
// tags ("passive", "active", "destructive"); an empty list is compatible with
// every execution mode.
type ToolDefinition struct {
	Name               string                     `yaml:"name" json:"name"`
	Description        string                     `yaml:"description" json:"description"`
	Category           string                     `yaml:"category" json:"category"`
	Priority           int                        `yaml:"priority" json:"priority,omitempty"`
	AssignedAgents     []string                   `yaml:"assigned_agents" json:"assigned_agents,omitempty"`
	Aliases            []string                   `yaml:"aliases" json:"aliases,omitempty"`
	Mode               []string                   `yaml:"mode" json:"mode,omitempty"`
	RiskLevel          string                     `yaml:"risk_level" json:"risk_level,omitempty"`
	LegalRisk          string                     `yaml:"legal_risk" json:"legal_risk,omitempty"`
	RequiresAuth       bool                       `yaml:"requires_auth" json:"requires_auth"`
	PermissionRequired *bool                      `yaml:"permission_required" json:"permission_required,omitempty"`
	Executable         string                     `yaml:"executable" json:"executable,omitempty"`
	DefaultCommand     string                     `yaml:"default_command" json:"default_command,omitempty"`
	Commands           map[string]CommandTemplate `yaml:"commands" json:"commands,omitempty"`
}

// EffectiveRisk returns the declared legal risk, falling back to the generic
// risk level.
func (t ToolDefinition) EffectiveRisk() string {
	if t.LegalRisk != "" {
		return strings.ToLower(t.LegalRisk)
	}
	return strings.ToLower(t.RiskLevel)
}

// NeedsAuthorization returns permission_required when declared, otherwise requires_auth.
func (t ToolDefinition) NeedsAuthorization() bool {
	if t.PermissionRequired != nil {
		return *t.PermissionRequired
	}
	return t.RequiresAuth
}

// Command resolves a command template by name. An empty name selects the
// default command, then the alphabetically first one.
func (t ToolDefinition) Command(name string) (string, CommandTemplate, bool) {
	if len(t.Commands) == 0 {
		return "", CommandTemplate{}, false
	}
	if name == "" {
		name = t.DefaultCommand
	}
	if name != "" {
		cmd, ok := t.Commands[name]
		return name, cmd, ok
	}
	keys := make([]string, 0, len(t.Commands))
	for k := range t.Commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], t.Commands[keys[0]], true
}

// -- Tool Result Schemas --

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	ExecutionID string            `json:"execution_id"`
	ToolName    string            `json:"tool_name"`
	SubtaskID   string            `json:"subtask_id,omitempty"`
	Target      string            `json:"target,omitempty"`
	Command     string            `json:"command,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Success     bool              `json:"success"`
	Output      string            `json:"output,omitempty"`
	Findings    Findings          `json:"findings"`
	Error       string            `json:"error,omitempty"`
	ErrorCode   ErrorCode         `json:"error_code,omitempty"`
	Source      string            `json:"source,omitempty"` // "tool_calling" or "executor"
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}
