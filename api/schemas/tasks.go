package schemas

import (
	"strings"
)

// -- Planning Schemas --

// SubtaskType classifies what kind of work a subtask represents.
type SubtaskType string

const (
	SubtaskToolExecution SubtaskType = "tool_execution"
	SubtaskAnalysis      SubtaskType = "analysis"
	SubtaskDirectAnswer  SubtaskType = "direct_answer"
)

// SubtaskStatus tracks the lifecycle of a subtask within a conversation.
type SubtaskStatus string

const (
	StatusPending   SubtaskStatus = "pending"
	StatusCompleted SubtaskStatus = "completed"
	StatusFailed    SubtaskStatus = "failed"
	StatusSkipped   SubtaskStatus = "skipped"
)

// Priority orders subtasks within a plan.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// TaskType is the planner's coarse classification of a request.
type TaskType string

const (
	TaskRecon        TaskType = "recon"
	TaskExploitation TaskType = "exploitation"
	TaskAnalysis     TaskType = "analysis"
	TaskMixed        TaskType = "mixed"
)

// Subtask is one planned, independently executable unit of work bound to one
// or more tools. Subtasks are created by the planner, filtered and completed by
// the supervisor, and never deleted from a conversation.
type Subtask struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Type          SubtaskType   `json:"type"`
	RequiredTools []string      `json:"required_tools"`
	RequiredAgent string        `json:"required_agent,omitempty"`
	Priority      Priority      `json:"priority,omitempty"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	Status        SubtaskStatus `json:"status,omitempty"`
}

// IsToolExecution reports whether the subtask should be handed to the supervisor.
// The planner backend sometimes omits the type, so any subtask naming tools counts.
func (s Subtask) IsToolExecution() bool {
	if s.Type == SubtaskToolExecution {
		return true
	}
	return s.Type == "" && len(s.RequiredTools) > 0
}

// RequiresTool reports whether name is one of the subtask's required tools.
func (s Subtask) RequiresTool(name string) bool {
	for _, t := range s.RequiredTools {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// Analysis is the planner's structured reading of the user's request.
type Analysis struct {
	UserIntent        string   `json:"user_intent"`
	IntentType        string   `json:"intent_type"` // "request", "question", "conversation"
	TaskType          TaskType `json:"task_type,omitempty"`
	Complexity        string   `json:"complexity,omitempty"`
	NeedsTools        bool     `json:"needs_tools"`
	CanAnswerDirectly bool     `json:"can_answer_directly"`
	DirectAnswer      string   `json:"direct_answer,omitempty"`
	AnswerSufficient  bool     `json:"answer_sufficient,omitempty"`
}

// Plan is the complete planner output for one turn.
type Plan struct {
	Analysis Analysis  `json:"analysis"`
	Subtasks []Subtask `json:"subtasks"`
}

// ToolSubtasks returns only the subtasks that require tool execution.
func (p Plan) ToolSubtasks() []Subtask {
	var out []Subtask
	for _, st := range p.Subtasks {
		if st.IsToolExecution() {
			out = append(out, st)
		}
	}
	return out
}
