// File: internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/observability"
	"github.com/xkilldash9x/vigil-cli/internal/resolver"
	"github.com/xkilldash9x/vigil-cli/internal/session"
)

// Function variables swapped in tests.
var (
	uuidNewString = uuid.NewString
	timeNow       = time.Now
)

const (
	sourceToolCalling = "tool_calling"
	sourceExecutor    = "executor"

	// portsCommand is the command template selected when the request names ports.
	portsCommand = "ports"

	// maxTargetsPerSubtask bounds the hosts a single subtask can fan out to.
	maxTargetsPerSubtask = 5
)

// ResultRecorder receives every tool result, typically for persistence.
type ResultRecorder interface {
	Record(conversationID string, result schemas.ToolResult)
}

// Request is the input for one turn's execution.
type Request struct {
	Conversation *session.Conversation
	Prompt       string
	Target       string
	Subtasks     []schemas.Subtask
	History      []schemas.Message
	Ledger       *authz.Ledger
}

// ToolDecision records what happened to one tool before it could run.
type ToolDecision struct {
	SubtaskID string         `json:"subtask_id"`
	Tool      string         `json:"tool"`
	Target    string         `json:"target,omitempty"`
	Decision  authz.Decision `json:"decision"`
	Granted   bool           `json:"granted"`
	Reason    string         `json:"reason"`
}

// Report is the outcome of executing a plan. Denials are not errors and are
// kept apart from Results, which only holds attempted executions.
type Report struct {
	Results   []schemas.ToolResult
	Decisions []ToolDecision
	Completed []string
	Failed    []string
	Skipped   []string
}

// Denied returns the decisions that prevented a tool from running.
func (r Report) Denied() []ToolDecision {
	var out []ToolDecision
	for _, d := range r.Decisions {
		if !d.Granted {
			out = append(out, d)
		}
	}
	return out
}

// Succeeded counts successful results.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Supervisor runs planned tool subtasks one tool at a time. Every tool is
// authorized by the gate immediately before it runs, and a failure of one
// tool never stops the others.
type Supervisor struct {
	gate     *authz.Gate
	registry schemas.ToolRegistry
	caller   schemas.ToolCaller
	executor schemas.ToolExecutor
	recorder ResultRecorder
	logger   *zap.Logger
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithToolCaller sets the model-driven tool calling capability tried before
// direct execution.
func WithToolCaller(c schemas.ToolCaller) Option {
	return func(s *Supervisor) { s.caller = c }
}

// WithRecorder sets where results are sent after each execution.
func WithRecorder(r ResultRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// New creates a Supervisor.
func New(gate *authz.Gate, registry schemas.ToolRegistry, executor schemas.ToolExecutor, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		gate:     gate,
		registry: registry,
		executor: executor,
		logger:   logger.Named("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the tool subtasks of a plan sequentially.
func (s *Supervisor) Execute(ctx context.Context, req Request, stream schemas.StreamCallback) Report {
	conv := req.Conversation
	ledger := req.Ledger
	if ledger == nil {
		ledger = authz.NewLedger()
	}
	ctx = authz.WithLedger(ctx, ledger)
	mode := s.gate.Modes().Mode(conv.ID)

	var report Report
	for _, planned := range req.Subtasks {
		if !planned.IsToolExecution() {
			continue
		}

		st, dropped := s.filterByMode(planned, mode)
		report.Decisions = append(report.Decisions, dropped...)
		for _, d := range dropped {
			stream.Emit(schemas.EventPolicy, "supervisor", d)
		}
		if len(st.RequiredTools) == 0 {
			s.finish(conv, &st, schemas.StatusSkipped, &report)
			continue
		}

		targets := s.targetsFor(req, st)
		if len(targets) == 0 {
			s.logger.Warn("Subtask has no target.", zap.String("subtask_id", st.ID))
			report.Decisions = append(report.Decisions, ToolDecision{
				SubtaskID: st.ID, Decision: authz.DecisionDenied, Reason: "No target is known for this subtask",
			})
			s.finish(conv, &st, schemas.StatusSkipped, &report)
			continue
		}

		succeeded, attempted := false, false
		for _, name := range st.RequiredTools {
			def, _ := s.registry.Get(name)
			for _, target := range targets {
				decision, res, ran := s.runTool(ctx, req, st, def, target, ledger, stream)
				report.Decisions = append(report.Decisions, decision)
				if !ran {
					continue
				}
				attempted = true
				succeeded = succeeded || res.Success
				report.Results = append(report.Results, res)
			}
		}

		switch {
		case succeeded:
			s.finish(conv, &st, schemas.StatusCompleted, &report)
		case attempted:
			s.finish(conv, &st, schemas.StatusFailed, &report)
		default:
			s.finish(conv, &st, schemas.StatusSkipped, &report)
		}
	}

	s.logger.Info("Execution complete.",
		zap.String("conversation_id", conv.ID),
		zap.Int("results", len(report.Results)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("denied", len(report.Denied())))
	return report
}

// filterByMode drops tools that are unknown or incompatible with mode.
func (s *Supervisor) filterByMode(st schemas.Subtask, mode authz.ExecutionMode) (schemas.Subtask, []ToolDecision) {
	var (
		kept    []string
		dropped []ToolDecision
	)
	for _, name := range st.RequiredTools {
		def, ok := s.registry.Get(name)
		if !ok {
			dropped = append(dropped, ToolDecision{
				SubtaskID: st.ID, Tool: name, Decision: authz.DecisionDenied,
				Reason: fmt.Sprintf("Tool '%s' is not in the tool registry", name),
			})
			continue
		}
		if ok, reason := authz.CheckModeCompatibility(def, mode); !ok {
			dropped = append(dropped, ToolDecision{
				SubtaskID: st.ID, Tool: def.Name, Decision: authz.DecisionDenied, Reason: reason,
			})
			continue
		}
		kept = append(kept, def.Name)
	}
	if len(dropped) > 0 {
		s.logger.Info("Dropped tools from subtask.", zap.String("subtask_id", st.ID), zap.Int("dropped", len(dropped)), zap.String("mode", string(mode)))
	}
	st.RequiredTools = kept
	return st, dropped
}

// targetsFor prefers hosts named in the subtask itself, then the turn's
// resolved target.
func (s *Supervisor) targetsFor(req Request, st schemas.Subtask) []string {
	targets := resolver.ExplicitTargets(st.Name + " " + st.Description)
	if len(targets) == 0 && req.Target != "" {
		targets = []string{req.Target}
	}
	if len(targets) > maxTargetsPerSubtask {
		targets = targets[:maxTargetsPerSubtask]
	}
	return targets
}

func (s *Supervisor) finish(conv *session.Conversation, st *schemas.Subtask, status schemas.SubtaskStatus, report *Report) {
	st.Status = status
	conv.UpdateSubtask(*st)
	switch status {
	case schemas.StatusCompleted:
		conv.Context.CompleteTask(st.ID)
		report.Completed = append(report.Completed, st.ID)
	case schemas.StatusFailed:
		report.Failed = append(report.Failed, st.ID)
	default:
		report.Skipped = append(report.Skipped, st.ID)
	}
}

// -- Tool Execution --

// runTool authorizes and runs one tool against one target. ran is false when
// the gate refused it.
func (s *Supervisor) runTool(ctx context.Context, req Request, st schemas.Subtask, def schemas.ToolDefinition, target string, ledger *authz.Ledger, stream schemas.StreamCallback) (decision ToolDecision, res schemas.ToolResult, ran bool) {
	convID := req.Conversation.ID
	ctx, span := observability.StartSpan(ctx, "supervisor.tool",
		attribute.String("tool", def.Name),
		attribute.String("target", target),
		attribute.String("subtask_id", st.ID))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	auth := s.gate.Authorize(ctx, convID, def, target, ledger)
	decision = ToolDecision{
		SubtaskID: st.ID,
		Tool:      def.Name,
		Target:    target,
		Decision:  auth.Policy.Decision,
		Granted:   auth.Granted,
		Reason:    auth.Reason(),
	}
	stream.Emit(schemas.EventPolicy, "supervisor", decision)
	if !auth.Granted {
		span.SetAttributes(attribute.Bool("granted", false))
		return decision, schemas.ToolResult{}, false
	}

	execReq := schemas.ExecutionRequest{
		Tool:           def,
		Target:         target,
		Mode:           string(auth.Mode),
		Parameters:     Parameters(target, st.Description, req.Prompt),
		SubtaskID:      st.ID,
		ConversationID: convID,
	}
	if _, ok := execReq.Parameters["ports"]; ok {
		if name, _, ok := def.Command(portsCommand); ok {
			execReq.Command = name
		}
	}
	stream.Emit(schemas.EventStatus, "supervisor", fmt.Sprintf("Running %s on %s.", def.Name, target))
	res = s.invoke(ctx, execReq, st, req, stream)

	if res.ExecutionID == "" {
		res.ExecutionID = uuidNewString()
	}
	if res.ToolName == "" {
		res.ToolName = def.Name
	}
	res.SubtaskID, res.Target = st.ID, target

	conv := req.Conversation
	conv.Context.AddToolRun(def.Name)
	if res.Success {
		if added := conv.Context.MergeFindings(res.Findings); added > 0 {
			s.logger.Debug("Merged findings.", zap.String("tool", def.Name), zap.Int("new_facts", added))
		}
	} else {
		spanErr = errors.New(res.Error)
		s.logger.Warn("Tool failed.",
			zap.String("tool", def.Name),
			zap.String("target", target),
			zap.String("code", string(res.ErrorCode)),
			zap.String("error", res.Error))
	}
	stream.Emit(schemas.EventToolResult, "supervisor", res)
	if s.recorder != nil {
		s.recorder.Record(convID, res)
	}
	return decision, res, true
}

// invoke tries the tool-calling capability first and falls back to the
// executor when it returns no result. Panics become failed results.
func (s *Supervisor) invoke(ctx context.Context, execReq schemas.ExecutionRequest, st schemas.Subtask, req Request, stream schemas.StreamCallback) (res schemas.ToolResult) {
	started := timeNow().UTC()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic during tool execution.",
				zap.String("tool", execReq.Tool.Name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			res = schemas.ToolResult{
				ToolName:   execReq.Tool.Name,
				Parameters: execReq.Parameters,
				Error:      fmt.Sprintf("tool execution panicked: %v", r),
				ErrorCode:  schemas.ErrCodeExecutorPanic,
				Source:     sourceExecutor,
				StartedAt:  started,
				Duration:   timeNow().Sub(started),
			}
		}
	}()

	if s.caller != nil {
		called, err := s.caller.CallTool(ctx, schemas.ToolCallRequest{
			Request:     execReq,
			Subtask:     st,
			UserPrompt:  req.Prompt,
			RecentTurns: req.History,
		}, stream)
		switch {
		case err != nil:
			s.logger.Warn("Tool calling failed, falling back to direct execution.", zap.String("tool", execReq.Tool.Name), zap.Error(err))
		case called != nil:
			called.Source = sourceToolCalling
			return *called
		}
	}

	if s.executor == nil {
		return schemas.ToolResult{
			ToolName:  execReq.Tool.Name,
			Error:     "no tool executor configured",
			ErrorCode: schemas.ErrCodeExecutionFailure,
			Source:    sourceExecutor,
			StartedAt: started,
		}
	}
	res = s.executor.Execute(ctx, execReq, stream)
	if res.Source == "" {
		res.Source = sourceExecutor
	}
	return res
}
