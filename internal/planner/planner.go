// File: internal/planner/planner.go
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
)

var uuidNewString = uuid.NewString

// Level names the stage of the planning cascade that produced a plan.
type Level string

const (
	LevelNone      Level = "none"
	LevelDirect    Level = "direct_command"
	LevelPrimary   Level = "primary"
	LevelKeyword   Level = "keyword"
	LevelSecondary Level = "secondary"
	LevelProactive Level = "proactive"
)

// ErrorKind classifies why a reasoning backend produced no usable plan.
type ErrorKind string

const (
	ErrKindNone       ErrorKind = ""
	ErrKindBackend    ErrorKind = "backend_error"
	ErrKindRefused    ErrorKind = "refused"
	ErrKindParse      ErrorKind = "parse_failed"
	ErrKindNoSubtasks ErrorKind = "no_subtasks"
)

// Request is the planner input for one turn.
type Request struct {
	ConversationID string
	Prompt         string
	Target         string
	History        []schemas.Message
}

// Outcome is the planner result. Failures of individual levels are carried
// as data; Success is false only when no level produced anything usable.
type Outcome struct {
	Plan      schemas.Plan
	Level     Level
	Target    string
	Success   bool
	ErrorKind ErrorKind
	Err       error
	Notes     []string
}

// Planner decomposes a request into subtasks with a cascade of fallbacks.
type Planner struct {
	primary   schemas.LLMClient
	secondary schemas.LLMClient
	registry  schemas.ToolRegistry
	cfg       config.PlannerConfig
	logger    *zap.Logger
}

// New creates a Planner. secondary may be nil, which disables replanning on
// the alternate backend.
func New(primary, secondary schemas.LLMClient, registry schemas.ToolRegistry, cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	return &Planner{
		primary:   primary,
		secondary: secondary,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.Named("planner"),
	}
}

// Plan runs the direct-command fast path, then the primary backend, then the
// keyword, secondary-backend and proactive fallbacks. Fallbacks run only
// while the plan is empty and the request needs tools.
func (p *Planner) Plan(ctx context.Context, req Request, stream schemas.StreamCallback) Outcome {
	note := func(out *Outcome, msg string) {
		out.Notes = append(out.Notes, msg)
		stream.Emit(schemas.EventStatus, "planner", msg)
	}

	if p.cfg.DirectCommandEnabled {
		if cmd, ok := p.DetectDirectCommand(req.Prompt, req.Target); ok {
			out := Outcome{Plan: directPlan(cmd), Level: LevelDirect, Target: cmd.Target, Success: true}
			note(&out, fmt.Sprintf("Detected direct tool command: %s on %s.", strings.Join(cmd.Tools, ", "), cmd.Target))
			return p.finish(req, out)
		}
	}

	plan, kind, err := p.attempt(ctx, p.primary, p.systemPrompt(""), userPrompt(req), true)
	out := Outcome{Plan: plan, Level: LevelPrimary, Target: req.Target, ErrorKind: kind, Err: err}
	if err == nil && len(plan.ToolSubtasks()) > 0 {
		out.Success = true
		return p.finish(req, out)
	}

	// A known target with security intent always gets a plan, whatever the
	// backend concluded about tools.
	needsTools := plan.Analysis.NeedsTools || (req.Target != "" && HasSecurityIntent(req.Prompt))
	if err != nil {
		needsTools = HasSecurityIntent(req.Prompt)
		p.logger.Warn("Primary planner failed.", zap.String("kind", string(kind)), zap.Error(err))
		note(&out, fmt.Sprintf("Planner backend %s; using fallback planning.", describeKind(kind)))
	}
	if !needsTools {
		out.Success = err == nil
		return p.finish(req, out)
	}
	if err == nil {
		out.ErrorKind = ErrKindNoSubtasks
	}
	analysis := plan.Analysis

	// Level 1: keyword table.
	if req.Target != "" {
		taskType := analysis.TaskType
		if taskType == "" {
			taskType = schemas.TaskRecon
		}
		if subtasks := p.keywordPlan(req.Prompt, req.Target, taskType); len(subtasks) > 0 {
			out.Plan = schemas.Plan{Analysis: fallbackAnalysis(analysis, req, taskType), Subtasks: subtasks}
			out.Level, out.Success = LevelKeyword, true
			note(&out, fmt.Sprintf("Created %d default subtask(s) for %s on %s.", len(subtasks), taskType, req.Target))
			return p.finish(req, out)
		}
	}

	// Level 2: alternate backend with a non-refusal instruction.
	if p.secondary != nil && p.cfg.SecondaryEnabled {
		plan2, kind2, err2 := p.attempt(ctx, p.secondary, p.systemPrompt(nonRefusalInstruction), userPrompt(req), false)
		if err2 == nil && len(plan2.ToolSubtasks()) > 0 {
			out.Plan = plan2
			out.Level, out.Success = LevelSecondary, true
			note(&out, "Secondary planner produced a plan.")
			return p.finish(req, out)
		}
		p.logger.Info("Secondary planner produced no subtasks.", zap.String("kind", string(kind2)), zap.Error(err2))
	}

	// Level 3: canned plan for a known target.
	if req.Target != "" && p.cfg.ProactiveEnabled {
		out.Plan = p.proactivePlan(req.Prompt, req.Target)
		out.Level, out.Success = LevelProactive, true
		note(&out, fmt.Sprintf("Created proactive plan for %s.", req.Target))
		return p.finish(req, out)
	}

	out.Level = LevelNone
	note(&out, "Could not build a plan for this request.")
	return p.finish(req, out)
}

func (p *Planner) finish(req Request, out Outcome) Outcome {
	assignIDs(out.Plan.Subtasks)
	p.logger.Info("Planning complete.",
		zap.String("conversation_id", req.ConversationID),
		zap.String("level", string(out.Level)),
		zap.Int("subtasks", len(out.Plan.Subtasks)),
		zap.Bool("success", out.Success))
	return out
}

func fallbackAnalysis(prev schemas.Analysis, req Request, taskType schemas.TaskType) schemas.Analysis {
	a := prev
	if a.UserIntent == "" {
		a.UserIntent = fmt.Sprintf("Security assessment of %s", req.Target)
	}
	a.IntentType = "request"
	a.TaskType = taskType
	a.NeedsTools = true
	a.CanAnswerDirectly = false
	return a
}

func describeKind(k ErrorKind) string {
	switch k {
	case ErrKindRefused:
		return "refused"
	case ErrKindParse:
		return "returned no valid JSON"
	default:
		return "failed"
	}
}

// -- Backend Attempts --

type planEnvelope struct {
	Analysis *schemas.Analysis `json:"analysis"`
	Subtasks []schemas.Subtask `json:"subtasks"`
}

var refusalMarkers = []string{"i can't", "i cannot", "i won't", "i'm sorry", "i am sorry", "unable to assist", "can't help with"}

// attempt asks one backend for a plan. forceJSON selects structured output;
// otherwise the object is located in free text by its delimiters.
func (p *Planner) attempt(ctx context.Context, client schemas.LLMClient, system, user string, forceJSON bool) (schemas.Plan, ErrorKind, error) {
	if client == nil {
		return schemas.Plan{}, ErrKindBackend, errors.New("no reasoning backend configured")
	}
	raw, err := client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: forceJSON},
	})
	if err != nil {
		if errors.Is(err, schemas.ErrContentBlocked) {
			return schemas.Plan{}, ErrKindRefused, fmt.Errorf("planner refused: %w", err)
		}
		return schemas.Plan{}, ErrKindBackend, fmt.Errorf("planner generation failed: %w", err)
	}

	plan, err := p.parsePlan(raw)
	if err != nil {
		if containsAny(strings.ToLower(raw), refusalMarkers) {
			return schemas.Plan{}, ErrKindRefused, fmt.Errorf("planner refused: %w", err)
		}
		return schemas.Plan{}, ErrKindParse, err
	}
	return plan, ErrKindNone, nil
}

// parsePlan accepts {"analysis": {...}, "subtasks": [...]} or a bare
// analysis object, optionally wrapped in <output> tags or a fenced block.
func (p *Planner) parsePlan(raw string) (schemas.Plan, error) {
	text := raw
	if start := strings.Index(text, "<output>"); start >= 0 {
		if end := strings.Index(text[start:], "</output>"); end > 0 {
			text = text[start+len("<output>") : start+end]
		}
	}
	obj, ok := llmutil.ExtractJSONObject(text)
	if !ok {
		return schemas.Plan{}, fmt.Errorf("no JSON object in planner response")
	}

	var env planEnvelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return schemas.Plan{}, fmt.Errorf("failed to decode planner response: %w", err)
	}
	if env.Analysis == nil {
		var bare schemas.Analysis
		if err := json.Unmarshal([]byte(obj), &bare); err != nil || (bare.UserIntent == "" && !bare.NeedsTools) {
			return schemas.Plan{}, fmt.Errorf("planner response has no analysis")
		}
		env.Analysis = &bare
	}
	return schemas.Plan{Analysis: *env.Analysis, Subtasks: p.normalizeSubtasks(env.Subtasks)}, nil
}

// normalizeSubtasks fills types, statuses and priorities and resolves tool
// aliases to catalog names. Unknown tool names are kept so execution can
// report them. IDs are assigned when the plan is finished.
func (p *Planner) normalizeSubtasks(in []schemas.Subtask) []schemas.Subtask {
	out := make([]schemas.Subtask, 0, len(in))
	for _, st := range in {
		if st.Type == "" && len(st.RequiredTools) > 0 {
			st.Type = schemas.SubtaskToolExecution
		}
		if st.Priority == "" {
			st.Priority = schemas.PriorityMedium
		}
		st.Status = schemas.StatusPending

		toolNames := make([]string, 0, len(st.RequiredTools))
		for _, name := range st.RequiredTools {
			if def, ok := p.registry.Get(name); ok {
				name = def.Name
			}
			toolNames = append(toolNames, name)
		}
		if max := p.cfg.MaxToolsPerSubtask; max > 0 && len(toolNames) > max {
			toolNames = toolNames[:max]
		}
		st.RequiredTools = toolNames
		out = append(out, st)
	}
	return out
}

// assignIDs gives every subtask a fresh ID so records from different turns
// never collide, and rewrites dependencies to the new IDs. A dependency on an
// ID outside the plan is kept as is.
func assignIDs(subtasks []schemas.Subtask) {
	remap := make(map[string]string, len(subtasks))
	for i := range subtasks {
		id := newSubtaskID()
		if old := subtasks[i].ID; old != "" {
			if _, dup := remap[old]; !dup {
				remap[old] = id
			}
		}
		subtasks[i].ID = id
	}
	for i := range subtasks {
		if len(subtasks[i].Dependencies) == 0 {
			continue
		}
		deps := make([]string, 0, len(subtasks[i].Dependencies))
		for _, dep := range subtasks[i].Dependencies {
			if id, ok := remap[dep]; ok {
				dep = id
			}
			deps = append(deps, dep)
		}
		subtasks[i].Dependencies = deps
	}
}

func newSubtaskID() string {
	return "subtask_" + strings.ReplaceAll(uuidNewString(), "-", "")[:8]
}
