// File: internal/orchestrator/orchestrator.go
// Description: Runs one conversation turn end to end. It is injected with the
// resolver, planner, supervisor and synthesizer through narrow interfaces so
// each stage can be replaced in tests.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/observability"
	"github.com/xkilldash9x/vigil-cli/internal/planner"
	"github.com/xkilldash9x/vigil-cli/internal/resolver"
	"github.com/xkilldash9x/vigil-cli/internal/session"
	"github.com/xkilldash9x/vigil-cli/internal/supervisor"
	"github.com/xkilldash9x/vigil-cli/internal/synth"
)

const (
	sourceName     = "orchestrator"
	historyWindow  = 10
	searchResults  = 5
	intentQuestion = "question"
	intentRecall   = "memory_query"
)

// -- Stage Capabilities --

// TargetResolver turns the turn's prompt into a verified target or a
// clarification request.
type TargetResolver interface {
	Resolve(ctx context.Context, conv *session.Conversation, prompt string, stream schemas.StreamCallback) resolver.Resolution
}

// Planner decomposes a request into subtasks.
type Planner interface {
	Plan(ctx context.Context, req planner.Request, stream schemas.StreamCallback) planner.Outcome
}

// Executor authorizes and runs the tool subtasks of a plan.
type Executor interface {
	Execute(ctx context.Context, req supervisor.Request, stream schemas.StreamCallback) supervisor.Report
}

// Synthesizer turns gathered evidence into the final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request, stream schemas.StreamCallback) synth.Answer
}

var (
	_ TargetResolver = (*resolver.Resolver)(nil)
	_ Planner        = (*planner.Planner)(nil)
	_ Executor       = (*supervisor.Supervisor)(nil)
	_ Synthesizer    = (*synth.Synthesizer)(nil)
)

// Deps are the collaborators of an Orchestrator. Searcher may be nil.
type Deps struct {
	Sessions    *session.Manager
	Gate        *authz.Gate
	Resolver    TargetResolver
	Planner     Planner
	Executor    Executor
	Synthesizer Synthesizer
	Searcher    schemas.Searcher
}

// Turn is the outcome of one HandleTurn call.
type Turn struct {
	ConversationID string
	// Prompt is the request the turn acted on; a clarification reply resumes
	// the request that was paused.
	Prompt     string
	Target     string
	Paused     bool
	Resolution *resolver.Resolution
	Outcome    *planner.Outcome
	Report     *supervisor.Report
	Answer     synth.Answer
}

// Text is what the user should see for this turn.
func (t Turn) Text() string {
	if t.Paused && t.Resolution != nil {
		return t.Resolution.Message
	}
	return t.Answer.Text
}

// Orchestrator runs conversation turns: resolve, plan, authorize and execute,
// then synthesize.
type Orchestrator struct {
	deps   Deps
	cfg    config.Interface
	logger *zap.Logger

	// seeded holds the conversations whose scope has been seeded, so a scope
	// the user cleared is not refilled on the next turn.
	seeded sync.Map
}

// New creates an Orchestrator. Every dependency except the searcher is required.
func New(cfg config.Interface, logger *zap.Logger, deps Deps) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Sessions == nil ||
		deps.Gate == nil ||
		deps.Resolver == nil ||
		deps.Planner == nil ||
		deps.Executor == nil ||
		deps.Synthesizer == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
	}, nil
}

func (o *Orchestrator) Gate() *authz.Gate          { return o.deps.Gate }
func (o *Orchestrator) Sessions() *session.Manager { return o.deps.Sessions }

// NewConversation starts a conversation seeded with the configured scope.
func (o *Orchestrator) NewConversation() *session.Conversation {
	conv := o.deps.Sessions.New()
	o.seedScope(conv)
	return conv
}

// Conversation returns an existing or restored conversation. On first use a
// conversation with no scope gets the scope of its restored snapshot, else
// the configured initial scope.
func (o *Orchestrator) Conversation(ctx context.Context, id string) (*session.Conversation, error) {
	conv, err := o.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.seedScope(conv)
	return conv, nil
}

func (o *Orchestrator) seedScope(conv *session.Conversation) {
	if _, done := o.seeded.LoadOrStore(conv.ID, struct{}{}); done {
		return
	}
	scope := o.deps.Gate.Scope()
	if len(scope.Scope(conv.ID)) > 0 {
		return
	}
	entries := conv.Context.AuthorizedScope
	if len(entries) == 0 {
		entries = o.cfg.Policy().InitialScope
	}
	for _, entry := range entries {
		scope.AddToScope(conv.ID, entry)
	}
	conv.Context.SetScope(scope.Scope(conv.ID))
}

// HandleTurn runs one synchronous turn for the conversation. Planning,
// policy and tool failures are carried in the returned Turn; an error is
// returned only for an unusable conversation or a cancelled context.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID, prompt string, stream schemas.StreamCallback) (Turn, error) {
	conv, err := o.Conversation(ctx, conversationID)
	if err != nil {
		return Turn{}, err
	}
	end := conv.BeginTurn()
	defer end()

	ctx, span := observability.StartSpan(ctx, "orchestrator.turn", attribute.String("conversation_id", conv.ID))
	turn, err := o.runTurn(ctx, conv, prompt, stream)
	observability.EndSpan(span, err)

	conv.Context.SetScope(o.deps.Gate.Scope().Scope(conv.ID))
	if perr := o.deps.Sessions.Persist(context.WithoutCancel(ctx), conv); perr != nil {
		o.logger.Warn("Failed to persist conversation state.", zap.String("conversation_id", conv.ID), zap.Error(perr))
	}
	return turn, err
}

func (o *Orchestrator) runTurn(ctx context.Context, conv *session.Conversation, prompt string, stream schemas.StreamCallback) (Turn, error) {
	turn := Turn{ConversationID: conv.ID, Prompt: prompt}
	history := conv.History(historyWindow)
	conv.AddMessage(schemas.RoleUser, prompt)
	conv.Context.AddTopics(planner.SecurityTopics(prompt)...)

	// -- Resolve --
	target := conv.Context.Target()
	if o.needsResolution(conv, prompt) {
		sctx, span := observability.StartSpan(ctx, "orchestrator.resolve")
		res := o.deps.Resolver.Resolve(sctx, conv, prompt, stream)
		observability.EndSpan(span, nil)
		turn.Resolution = &res

		if !res.Resolved() {
			turn.Paused = true
			conv.AddMessage(schemas.RoleAssistant, res.Message)
			o.logger.Info("Turn paused for clarification.",
				zap.String("conversation_id", conv.ID),
				zap.String("status", string(res.Status)))
			return turn, nil
		}
		target = res.Target
		if res.Request != "" {
			turn.Prompt = res.Request
		}
	}
	if target != "" {
		conv.Context.AddActiveEntity(target)
	}
	if err := ctx.Err(); err != nil {
		return turn, fmt.Errorf("turn aborted after resolution: %w", err)
	}

	// -- Plan --
	pctx, span := observability.StartSpan(ctx, "orchestrator.plan")
	outcome := o.deps.Planner.Plan(pctx, planner.Request{
		ConversationID: conv.ID,
		Prompt:         turn.Prompt,
		Target:         target,
		History:        history,
	}, stream)
	observability.EndSpan(span, outcome.Err)
	turn.Outcome = &outcome
	if outcome.Target != "" {
		target = outcome.Target
	}
	turn.Target = target

	conv.RecordSubtasks(outcome.Plan.Subtasks)
	toolSubtasks := outcome.Plan.ToolSubtasks()
	for _, st := range toolSubtasks {
		conv.Context.AddOpenTask(st)
	}
	if err := ctx.Err(); err != nil {
		return turn, fmt.Errorf("turn aborted after planning: %w", err)
	}

	// -- Execute --
	evidence := synth.Evidence{
		DirectAnswer:           outcome.Plan.Analysis.DirectAnswer,
		DirectAnswerSufficient: outcome.Plan.Analysis.AnswerSufficient,
		RetrievedContext:       conv.Context.Facts(),
	}
	if len(toolSubtasks) > 0 {
		ectx, span := observability.StartSpan(ctx, "orchestrator.execute", attribute.Int("subtasks", len(toolSubtasks)))
		report := o.deps.Executor.Execute(ectx, supervisor.Request{
			Conversation: conv,
			Prompt:       turn.Prompt,
			Target:       target,
			Subtasks:     outcome.Plan.Subtasks,
			History:      history,
			Ledger:       authz.NewLedger(),
		}, stream)
		observability.EndSpan(span, nil)
		turn.Report = &report
		evidence.ToolResults = report.Results
	} else if o.wantsSearch(outcome) {
		evidence.Search = o.search(ctx, turn.Prompt, stream)
	}
	if err := ctx.Err(); err != nil {
		return turn, fmt.Errorf("turn aborted after execution: %w", err)
	}

	// -- Synthesize --
	sctx, span := observability.StartSpan(ctx, "orchestrator.synthesize")
	turn.Answer = o.deps.Synthesizer.Synthesize(sctx, synth.Request{
		ConversationID: conv.ID,
		Prompt:         turn.Prompt,
		Target:         target,
		Recall:         outcome.Plan.Analysis.IntentType == intentRecall,
		Evidence:       evidence,
		History:        history,
	}, stream)
	observability.EndSpan(span, nil)

	conv.AddMessage(schemas.RoleAssistant, turn.Answer.Text)
	stream.Emit(schemas.EventAnswer, sourceName, turn.Answer.Text)

	fields := []zap.Field{
		zap.String("conversation_id", conv.ID),
		zap.String("target", target),
		zap.String("plan_level", string(outcome.Level)),
		zap.Int("tool_subtasks", len(toolSubtasks)),
		zap.String("answer_source", string(turn.Answer.Source)),
	}
	o.logger.Info("Turn complete.", append(fields, observability.TraceFields(ctx)...)...)
	return turn, nil
}

// needsResolution reports whether the turn should go through the resolver:
// a clarification is pending, the prompt names a target, or it asks for
// security work.
func (o *Orchestrator) needsResolution(conv *session.Conversation, prompt string) bool {
	if conv.PendingRequest != "" || len(conv.PendingCandidates) > 0 || conv.PendingConfirmation != nil {
		return true
	}
	if len(resolver.ExplicitTargets(prompt)) > 0 {
		return true
	}
	return planner.HasSecurityIntent(prompt)
}

func (o *Orchestrator) wantsSearch(outcome planner.Outcome) bool {
	if o.deps.Searcher == nil || !o.cfg.Search().Enabled {
		return false
	}
	a := outcome.Plan.Analysis
	return a.IntentType == intentQuestion && !(a.AnswerSufficient && a.DirectAnswer != "")
}

func (o *Orchestrator) search(ctx context.Context, query string, stream schemas.StreamCallback) []schemas.SearchResponse {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	stream.Emit(schemas.EventStatus, sourceName, "Searching the web for supporting evidence.")
	resp, err := o.deps.Searcher.Search(ctx, query, searchResults)
	if err != nil {
		o.logger.Warn("Web search failed.", zap.String("query", query), zap.Error(err))
		return []schemas.SearchResponse{{Query: query, Error: err.Error()}}
	}
	return []schemas.SearchResponse{resp}
}
