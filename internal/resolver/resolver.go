// File: internal/resolver/resolver.go
package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/session"
)

// Status is the terminal state of one resolution attempt.
type Status string

const (
	// StatusResolved means a verified target is available for planning.
	StatusResolved Status = "resolved"
	// StatusAwaitingSelection means candidates were presented for a numbered pick.
	StatusAwaitingSelection Status = "awaiting_selection"
	// StatusAwaitingConfirmation means a validated entity was presented for yes/no.
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	// StatusNeedsInfo means free-text clarification was requested.
	StatusNeedsInfo Status = "needs_info"
	// StatusSearching means a search is underway and more detail is welcome.
	StatusSearching Status = "searching"
)

// Resolution is the outcome of Resolve. Only StatusResolved carries a
// target the turn can act on; every other status carries the message to
// show the user and pauses the turn.
type Resolution struct {
	Status     Status
	Target     string
	Source     string
	Candidates []schemas.EntityCandidate
	Entity     *schemas.EntityInfo
	Validation *schemas.ValidationResult
	Ambiguity  float64
	Message    string

	// Request is the paused request a selection or confirmation reply resumes.
	Request string
}

// Resolved reports whether the turn can proceed with Target.
func (r Resolution) Resolved() bool {
	return r.Status == StatusResolved && r.Target != ""
}

// Resolver turns a free-text reference into a verified target.
type Resolver struct {
	llm      schemas.LLMClient
	searcher schemas.Searcher
	store    schemas.MemoryStore
	cfg      config.ResolverConfig
	logger   *zap.Logger
}

// New creates a Resolver. searcher may be nil, in which case web search is
// reported as unavailable.
func New(llm schemas.LLMClient, searcher schemas.Searcher, store schemas.MemoryStore, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		llm:      llm,
		searcher: searcher,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("resolver"),
	}
}

// Resolve runs the resolution pipeline for one turn. Replies to an earlier
// clarification are handled first, then explicit targets, then a target
// already verified for the conversation, then candidate lookup, ambiguity
// scoring and web search.
func (r *Resolver) Resolve(ctx context.Context, conv *session.Conversation, prompt string, stream schemas.StreamCallback) Resolution {
	prompt = Normalize(prompt)
	explicit := ExplicitTargets(prompt)

	if res, ok := r.handleReply(ctx, conv, prompt, explicit, stream); ok {
		return res
	}

	if len(explicit) > 0 {
		target, request := explicit[0], conv.PendingRequest
		r.verify(ctx, conv, target, sourceExplicit)
		r.logger.Info("Resolved explicit target.", zap.String("conversation_id", conv.ID), zap.String("target", target))
		return Resolution{
			Status:     StatusResolved,
			Target:     target,
			Source:     sourceExplicit,
			Candidates: []schemas.EntityCandidate{{Domain: target, Source: sourceExplicit, Confidence: 1.0}},
			Request:    request,
		}
	}

	if target := r.existingTarget(ctx, conv); target != "" {
		return Resolution{Status: StatusResolved, Target: target, Source: sourceVerified}
	}

	return r.runPipeline(ctx, conv, prompt, stream)
}

// handleReply consumes a numbered selection, a yes/no reply to a pending
// confirmation, or an affirmative confirmation of a suggested domain.
// Explicit targets in the reply take precedence.
func (r *Resolver) handleReply(ctx context.Context, conv *session.Conversation, prompt string, explicit []string, stream schemas.StreamCallback) (Resolution, bool) {
	if len(explicit) > 0 {
		return Resolution{}, false
	}

	if pending := conv.PendingConfirmation; pending != nil {
		// Rejection is checked first: "not correct" also contains "correct".
		switch {
		case IsRejection(prompt):
			return r.rejectPending(conv, prompt, stream), true
		case IsConfirmation(prompt):
			return r.confirmPending(ctx, conv), true
		}
	}

	if len(conv.PendingCandidates) > 0 {
		if c, ok := SelectCandidate(prompt, conv.PendingCandidates); ok {
			request := conv.PendingRequest
			r.verify(ctx, conv, c.Domain, sourceSelected)
			r.logger.Info("Candidate selected.", zap.String("conversation_id", conv.ID), zap.String("target", c.Domain))
			return Resolution{
				Status:     StatusResolved,
				Target:     authz.NormalizeTarget(c.Domain),
				Source:     sourceSelected,
				Candidates: []schemas.EntityCandidate{c},
				Request:    request,
			}, true
		}
	}

	last, ok := conv.LastAssistantMessage()
	if !ok || !IsConfirmation(prompt) {
		return Resolution{}, false
	}
	if conv.PendingRequest == "" && !strings.HasSuffix(strings.TrimSpace(last), "?") {
		return Resolution{}, false
	}
	suggested := SuggestedDomain(last)
	if suggested == "" || !IsRegistrableHost(suggested) {
		return Resolution{}, false
	}
	request := conv.PendingRequest
	r.verify(ctx, conv, suggested, sourceConfirm)
	r.logger.Info("Suggested target confirmed.", zap.String("conversation_id", conv.ID), zap.String("target", suggested))
	return Resolution{Status: StatusResolved, Target: suggested, Source: sourceConfirm, Request: request}, true
}

// confirmPending verifies the pending search-validated entity.
func (r *Resolver) confirmPending(ctx context.Context, conv *session.Conversation) Resolution {
	entity, request := *conv.PendingConfirmation, conv.PendingRequest
	domain := authz.NormalizeTarget(entity.Domain)
	r.verify(ctx, conv, domain, sourceConfirm)
	conv.Context.SetEntityDetails(entity.LegalName, entity.Country, entity.ASN, entity.IPRanges)
	r.logger.Info("Validated target confirmed.", zap.String("conversation_id", conv.ID), zap.String("target", domain))
	return Resolution{Status: StatusResolved, Target: domain, Source: sourceConfirm, Entity: &entity, Request: request}
}

// rejectPending drops the pending entity and asks for the target again. The
// paused request is kept so the next answer resumes it.
func (r *Resolver) rejectPending(conv *session.Conversation, prompt string, stream schemas.StreamCallback) Resolution {
	rejected := conv.PendingConfirmation.Domain
	conv.PendingConfirmation = nil
	r.logger.Info("Validated target rejected.", zap.String("conversation_id", conv.ID), zap.String("target", rejected))
	return r.ask(conv, prompt, stream, Resolution{
		Status:  StatusNeedsInfo,
		Message: fmt.Sprintf(msgRejected, rejected) + "\n\n" + NeedMoreInfoMessage("", []string{"What is the official website of the organization?"}),
	})
}

// existingTarget returns the conversation's verified target from the fact
// store or, failing that, the memory store.
func (r *Resolver) existingTarget(ctx context.Context, conv *session.Conversation) string {
	if t := conv.Context.Target(); t != "" {
		return t
	}
	if r.store == nil {
		return ""
	}
	t, err := r.store.GetVerifiedTarget(ctx, conv.ID)
	if err != nil {
		r.logger.Warn("Failed to read verified target.", zap.String("conversation_id", conv.ID), zap.Error(err))
		return ""
	}
	if t != "" {
		conv.Context.SetTarget(t)
	}
	return t
}

func (r *Resolver) runPipeline(ctx context.Context, conv *session.Conversation, prompt string, stream schemas.StreamCallback) Resolution {
	id := r.extractIdentity(ctx, prompt, conv.RecentText(3))
	hasName, hasLocation := id.CompanyName != "", id.Location != ""

	// Candidate lookup and ambiguity scoring.
	candidates := r.lookupCandidates(ctx, conv.History(r.cfg.HistoryWindow), id.CompanyName, prompt)
	ambiguity := Ambiguity(candidates, hasName, hasLocation, r.cfg)
	r.logger.Debug("Candidate lookup complete.",
		zap.String("conversation_id", conv.ID),
		zap.Int("candidates", len(candidates)),
		zap.Float64("ambiguity", ambiguity),
		zap.String("company", id.CompanyName),
		zap.String("location", id.Location))

	if len(candidates) > 0 && candidates[0].Confidence > r.cfg.VerifiedThreshold {
		top := candidates[0]
		r.verify(ctx, conv, top.Domain, top.Source)
		stream.Emit(schemas.EventStatus, "resolver", fmt.Sprintf(msgVerifiedFromDB, top.Domain))
		return Resolution{Status: StatusResolved, Target: top.Domain, Source: top.Source, Candidates: candidates, Ambiguity: ambiguity}
	}

	if len(candidates) > 1 && ambiguity > r.cfg.SelectionThreshold {
		presented := candidates
		if n := r.cfg.PresentedCandidates; n > 0 && len(presented) > n {
			presented = presented[:n]
		}
		return r.ask(conv, prompt, stream, Resolution{
			Status:     StatusAwaitingSelection,
			Candidates: presented,
			Ambiguity:  ambiguity,
			Message:    CandidatesMessage(presented),
		})
	}

	// Web search, extraction and cross-check.
	if hasName || hasLocation {
		if res, ok := r.searchAndValidate(ctx, conv, prompt, id, stream); ok {
			res.Candidates = candidates
			res.Ambiguity = ambiguity
			return res
		}
	}

	if !hasName && !hasLocation {
		return r.ask(conv, prompt, stream, Resolution{
			Status:     StatusNeedsInfo,
			Candidates: candidates,
			Ambiguity:  ambiguity,
			Message:    NeedMoreInfoMessage("", clarifyingQuestions("", "")),
		})
	}
	target := strings.TrimSpace(id.CompanyName + " " + id.Location)
	if hasName && hasLocation {
		target = id.CompanyName + " in " + id.Location
	}
	return r.ask(conv, prompt, stream, Resolution{
		Status:     StatusSearching,
		Candidates: candidates,
		Ambiguity:  ambiguity,
		Message:    fmt.Sprintf(msgSearching, target) + "\n\n" + NeedMoreInfoMessage(target, clarifyingQuestions(id.CompanyName, id.Location)),
	})
}

// searchAndValidate returns a confirmation request when the search evidence
// yields a valid entity.
func (r *Resolver) searchAndValidate(ctx context.Context, conv *session.Conversation, prompt string, id identity, stream schemas.StreamCallback) (Resolution, bool) {
	if r.searcher == nil {
		stream.Emit(schemas.EventStatus, "resolver", fmt.Sprintf(msgAutoSearchFailed, "web search is not configured"))
		return Resolution{}, false
	}

	queries := r.generateQueries(ctx, prompt, id)
	results, searchErr := r.runSearches(ctx, queries)
	if len(results) == 0 {
		if searchErr == "" {
			searchErr = "no results"
		}
		r.logger.Info("Web search produced no evidence.", zap.String("conversation_id", conv.ID), zap.String("error", searchErr))
		stream.Emit(schemas.EventStatus, "resolver", fmt.Sprintf(msgSearchFailed, searchErr))
		return Resolution{}, false
	}

	info := r.extractEntity(ctx, results, id)
	validation := r.crossCheck(ctx, []schemas.EntityInfo{info})
	validated := info
	if validation.ValidatedInfo != nil {
		validated = validation.ValidatedInfo.Clamp()
	}

	// The cross-check verdict gates, not the extraction's self-reported confidence.
	if !validated.IsValid() || !validation.Valid || validation.Confidence <= r.cfg.ValidatedThreshold {
		stream.Emit(schemas.EventStatus, "resolver", msgNoValidDomain)
		return Resolution{}, false
	}

	domain := authz.NormalizeTarget(validated.Domain)
	validated.Domain = domain
	r.logger.Info("Validated target from web search.",
		zap.String("conversation_id", conv.ID),
		zap.String("target", domain),
		zap.Float64("confidence", validation.Confidence),
		zap.Strings("conflicts", validation.Conflicts))

	return r.ask(conv, prompt, stream, Resolution{
		Status:     StatusAwaitingConfirmation,
		Target:     domain,
		Source:     sourceSearch,
		Entity:     &validated,
		Validation: &validation,
		Message:    ConfirmationMessage(validated, validation.Conflicts),
	}), true
}

// ask records the paused request and emits the clarification.
func (r *Resolver) ask(conv *session.Conversation, prompt string, stream schemas.StreamCallback, res Resolution) Resolution {
	if conv.PendingRequest == "" {
		conv.PendingRequest = prompt
	}
	conv.PendingCandidates = nil
	conv.PendingConfirmation = nil
	switch res.Status {
	case StatusAwaitingSelection:
		conv.PendingCandidates = res.Candidates
	case StatusAwaitingConfirmation:
		conv.PendingConfirmation = res.Entity
	}
	stream.Emit(schemas.EventClarification, "resolver", res.Message)
	return res
}

// verify persists domain as the conversation's verified target and clears
// any pending clarification. A failed save is logged; the in-memory target
// still applies for this conversation.
func (r *Resolver) verify(ctx context.Context, conv *session.Conversation, domain, source string) {
	domain = authz.NormalizeTarget(domain)
	conv.Context.SetTarget(domain)
	conv.PendingCandidates = nil
	conv.PendingConfirmation = nil
	conv.PendingRequest = ""
	if r.store == nil {
		return
	}
	if err := r.store.SaveVerifiedTarget(ctx, conv.ID, domain); err != nil {
		r.logger.Warn("Failed to save verified target.",
			zap.String("conversation_id", conv.ID),
			zap.String("target", domain),
			zap.String("source", source),
			zap.Error(err))
	}
}
