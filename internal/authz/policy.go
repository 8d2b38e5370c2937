// File: internal/authz/policy.go
package authz

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// RiskLevel is the legal-risk tier of running a tool.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRisk maps a declared tier to a RiskLevel. Unknown or empty tiers are
// treated as medium.
func ParseRisk(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	default:
		return RiskMedium
	}
}

// AssessLegalRisk maps the tool's declared tier through the execution mode:
// passive always yields low, simulation caps high at medium, cooperative
// passes the tier through.
func AssessLegalRisk(tool schemas.ToolDefinition, mode ExecutionMode) RiskLevel {
	base := ParseRisk(tool.EffectiveRisk())
	switch mode {
	case ModePassive:
		return RiskLow
	case ModeSimulation:
		if base == RiskHigh {
			return RiskMedium
		}
		return base
	default:
		return base
	}
}

// Decision is the outcome of a policy check.
type Decision string

const (
	DecisionAllowed          Decision = "allowed"
	DecisionDenied           Decision = "denied"
	DecisionRequiresApproval Decision = "requires_approval"
)

// PolicyResult is produced once per (tool, target, mode) check and never mutated.
type PolicyResult struct {
	Decision         Decision  `json:"decision"`
	Reason           string    `json:"reason"`
	RiskLevel        RiskLevel `json:"risk_level,omitempty"`
	RequiresApproval bool      `json:"requires_approval"`
}

// IsAllowed reports whether the tool may run without further approval.
func (r PolicyResult) IsAllowed() bool {
	return r.Decision == DecisionAllowed
}

// CredentialChecker verifies that the credentials a tool needs are available.
type CredentialChecker interface {
	HasCredentials(tool schemas.ToolDefinition, conversationID string) (bool, string)
}

// assumeConfigured is the default checker until a credential store exists.
type assumeConfigured struct{}

func (assumeConfigured) HasCredentials(schemas.ToolDefinition, string) (bool, string) {
	return true, "Authorization check passed (assuming credentials are configured)"
}

// CheckRequest names the tool, target and mode being evaluated. An empty Mode
// means the conversation's current mode.
type CheckRequest struct {
	Tool           schemas.ToolDefinition
	Target         string
	ConversationID string
	Mode           ExecutionMode
}

// PolicyEngine evaluates scope, mode compatibility, legal risk and
// credentials, in that order, failing fast on the first denial.
type PolicyEngine struct {
	scope              *ScopeManager
	modes              *ModeManager
	creds              CredentialChecker
	highRiskCategories map[string]bool
	log                *zap.Logger
}

// PolicyOption customizes a PolicyEngine.
type PolicyOption func(*PolicyEngine)

// WithCredentialChecker replaces the placeholder credential check.
func WithCredentialChecker(c CredentialChecker) PolicyOption {
	return func(e *PolicyEngine) { e.creds = c }
}

// WithHighRiskCategories sets the categories for which medium risk requires approval.
func WithHighRiskCategories(categories []string) PolicyOption {
	return func(e *PolicyEngine) {
		e.highRiskCategories = make(map[string]bool, len(categories))
		for _, c := range categories {
			e.highRiskCategories[strings.ToLower(c)] = true
		}
	}
}

// NewPolicyEngine wires the engine to the shared scope and mode managers.
func NewPolicyEngine(scope *ScopeManager, modes *ModeManager, logger *zap.Logger, opts ...PolicyOption) *PolicyEngine {
	e := &PolicyEngine{
		scope: scope,
		modes: modes,
		creds: assumeConfigured{},
		log:   logger.Named("policy"),
	}
	WithHighRiskCategories([]string{"exploitation", "post_exploitation"})(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check evaluates one tool execution request.
func (e *PolicyEngine) Check(req CheckRequest) PolicyResult {
	mode := req.Mode
	if mode == "" {
		mode = e.modes.Mode(req.ConversationID)
	}
	tool := req.Tool

	if ok, why := e.ValidateScope(req.Target, req.ConversationID); !ok {
		return e.record(req, PolicyResult{
			Decision: DecisionDenied,
			Reason:   fmt.Sprintf("Target '%s' is not in authorized scope. %s", req.Target, why),
		})
	}

	if ok, why := CheckModeCompatibility(tool, mode); !ok {
		return e.record(req, PolicyResult{
			Decision: DecisionDenied,
			Reason:   fmt.Sprintf("Tool '%s' is not compatible with mode '%s'. %s", tool.Name, mode, why),
		})
	}

	risk := AssessLegalRisk(tool, mode)

	if tool.NeedsAuthorization() {
		if ok, why := e.creds.HasCredentials(tool, req.ConversationID); !ok {
			return e.record(req, PolicyResult{
				Decision: DecisionDenied,
				Reason:   fmt.Sprintf("Tool '%s' requires authorization. %s", tool.Name, why),
			})
		}
	}

	if e.requiresApproval(risk, tool) {
		return e.record(req, PolicyResult{
			Decision:         DecisionRequiresApproval,
			Reason:           fmt.Sprintf("Tool '%s' has %s legal risk and requires user approval.", tool.Name, risk),
			RiskLevel:        risk,
			RequiresApproval: true,
		})
	}

	return e.record(req, PolicyResult{
		Decision:  DecisionAllowed,
		Reason:    fmt.Sprintf("Tool '%s' execution is allowed for target '%s'.", tool.Name, req.Target),
		RiskLevel: risk,
	})
}

// ValidateScope checks the target against the conversation's scope.
func (e *PolicyEngine) ValidateScope(target, conversationID string) (bool, string) {
	if e.scope.IsTargetAuthorized(conversationID, target) {
		return true, "Target is in authorized scope"
	}
	return false, "Please add target to authorized scope first"
}

// CheckModeCompatibility checks the tool's capability tags against mode.
func CheckModeCompatibility(tool schemas.ToolDefinition, mode ExecutionMode) (bool, string) {
	if len(tool.Mode) == 0 {
		return true, "Tool has no mode restrictions"
	}
	if IsToolCompatible(tool.Mode, mode) {
		return true, "Tool is compatible with execution mode"
	}
	return false, fmt.Sprintf("Tool modes %v are not compatible with allowed modes %v", tool.Mode, mode.AllowedTags())
}

func (e *PolicyEngine) requiresApproval(risk RiskLevel, tool schemas.ToolDefinition) bool {
	switch risk {
	case RiskHigh:
		return true
	case RiskMedium:
		return e.highRiskCategories[strings.ToLower(tool.Category)]
	default:
		return false
	}
}

func (e *PolicyEngine) record(req CheckRequest, res PolicyResult) PolicyResult {
	e.log.Debug("Policy decision.",
		zap.String("tool", req.Tool.Name),
		zap.String("target", req.Target),
		zap.String("conversation_id", req.ConversationID),
		zap.String("decision", string(res.Decision)),
		zap.String("risk", string(res.RiskLevel)),
	)
	return res
}
