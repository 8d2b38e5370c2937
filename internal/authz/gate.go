// File: internal/authz/gate.go
package authz

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

type grantKey struct {
	tool, target string
	mode         ExecutionMode
}

// Ledger records, for one turn, which (tool, target, mode) combinations were
// authorized. The executor refuses anything not in the ledger.
type Ledger struct {
	mu     sync.Mutex
	grants map[grantKey]bool
}

// NewLedger creates an empty turn ledger.
func NewLedger() *Ledger {
	return &Ledger{grants: make(map[grantKey]bool)}
}

func keyFor(tool, target string, mode ExecutionMode) grantKey {
	return grantKey{tool: strings.ToLower(tool), target: NormalizeTarget(target), mode: mode}
}

// Grant records an authorization.
func (l *Ledger) Grant(tool, target string, mode ExecutionMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grants[keyFor(tool, target, mode)] = true
}

// Granted reports whether the combination was authorized this turn.
func (l *Ledger) Granted(tool, target string, mode ExecutionMode) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.grants[keyFor(tool, target, mode)]
}

type ledgerKey struct{}

// WithLedger attaches the turn ledger to ctx so executors further down the
// stack can verify grants.
func WithLedger(ctx context.Context, l *Ledger) context.Context {
	return context.WithValue(ctx, ledgerKey{}, l)
}

// LedgerFromContext returns the ledger attached to ctx, or nil.
func LedgerFromContext(ctx context.Context) *Ledger {
	l, _ := ctx.Value(ledgerKey{}).(*Ledger)
	return l
}

// Len returns the number of grants.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.grants)
}

// Authorization is the combined outcome of the policy check, the autonomy
// gate and, if needed, the user's confirmation.
type Authorization struct {
	Policy          PolicyResult
	Mode            ExecutionMode
	AutoExecute     bool // the autonomy gate passed without confirmation
	Confirmed       bool // the user approved a gated action
	Granted         bool // the tool may run
	AutonomyMessage string
}

// Reason explains the outcome in one line.
func (a Authorization) Reason() string {
	if a.Policy.Decision == DecisionDenied || a.Granted {
		return a.Policy.Reason
	}
	if a.Policy.Decision == DecisionRequiresApproval {
		return a.Policy.Reason + " Approval was not given."
	}
	return a.AutonomyMessage
}

// Gate combines the policy engine and the autonomy controller. Policy runs
// first; a denial stops there. Confirmation is requested when the policy
// requires approval or the autonomy level is too low. Only an allowed result
// or an approved confirmation grants execution.
type Gate struct {
	policy   *PolicyEngine
	autonomy *AutonomyController
	modes    *ModeManager
	scope    *ScopeManager
	audit    *AuditLog
	log      *zap.Logger
}

// NewGate wires the gate's collaborators. They are shared, process-wide services.
func NewGate(policy *PolicyEngine, autonomy *AutonomyController, modes *ModeManager, scope *ScopeManager, logger *zap.Logger) *Gate {
	return &Gate{
		policy:   policy,
		autonomy: autonomy,
		modes:    modes,
		scope:    scope,
		audit:    autonomy.AuditLog(),
		log:      logger.Named("gate"),
	}
}

func (g *Gate) Policy() *PolicyEngine         { return g.policy }
func (g *Gate) Autonomy() *AutonomyController { return g.autonomy }
func (g *Gate) Modes() *ModeManager           { return g.modes }
func (g *Gate) Scope() *ScopeManager          { return g.scope }
func (g *Gate) Audit() *AuditLog              { return g.audit }

// Authorize runs the full decision for one tool against one target and
// records a grant in ledger when execution is permitted.
func (g *Gate) Authorize(ctx context.Context, conversationID string, tool schemas.ToolDefinition, target string, ledger *Ledger) Authorization {
	mode := g.modes.Mode(conversationID)
	res := g.policy.Check(CheckRequest{Tool: tool, Target: target, ConversationID: conversationID, Mode: mode})
	auth := Authorization{Policy: res, Mode: mode}

	g.audit.Append("policy_decision", map[string]any{
		"tool":            tool.Name,
		"target":          target,
		"mode":            string(mode),
		"decision":        string(res.Decision),
		"reason":          res.Reason,
		"conversation_id": conversationID,
	})

	if res.Decision == DecisionDenied {
		g.log.Info("Tool denied by policy.", zap.String("tool", tool.Name), zap.String("target", target), zap.String("reason", res.Reason))
		return auth
	}

	details := map[string]any{"target": target, "mode": string(mode), "risk": string(res.RiskLevel)}
	auth.AutoExecute, auth.AutonomyMessage = g.autonomy.Gate(tool.Name, details, conversationID)

	if res.Decision == DecisionAllowed && auth.AutoExecute {
		auth.Granted = true
	} else {
		auth.Confirmed = g.autonomy.RequestConfirmation(ctx, tool.Name, details)
		auth.Granted = auth.Confirmed
	}

	if auth.Granted && ledger != nil {
		ledger.Grant(tool.Name, target, mode)
	}
	g.log.Debug("Authorization complete.",
		zap.String("tool", tool.Name),
		zap.String("target", target),
		zap.String("decision", string(res.Decision)),
		zap.Bool("auto_execute", auth.AutoExecute),
		zap.Bool("granted", auth.Granted))
	return auth
}
