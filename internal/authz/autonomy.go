// File: internal/authz/autonomy.go
package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AutonomyLevel is an ordered permission tier controlling whether an action
// may run without user confirmation.
type AutonomyLevel int

const (
	LevelManual   AutonomyLevel = iota // Every action needs confirmation.
	LevelCopilot                       // Recon runs automatically.
	LevelSemiAuto                      // Recon and scanning run automatically.
	LevelFullAuto                      // Everything runs automatically.
)

var levelNames = map[AutonomyLevel]string{
	LevelManual:   "MANUAL",
	LevelCopilot:  "COPILOT",
	LevelSemiAuto: "SEMI_AUTO",
	LevelFullAuto: "FULL_AUTO",
}

var levelDescriptions = map[AutonomyLevel]string{
	LevelManual:   "Manual - All actions require user confirmation",
	LevelCopilot:  "Copilot - Recon auto, exploits need approval",
	LevelSemiAuto: "Semi-Auto - Recon + Scan auto, exploits need approval",
	LevelFullAuto: "Full Auto - Autonomous Red Team mode",
}

func (l AutonomyLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// Description returns the human-readable summary of the level.
func (l AutonomyLevel) Description() string {
	if d, ok := levelDescriptions[l]; ok {
		return d
	}
	return fmt.Sprintf("Unknown level: %d", int(l))
}

// ParseLevel accepts a level name ("copilot", "semi-auto", "full_auto") or its number.
func ParseLevel(s string) (AutonomyLevel, error) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(strings.TrimSpace(s)))
	switch norm {
	case "0", "MANUAL":
		return LevelManual, nil
	case "1", "COPILOT":
		return LevelCopilot, nil
	case "2", "SEMI_AUTO", "SEMIAUTO":
		return LevelSemiAuto, nil
	case "3", "FULL_AUTO", "FULLAUTO", "AUTO":
		return LevelFullAuto, nil
	}
	return LevelManual, fmt.Errorf("unknown autonomy level %q", s)
}

type policyRule struct {
	action string
	level  AutonomyLevel
}

// AutonomyPolicy maps action names to the minimum level required to run them
// automatically. Rules are kept in insertion order because partial matching
// returns the first hit.
type AutonomyPolicy struct {
	rules []policyRule
}

// DefaultAutonomyPolicy returns the built-in action table.
func DefaultAutonomyPolicy() *AutonomyPolicy {
	p := &AutonomyPolicy{}
	for _, a := range []string{"recon", "whois", "dns", "subdomain", "theharvester", "amass", "shodan", "censys"} {
		p.Set(a, LevelCopilot)
	}
	for _, a := range []string{"scan", "nmap", "nikto", "wpscan", "nuclei", "vuln_scan", "gobuster", "dirbuster", "ffuf"} {
		p.Set(a, LevelSemiAuto)
	}
	for _, a := range []string{"exploit", "metasploit", "sqlmap", "hydra", "pivot", "lateral_move", "exfiltrate", "privilege_escalation"} {
		p.Set(a, LevelFullAuto)
	}
	return p
}

// Set adds or updates a rule. Updated rules keep their original position.
func (p *AutonomyPolicy) Set(action string, level AutonomyLevel) {
	action = strings.ToLower(strings.TrimSpace(action))
	for i := range p.rules {
		if p.rules[i].action == action {
			p.rules[i].level = level
			return
		}
	}
	p.rules = append(p.rules, policyRule{action: action, level: level})
}

// RequiredLevel returns the level an action needs: exact match first, then
// the first rule where either name contains the other. Unknown actions
// require FullAuto.
func (p *AutonomyPolicy) RequiredLevel(action string) AutonomyLevel {
	a := strings.ToLower(strings.TrimSpace(action))
	if a == "" {
		return LevelFullAuto
	}
	for _, r := range p.rules {
		if r.action == a {
			return r.level
		}
	}
	for _, r := range p.rules {
		if strings.Contains(a, r.action) || strings.Contains(r.action, a) {
			return r.level
		}
	}
	return LevelFullAuto
}

// ConfirmFunc asks the user to confirm an action and returns their reply.
type ConfirmFunc func(ctx context.Context, message string, details map[string]any) (string, error)

var approvedResponses = map[string]bool{"yes": true, "y": true, "ok": true, "approve": true, "": true}

// AutonomyController decides whether an action may proceed automatically or
// needs user confirmation, and audits every decision.
type AutonomyController struct {
	mu           sync.RWMutex
	defaultLevel AutonomyLevel
	levels       map[string]AutonomyLevel
	policy       *AutonomyPolicy
	confirm      ConfirmFunc
	audit        *AuditLog
	log          *zap.Logger
}

// NewAutonomyController creates a controller. A nil policy uses the default table.
func NewAutonomyController(level AutonomyLevel, policy *AutonomyPolicy, audit *AuditLog, logger *zap.Logger) *AutonomyController {
	if policy == nil {
		policy = DefaultAutonomyPolicy()
	}
	if audit == nil {
		audit = NewAuditLog(DefaultAuditCapacity)
	}
	return &AutonomyController{
		defaultLevel: level,
		levels:       make(map[string]AutonomyLevel),
		policy:       policy,
		audit:        audit,
		log:          logger.Named("autonomy"),
	}
}

// SetConfirmationCallback installs the function used by RequestConfirmation.
func (c *AutonomyController) SetConfirmationCallback(fn ConfirmFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm = fn
}

// AuditLog exposes the shared audit trail.
func (c *AutonomyController) AuditLog() *AuditLog { return c.audit }

// Policy exposes the action table.
func (c *AutonomyController) Policy() *AutonomyPolicy { return c.policy }

// Level returns the conversation's level, or the default.
func (c *AutonomyController) Level(conversationID string) AutonomyLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if lvl, ok := c.levels[conversationID]; ok && conversationID != "" {
		return lvl
	}
	return c.defaultLevel
}

// SetLevel changes the level for a conversation, or the default when
// conversationID is empty, and audits the change.
func (c *AutonomyController) SetLevel(conversationID string, level AutonomyLevel) {
	old := c.Level(conversationID)

	c.mu.Lock()
	if conversationID == "" {
		c.defaultLevel = level
	} else {
		c.levels[conversationID] = level
	}
	c.mu.Unlock()

	c.audit.Append("level_change", map[string]any{
		"old_level":       old.String(),
		"new_level":       level.String(),
		"conversation_id": conversationID,
	})
	c.log.Info("Autonomy level changed.",
		zap.String("conversation_id", conversationID),
		zap.Stringer("old_level", old),
		zap.Stringer("new_level", level))
}

// CanExecute reports whether action may run at the conversation's level.
func (c *AutonomyController) CanExecute(action, conversationID string) bool {
	return c.Level(conversationID) >= c.policy.RequiredLevel(action)
}

// Gate decides whether action may auto-execute. Every call is audited.
func (c *AutonomyController) Gate(action string, details map[string]any, conversationID string) (bool, string) {
	current := c.Level(conversationID)
	required := c.policy.RequiredLevel(action)

	if current >= required {
		c.audit.Append("auto_execute", map[string]any{
			"action":          action,
			"level":           current.String(),
			"required_level":  required.String(),
			"context":         details,
			"conversation_id": conversationID,
		})
		return true, fmt.Sprintf("Auto-executing: %s (level %s)", action, current)
	}

	c.audit.Append("confirmation_required", map[string]any{
		"action":          action,
		"current_level":   current.String(),
		"required_level":  required.String(),
		"context":         details,
		"conversation_id": conversationID,
	})
	return false, fmt.Sprintf("Action '%s' requires level %s, current level is %s. User confirmation needed.",
		action, required, current)
}

// RequestConfirmation asks the user through the installed callback. Without
// a callback, or when the callback fails, the action is denied.
func (c *AutonomyController) RequestConfirmation(ctx context.Context, action string, details map[string]any) bool {
	c.mu.RLock()
	confirm := c.confirm
	c.mu.RUnlock()
	if confirm == nil {
		return false
	}

	message := fmt.Sprintf("Execute %s?", action)
	if details != nil {
		target, _ := details["target"].(string)
		if target == "" {
			target = "unknown"
		}
		message = fmt.Sprintf("Execute %s on %s?", action, target)
	}

	response, err := confirm(ctx, message, details)
	if err != nil {
		c.log.Warn("Confirmation callback failed; denying.", zap.String("action", action), zap.Error(err))
		response = "no"
	}
	approved := approvedResponses[strings.ToLower(strings.TrimSpace(response))]

	c.audit.Append("user_response", map[string]any{
		"action":   action,
		"approved": approved,
		"response": response,
		"context":  details,
	})
	return approved
}

// ActionsForLevel returns the policy actions that run automatically at level, sorted.
func (c *AutonomyController) ActionsForLevel(level AutonomyLevel) []string {
	var out []string
	for _, r := range c.policy.rules {
		if level >= r.level {
			out = append(out, r.action)
		}
	}
	sort.Strings(out)
	return out
}
