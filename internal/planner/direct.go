// File: internal/planner/direct.go
package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
	"github.com/xkilldash9x/vigil-cli/internal/resolver"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

var (
	// "use whois and dns on example.com", "run nmap, sslscan against 10.0.0.1"
	directListRegex = regexp.MustCompile(`(?i)\b(?:run|use|execute|call|invoke)\s+([\w-]+(?:\s*(?:,|\band\b)\s*[\w-]+)*)\s+(?:on|for|against)\s+(\S+)`)
	// "run nmap example.com"
	directBareRegex = regexp.MustCompile(`(?i)\b(?:run|use|execute|call|invoke)\s+([\w-]+)\s+(\S+)`)

	toolListSplit = regexp.MustCompile(`\s*(?:,|\band\b)\s*`)
)

// commandAliases maps shorthand in direct commands to catalog tool names.
var commandAliases = map[string]string{
	"nmap":       "nmap_scan",
	"whois":      "whois_lookup",
	"dns":        "dns_enum",
	"subdomain":  "subdomain_discovery",
	"subdomains": "subdomain_discovery",
	"ssl":        "ssl_scan",
	"tls":        "ssl_scan",
	"metasploit": "metasploit_exploit",
	"shodan":     "shodan_search",
	"sqlmap":     "sql_injection_test",
	"port":       "nmap_scan",
	"ports":      "nmap_scan",
}

// pronounTargets refer back to the conversation's known target.
var pronounTargets = map[string]bool{"it": true, "target": true, "them": true, "this": true}

// DirectCommand is a detected "run X on Y" request.
type DirectCommand struct {
	Tools  []string
	Target string
}

// DetectDirectCommand recognizes explicit tool invocations. known is the
// conversation's verified target, used when the command says "it" or "target".
func (p *Planner) DetectDirectCommand(prompt, known string) (DirectCommand, bool) {
	for _, re := range []*regexp.Regexp{directListRegex, directBareRegex} {
		m := re.FindStringSubmatch(prompt)
		if len(m) < 3 {
			continue
		}
		target := commandTarget(m[2], known)
		if target == "" {
			continue
		}

		var names []string
		seen := make(map[string]bool)
		for _, raw := range toolListSplit.Split(m[1], -1) {
			name, ok := p.resolveToolName(raw)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		if len(names) > 0 {
			return DirectCommand{Tools: names, Target: target}, true
		}
	}
	return DirectCommand{}, false
}

func commandTarget(raw, known string) string {
	raw = strings.TrimRight(raw, ".,;:!?")
	if pronounTargets[strings.ToLower(raw)] {
		return known
	}
	if ts := resolver.ExplicitTargets(raw); len(ts) > 0 {
		return ts[0]
	}
	return ""
}

// resolveToolName maps a user's tool reference to a catalog name: exact name
// or alias first, then the shorthand table, then fuzzy matching.
func (p *Planner) resolveToolName(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	if def, ok := p.registry.Get(raw); ok {
		return def.Name, true
	}
	if alias, ok := commandAliases[raw]; ok {
		if def, ok := p.registry.Get(alias); ok {
			return def.Name, true
		}
	}

	names := tools.Names(p.registry)
	threshold := p.cfg.ToolMatchThreshold
	if threshold <= 0 {
		threshold = 70
	}

	// Subsequence matches are ranked first; the similarity score decides.
	best, bestScore := "", 0
	for _, m := range fuzzy.Find(raw, names) {
		if s := llmutil.Score(raw, m.Str); s > bestScore {
			best, bestScore = m.Str, s
		}
	}
	if bestScore < threshold {
		for _, n := range names {
			if s := llmutil.Score(raw, n); s > bestScore {
				best, bestScore = n, s
			}
		}
	}
	if bestScore < threshold {
		return "", false
	}
	def, ok := p.registry.Get(best)
	if !ok {
		return "", false
	}
	return def.Name, true
}

// directPlan turns a direct command into one subtask per tool.
func directPlan(cmd DirectCommand) schemas.Plan {
	subtasks := make([]schemas.Subtask, 0, len(cmd.Tools))
	for _, name := range cmd.Tools {
		subtasks = append(subtasks, schemas.Subtask{
			ID:            "subtask_direct_" + name,
			Name:          "Execute " + name,
			Description:   fmt.Sprintf("Execute %s on %s", name, cmd.Target),
			Type:          schemas.SubtaskToolExecution,
			RequiredTools: []string{name},
			RequiredAgent: "recon_agent",
			Priority:      schemas.PriorityHigh,
			Status:        schemas.StatusPending,
		})
	}
	return schemas.Plan{
		Analysis: schemas.Analysis{
			UserIntent: fmt.Sprintf("Execute %s on %s", strings.Join(cmd.Tools, ", "), cmd.Target),
			IntentType: "request",
			TaskType:   schemas.TaskRecon,
			Complexity: "simple",
			NeedsTools: true,
		},
		Subtasks: subtasks,
	}
}
