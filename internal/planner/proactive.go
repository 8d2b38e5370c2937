// File: internal/planner/proactive.go
package planner

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// securityKeywords mark a request as wanting security tooling.
var securityKeywords = []string{
	"assess", "scan", "pentest", "recon", "enumerate", "find", "vuln", "test",
	"hack", "attack", "exploit", "osint", "gather", "information",
}

// HasSecurityIntent reports whether the prompt contains a security keyword.
func HasSecurityIntent(prompt string) bool {
	return containsAny(strings.ToLower(prompt), securityKeywords)
}

// SecurityTopics returns the security keywords present in the prompt, in
// table order.
func SecurityTopics(prompt string) []string {
	lower := strings.ToLower(prompt)
	var out []string
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

type intent struct {
	recon, scan, attack, general bool
}

func detectIntent(prompt string) intent {
	lower := strings.ToLower(prompt)
	return intent{
		recon:   containsAny(lower, []string{"recon", "enumerate", "subdomain", "osint", "info", "whois", "dns"}),
		scan:    containsAny(lower, []string{"scan", "port", "service", "nmap"}),
		attack:  containsAny(lower, []string{"attack", "exploit", "vuln", "test", "assess", "pentest"}),
		general: containsAny(lower, []string{"check", "analyze", "investigate", "look"}),
	}
}

// proactivePlan returns one of the canned plans for a known target. It
// never consults a reasoning backend and never returns an empty plan.
func (p *Planner) proactivePlan(prompt, target string) schemas.Plan {
	in := detectIntent(prompt)

	var (
		subtasks []schemas.Subtask
		taskType schemas.TaskType
	)
	switch {
	case in.attack || in.general:
		taskType = schemas.TaskMixed
		subtasks = []schemas.Subtask{
			reconSubtask(target, "whois_lookup", "dns_enum"),
			{
				ID:            "subtask_subdomain",
				Name:          "Subdomain Enumeration",
				Description:   fmt.Sprintf("Find subdomains of %s", target),
				Type:          schemas.SubtaskToolExecution,
				RequiredTools: []string{"subdomain_discovery"},
				RequiredAgent: "recon_agent",
				Priority:      schemas.PriorityHigh,
				Status:        schemas.StatusPending,
			},
			scanSubtask(target, "subtask_recon"),
		}
	case in.recon:
		taskType = schemas.TaskRecon
		subtasks = []schemas.Subtask{reconSubtask(target, "whois_lookup", "dns_enum", "subdomain_discovery")}
	case in.scan:
		taskType = schemas.TaskAnalysis
		subtasks = []schemas.Subtask{scanSubtask(target)}
	default:
		taskType = schemas.TaskRecon
		subtasks = p.keywordPlan(prompt, target, schemas.TaskRecon)
		if len(subtasks) == 0 {
			subtasks = []schemas.Subtask{reconSubtask(target, "whois_lookup", "dns_enum", "subdomain_discovery")}
		}
	}

	return schemas.Plan{
		Analysis: schemas.Analysis{
			UserIntent: fmt.Sprintf("Security assessment of %s", target),
			IntentType: "request",
			TaskType:   taskType,
			Complexity: "medium",
			NeedsTools: true,
		},
		Subtasks: subtasks,
	}
}

func reconSubtask(target string, toolNames ...string) schemas.Subtask {
	return schemas.Subtask{
		ID:            "subtask_recon",
		Name:          "Reconnaissance & OSINT",
		Description:   fmt.Sprintf("Gather information about %s", target),
		Type:          schemas.SubtaskToolExecution,
		RequiredTools: toolNames,
		RequiredAgent: "recon_agent",
		Priority:      schemas.PriorityHigh,
		Status:        schemas.StatusPending,
	}
}

func scanSubtask(target string, deps ...string) schemas.Subtask {
	return schemas.Subtask{
		ID:            "subtask_scan",
		Name:          "Port & Service Scanning",
		Description:   fmt.Sprintf("Scan ports and services on %s", target),
		Type:          schemas.SubtaskToolExecution,
		RequiredTools: []string{"nmap_scan"},
		RequiredAgent: "recon_agent",
		Priority:      schemas.PriorityHigh,
		Dependencies:  deps,
		Status:        schemas.StatusPending,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
