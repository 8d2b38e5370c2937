// File: internal/planner/keywords.go
package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

// keywordRule maps a request phrase to the tools that serve it.
type keywordRule struct {
	phrase string
	tools  []string
}

// keywordTable is ordered; matched tools keep the order of first appearance.
var keywordTable = []keywordRule{
	// Subdomain enumeration
	{"subdomain", []string{"subdomain_discovery", "amass_enum"}},
	{"amass", []string{"amass_enum"}},
	{"subfinder", []string{"subdomain_discovery"}},

	// DNS and registration
	{"dns", []string{"dns_enum", "dns_lookup"}},
	{"resolve", []string{"dns_lookup"}},
	{"whois", []string{"whois_lookup"}},
	{"domain info", []string{"whois_lookup"}},
	{"registrar", []string{"whois_lookup"}},

	// Ports, services and vulnerabilities
	{"port", []string{"nmap_scan"}},
	{"nmap", []string{"nmap_scan"}},
	{"network scan", []string{"nmap_scan"}},
	{"service", []string{"nmap_scan"}},
	{"banner", []string{"nmap_scan"}},
	{"vuln", []string{"nmap_scan"}},
	{"cve", []string{"nmap_scan"}},
	{"exploit", []string{"metasploit_exploit"}},

	// TLS
	{"ssl", []string{"ssl_scan"}},
	{"tls", []string{"ssl_scan"}},
	{"cert", []string{"ssl_scan"}},

	// Web
	{"web", []string{"nmap_scan"}},
	{"http", []string{"nmap_scan"}},
	{"https", []string{"nmap_scan", "ssl_scan"}},

	// OSINT
	{"recon", []string{"whois_lookup", "dns_enum", "subdomain_discovery"}},
	{"information gathering", []string{"whois_lookup", "dns_enum"}},
	{"osint", []string{"whois_lookup", "dns_enum", "subdomain_discovery", "shodan_search"}},
	{"shodan", []string{"shodan_search"}},
	{"internet scan", []string{"shodan_search"}},
}

// keywordPatterns match each phrase at the start of a word, so "ports" and
// "subdomains" hit but "report" does not.
var keywordPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(keywordTable))
	for i, rule := range keywordTable {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(rule.phrase))
	}
	return out
}()

var defaultToolsByType = map[schemas.TaskType][]string{
	schemas.TaskRecon:        {"whois_lookup", "dns_enum", "subdomain_discovery"},
	schemas.TaskExploitation: {"nmap_scan"},
	schemas.TaskAnalysis:     {"nmap_scan"},
	schemas.TaskMixed:        {"whois_lookup", "dns_enum", "nmap_scan"},
}

var categoriesByType = map[schemas.TaskType][]string{
	schemas.TaskRecon:        {"recon", "osint"},
	schemas.TaskExploitation: {"exploitation"},
	schemas.TaskAnalysis:     {"scanning", "analysis"},
	schemas.TaskMixed:        {"recon", "scanning"},
}

var agentsByType = map[schemas.TaskType]string{
	schemas.TaskRecon:        "recon_agent",
	schemas.TaskExploitation: "exploit_agent",
	schemas.TaskAnalysis:     "analysis_agent",
	schemas.TaskMixed:        "recon_agent",
}

var actionRegex = regexp.MustCompile(`\b(find|scan|check|discover|enumerate|lookup|get|analyze|test|attack|exploit|assess|audit)\b`)

const (
	maxKeywordSubtasks = 5
	maxCategoryTools   = 3
)

// matchKeywordTools returns the tools whose phrases occur in the prompt.
func matchKeywordTools(prompt string) []string {
	lower := strings.ToLower(prompt)
	var out []string
	seen := make(map[string]bool)
	for i, rule := range keywordTable {
		if !keywordPatterns[i].MatchString(lower) {
			continue
		}
		for _, t := range rule.tools {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// keywordPlan builds one subtask per tool from the keyword table, falling
// back to per-type defaults and then to registry categories.
func (p *Planner) keywordPlan(prompt, target string, taskType schemas.TaskType) []schemas.Subtask {
	if _, ok := defaultToolsByType[taskType]; !ok {
		taskType = schemas.TaskRecon
	}

	names := matchKeywordTools(prompt)
	if len(names) == 0 {
		names = defaultToolsByType[taskType]
	}
	available := p.availableTools(names)
	if len(available) == 0 {
		for _, category := range categoriesByType[taskType] {
			for _, def := range tools.ByCategory(p.registry, category) {
				if len(available) < maxCategoryTools {
					available = append(available, def)
				}
			}
		}
	}
	return p.buildSubtasks(available, prompt, target, taskType)
}

// availableTools keeps the names the registry knows, resolved to their
// definitions and deduplicated.
func (p *Planner) availableTools(names []string) []schemas.ToolDefinition {
	var out []schemas.ToolDefinition
	seen := make(map[string]bool)
	for _, n := range names {
		def, ok := p.registry.Get(n)
		if !ok || seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		out = append(out, def)
	}
	return out
}

func (p *Planner) buildSubtasks(defs []schemas.ToolDefinition, prompt, target string, taskType schemas.TaskType) []schemas.Subtask {
	action := "Execute"
	if m := actionRegex.FindStringSubmatch(strings.ToLower(prompt)); len(m) > 1 {
		action = strings.ToUpper(m[1][:1]) + m[1][1:]
	}
	agent := agentsByType[taskType]

	var out []schemas.Subtask
	for i, def := range defs {
		if i == maxKeywordSubtasks {
			break
		}
		desc := def.Description
		if desc == "" {
			desc = def.Name
		}
		priority := schemas.PriorityMedium
		if i == 0 {
			priority = schemas.PriorityHigh
		}
		out = append(out, schemas.Subtask{
			ID:            newSubtaskID(),
			Name:          fmt.Sprintf("%s %s on %s", action, strings.ReplaceAll(def.Name, "_", " "), target),
			Description:   fmt.Sprintf("%s on %s", desc, target),
			Type:          schemas.SubtaskToolExecution,
			RequiredTools: []string{def.Name},
			RequiredAgent: agent,
			Priority:      priority,
			Status:        schemas.StatusPending,
		})
	}
	return out
}
