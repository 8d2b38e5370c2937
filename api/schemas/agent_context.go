package schemas

import (
	"strconv"
	"strings"
	"time"
)

// nowFunc is swapped in tests to get deterministic LastUpdated values.
var nowFunc = time.Now

// AgentContext is the long-lived, per-conversation fact store. It is owned by
// exactly one conversation and is not safe for concurrent use; only the
// supervisor and the resolver write discovered facts into it.
type AgentContext struct {
	// Target identity
	Domain         string   `json:"domain,omitempty"`
	Targets        []string `json:"targets,omitempty"`
	LegalName      string   `json:"legal_name,omitempty"`
	TargetCountry  string   `json:"target_country,omitempty"`
	TargetASN      string   `json:"target_asn,omitempty"`
	TargetIPRanges []string `json:"target_ip_ranges,omitempty"`

	// Reconnaissance and scanning
	Subdomains      []string               `json:"subdomains,omitempty"`
	IPs             []string               `json:"ips,omitempty"`
	OpenPorts       []PortFinding          `json:"open_ports,omitempty"`
	Services        []string               `json:"services,omitempty"`
	Vulnerabilities []VulnerabilityFinding `json:"vulnerabilities,omitempty"`
	CVEs            []string               `json:"cves,omitempty"`
	Technologies    []string               `json:"technologies,omitempty"`

	// Bookkeeping
	ToolsRun        []string  `json:"tools_run,omitempty"`
	AuthorizedScope []string  `json:"authorized_scope,omitempty"`
	OpenTasks       []Subtask `json:"open_tasks,omitempty"`
	CompletedTasks  []string  `json:"completed_tasks,omitempty"`
	ActiveEntities  []string  `json:"active_entities,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// NewAgentContext returns an empty fact store.
func NewAgentContext() *AgentContext {
	return &AgentContext{LastUpdated: nowFunc().UTC()}
}

func (c *AgentContext) touch() {
	c.LastUpdated = nowFunc().UTC()
}

// appendUnique appends v when it is non-empty and not already present
// (case-insensitive). It reports whether v was added.
func appendUnique(list []string, v string) ([]string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return list, false
	}
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list, false
		}
	}
	return append(list, v), true
}

// SetTarget records the verified target domain and makes it the active entity.
func (c *AgentContext) SetTarget(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	c.Domain = domain
	c.Targets, _ = appendUnique(c.Targets, domain)
	c.ActiveEntities, _ = appendUnique(c.ActiveEntities, domain)
	c.touch()
}

// Target returns the primary target: the domain, else the first known target.
func (c *AgentContext) Target() string {
	if c.Domain != "" {
		return c.Domain
	}
	if len(c.Targets) > 0 {
		return c.Targets[0]
	}
	return ""
}

// SetEntityDetails copies resolved identity attributes onto the context.
func (c *AgentContext) SetEntityDetails(legalName, country, asn string, ipRanges []string) {
	if legalName != "" {
		c.LegalName = legalName
	}
	if country != "" {
		c.TargetCountry = country
	}
	if asn != "" {
		c.TargetASN = asn
	}
	for _, r := range ipRanges {
		c.TargetIPRanges, _ = appendUnique(c.TargetIPRanges, r)
	}
	c.touch()
}

// AddSubdomain records a discovered subdomain.
func (c *AgentContext) AddSubdomain(name string) bool {
	var added bool
	c.Subdomains, added = appendUnique(c.Subdomains, strings.ToLower(name))
	return added
}

// AddIP records a discovered IP address.
func (c *AgentContext) AddIP(ip string) bool {
	var added bool
	c.IPs, added = appendUnique(c.IPs, ip)
	return added
}

// AddPort records an open port, deduplicated by host, protocol and number.
// The service name, when present, is also recorded.
func (c *AgentContext) AddPort(p PortFinding) bool {
	if p.Port <= 0 || p.Port > 65535 {
		return false
	}
	if p.Service != "" {
		c.AddService(p.Service)
	}
	k := p.key()
	for _, existing := range c.OpenPorts {
		if existing.key() == k {
			return false
		}
	}
	c.OpenPorts = append(c.OpenPorts, p)
	return true
}

// AddService records a discovered service name.
func (c *AgentContext) AddService(name string) bool {
	var added bool
	c.Services, added = appendUnique(c.Services, strings.ToLower(name))
	return added
}

// AddVulnerability records a vulnerability, deduplicated by type, target and CVE.
func (c *AgentContext) AddVulnerability(v VulnerabilityFinding) bool {
	if v.Type == "" && v.CVE == "" {
		return false
	}
	if v.CVE != "" {
		c.CVEs, _ = appendUnique(c.CVEs, strings.ToUpper(v.CVE))
	}
	k := v.key()
	for _, existing := range c.Vulnerabilities {
		if existing.key() == k {
			return false
		}
	}
	c.Vulnerabilities = append(c.Vulnerabilities, v)
	return true
}

// AddTechnology records a detected technology.
func (c *AgentContext) AddTechnology(name string) bool {
	var added bool
	c.Technologies, added = appendUnique(c.Technologies, name)
	return added
}

// AddToolRun records that a tool has been executed.
func (c *AgentContext) AddToolRun(tool string) {
	c.ToolsRun, _ = appendUnique(c.ToolsRun, tool)
	c.touch()
}

// AddTopics records the security topics mentioned in a prompt.
func (c *AgentContext) AddTopics(topics ...string) {
	for _, t := range topics {
		c.Topics, _ = appendUnique(c.Topics, strings.ToLower(t))
	}
}

// AddActiveEntity records an entity the conversation is currently about.
func (c *AgentContext) AddActiveEntity(entity string) {
	c.ActiveEntities, _ = appendUnique(c.ActiveEntities, entity)
}

// SetScope replaces the mirrored authorized scope list.
func (c *AgentContext) SetScope(scope []string) {
	c.AuthorizedScope = append([]string(nil), scope...)
	c.touch()
}

// AddOpenTask registers a planned subtask as open. Subtasks already open or
// already completed are ignored.
func (c *AgentContext) AddOpenTask(st Subtask) bool {
	for _, id := range c.CompletedTasks {
		if id == st.ID {
			return false
		}
	}
	for _, open := range c.OpenTasks {
		if open.ID == st.ID {
			return false
		}
	}
	if st.Status == "" {
		st.Status = StatusPending
	}
	c.OpenTasks = append(c.OpenTasks, st)
	return true
}

// CompleteTask moves an open task to the completed list.
func (c *AgentContext) CompleteTask(id string) bool {
	for i, open := range c.OpenTasks {
		if open.ID == id {
			c.OpenTasks = append(c.OpenTasks[:i], c.OpenTasks[i+1:]...)
			c.CompletedTasks, _ = appendUnique(c.CompletedTasks, id)
			c.touch()
			return true
		}
	}
	return false
}

// MergeFindings folds a tool's findings into the context and returns how many
// new facts were recorded.
func (c *AgentContext) MergeFindings(f Findings) int {
	added := 0
	count := func(ok bool) {
		if ok {
			added++
		}
	}
	for _, s := range f.Subdomains {
		count(c.AddSubdomain(s))
	}
	for _, ip := range f.IPs {
		count(c.AddIP(ip))
	}
	for _, p := range f.OpenPorts {
		count(c.AddPort(p))
	}
	for _, s := range f.Services {
		count(c.AddService(s))
	}
	for _, v := range f.Vulnerabilities {
		count(c.AddVulnerability(v))
	}
	for _, t := range f.Technologies {
		count(c.AddTechnology(t))
	}
	if added > 0 {
		c.touch()
	}
	return added
}

// Clone returns a deep copy suitable for persistence snapshots.
func (c *AgentContext) Clone() AgentContext {
	out := *c
	out.Targets = append([]string(nil), c.Targets...)
	out.TargetIPRanges = append([]string(nil), c.TargetIPRanges...)
	out.Subdomains = append([]string(nil), c.Subdomains...)
	out.IPs = append([]string(nil), c.IPs...)
	out.OpenPorts = append([]PortFinding(nil), c.OpenPorts...)
	out.Services = append([]string(nil), c.Services...)
	out.Vulnerabilities = append([]VulnerabilityFinding(nil), c.Vulnerabilities...)
	out.CVEs = append([]string(nil), c.CVEs...)
	out.Technologies = append([]string(nil), c.Technologies...)
	out.ToolsRun = append([]string(nil), c.ToolsRun...)
	out.AuthorizedScope = append([]string(nil), c.AuthorizedScope...)
	out.OpenTasks = nil
	for _, st := range c.OpenTasks {
		st.RequiredTools = append([]string(nil), st.RequiredTools...)
		st.Dependencies = append([]string(nil), st.Dependencies...)
		out.OpenTasks = append(out.OpenTasks, st)
	}
	out.CompletedTasks = append([]string(nil), c.CompletedTasks...)
	out.ActiveEntities = append([]string(nil), c.ActiveEntities...)
	out.Topics = append([]string(nil), c.Topics...)
	return out
}

// HasFindings reports whether any reconnaissance or scanning fact is known.
func (c *AgentContext) HasFindings() bool {
	return len(c.Subdomains) > 0 || len(c.IPs) > 0 || len(c.OpenPorts) > 0 ||
		len(c.Services) > 0 || len(c.Vulnerabilities) > 0 || len(c.Technologies) > 0
}

// Facts renders the discovered facts as plain text, one fact kind per line.
// It returns "" when nothing has been discovered.
func (c *AgentContext) Facts() string {
	if !c.HasFindings() {
		return ""
	}
	var b strings.Builder
	line := func(label string, items []string) {
		if len(items) > 0 {
			b.WriteString(label + ": " + strings.Join(items, ", ") + "\n")
		}
	}
	if c.Domain != "" {
		b.WriteString("Target: " + c.Domain + "\n")
	}
	line("Subdomains", c.Subdomains)
	line("IP addresses", c.IPs)
	if len(c.OpenPorts) > 0 {
		ports := make([]string, 0, len(c.OpenPorts))
		for _, p := range c.OpenPorts {
			host := p.Host
			if host == "" {
				host = p.IP
			}
			port := strconv.Itoa(p.Port)
			if host != "" {
				port = host + ":" + port
			}
			ports = append(ports, port)
		}
		line("Open ports", ports)
	}
	line("Services", c.Services)
	line("Technologies", c.Technologies)
	if len(c.Vulnerabilities) > 0 {
		vulns := make([]string, 0, len(c.Vulnerabilities))
		for _, v := range c.Vulnerabilities {
			s := v.Type
			if v.CVE != "" {
				s += " (" + v.CVE + ")"
			}
			vulns = append(vulns, s)
		}
		line("Vulnerabilities", vulns)
	}
	line("Tools run", c.ToolsRun)
	return strings.TrimRight(b.String(), "\n")
}
