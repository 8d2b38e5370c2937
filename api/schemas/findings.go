package schemas

import (
	"strconv"
	"strings"
)

// Severity represents the assessed impact of a vulnerability.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "info"
)

// PortFinding is an open port observed on a host.
type PortFinding struct {
	Host        string `json:"host,omitempty"`
	IP          string `json:"ip,omitempty"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol,omitempty"`
	Service     string `json:"service,omitempty"`
	Version     string `json:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// key identifies a port finding for deduplication.
func (p PortFinding) key() string {
	host := p.Host
	if host == "" {
		host = p.IP
	}
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return strings.ToLower(host) + "|" + proto + "|" + strconv.Itoa(p.Port)
}

// VulnerabilityFinding is a vulnerability reported by a tool.
type VulnerabilityFinding struct {
	Type     string   `json:"type"`
	Target   string   `json:"target,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	CVE      string   `json:"cve,omitempty"`
	Details  string   `json:"details,omitempty"`
}

func (v VulnerabilityFinding) key() string {
	return strings.ToLower(v.Type + "|" + v.Target + "|" + v.CVE)
}

// Findings are the structured facts extracted from a tool result.
type Findings struct {
	Subdomains      []string               `json:"subdomains,omitempty"`
	IPs             []string               `json:"ips,omitempty"`
	OpenPorts       []PortFinding          `json:"open_ports,omitempty"`
	Services        []string               `json:"services,omitempty"`
	Vulnerabilities []VulnerabilityFinding `json:"vulnerabilities,omitempty"`
	Technologies    []string               `json:"technologies,omitempty"`
}

// IsEmpty reports whether no facts were extracted.
func (f Findings) IsEmpty() bool {
	return len(f.Subdomains) == 0 && len(f.IPs) == 0 && len(f.OpenPorts) == 0 &&
		len(f.Services) == 0 && len(f.Vulnerabilities) == 0 && len(f.Technologies) == 0
}

// Count returns the total number of extracted facts.
func (f Findings) Count() int {
	return len(f.Subdomains) + len(f.IPs) + len(f.OpenPorts) + len(f.Services) +
		len(f.Vulnerabilities) + len(f.Technologies)
}
