// File: internal/tools/findings.go
package tools

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
)

var (
	ipv4Regex = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	// nmap style "80/tcp open http Apache httpd 2.4.41"
	openPortRegex = regexp.MustCompile(`(?m)^[ \t]*(\d{1,5})/(tcp|udp)[ \t]+open[ \t]*(\S*)[ \t]*(.*)$`)
	cveRegex      = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`)
)

// ExtractFindings pulls generic facts out of raw tool output: hostnames under
// the target domain, IPv4 addresses, open ports and CVE identifiers. No tool
// specific parsing is done.
func ExtractFindings(output, target string) schemas.Findings {
	var f schemas.Findings
	seen := make(map[string]bool)
	add := func(list *[]string, v string) {
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			return
		}
		seen[k] = true
		*list = append(*list, v)
	}

	host := authz.NormalizeTarget(target)
	if _, err := netip.ParseAddr(host); err != nil && strings.Contains(host, ".") {
		sub := regexp.MustCompile(`(?i)\b((?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+` + regexp.QuoteMeta(host) + `)\b`)
		for _, m := range sub.FindAllStringSubmatch(output, -1) {
			add(&f.Subdomains, strings.ToLower(m[1]))
		}
	}

	for _, m := range ipv4Regex.FindAllString(output, -1) {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is4() {
			add(&f.IPs, addr.String())
		}
	}

	for _, m := range openPortRegex.FindAllStringSubmatch(output, -1) {
		port, err := strconv.Atoi(m[1])
		if err != nil || port <= 0 || port > 65535 {
			continue
		}
		p := schemas.PortFinding{Host: host, Port: port, Protocol: m[2], Service: m[3], Version: strings.TrimSpace(m[4])}
		if _, err := netip.ParseAddr(host); err == nil {
			p.IP, p.Host = host, ""
		}
		f.OpenPorts = append(f.OpenPorts, p)
		if p.Service != "" {
			add(&f.Services, strings.ToLower(p.Service))
		}
	}

	for _, m := range cveRegex.FindAllString(output, -1) {
		cve := strings.ToUpper(m)
		if seen[strings.ToLower(cve)] {
			continue
		}
		seen[strings.ToLower(cve)] = true
		f.Vulnerabilities = append(f.Vulnerabilities, schemas.VulnerabilityFinding{
			Type:   "cve",
			Target: host,
			CVE:    cve,
		})
	}
	return f
}
