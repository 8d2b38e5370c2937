// File: internal/resolver/targets.go
package resolver

import (
	"net/netip"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
)

var (
	urlRegex    = regexp.MustCompile(`(?i)\bhttps?://[^\s'"<>]+`)
	ipRegex     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?:/\d{1,2})?\b`)
	domainRegex = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}\b`)

	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ExplicitTargets returns the targets named literally in text, in order of
// appearance: URLs, IPv4 addresses or CIDRs, and hostnames under an ICANN
// public suffix. Results are normalized and deduplicated.
func ExplicitTargets(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = authz.NormalizeTarget(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	remaining := text
	for _, u := range urlRegex.FindAllString(text, -1) {
		add(strings.TrimRight(u, ".,;:)!?"))
		remaining = strings.Replace(remaining, u, " ", 1)
	}
	for _, ip := range ipRegex.FindAllString(remaining, -1) {
		if isIPOrPrefix(ip) {
			add(ip)
		}
		remaining = strings.Replace(remaining, ip, " ", 1)
	}
	for _, d := range domainRegex.FindAllString(remaining, -1) {
		if IsRegistrableHost(d) {
			add(d)
		}
	}
	return out
}

// IsRegistrableHost reports whether host sits under an ICANN public suffix
// and is not itself a suffix ("example.co.za" yes, "co.za" and "notes.txt" no).
func IsRegistrableHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !strings.Contains(host, ".") {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann || suffix == host {
		return false
	}
	_, err := publicsuffix.EffectiveTLDPlusOne(host)
	return err == nil
}

// RegistrableDomain returns the eTLD+1 of host, or host unchanged when it has none.
func RegistrableDomain(host string) string {
	if root, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host)); err == nil {
		return root
	}
	return strings.ToLower(host)
}

func isIPOrPrefix(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// SuggestedDomain returns the first registrable hostname mentioned in an
// assistant message.
func SuggestedDomain(message string) string {
	if ds := domainsIn(message); len(ds) > 0 {
		return ds[0]
	}
	return ""
}

// domainsIn returns the registrable hostnames in text, lowercased and in
// order. The illustrative hosts of the clarification template are ignored.
func domainsIn(text string) []string {
	text = strings.ReplaceAll(text, alternativesBlock, "")
	var out []string
	seen := make(map[string]bool)
	for _, m := range domainRegex.FindAllString(text, -1) {
		d := strings.ToLower(m)
		if seen[d] || !IsRegistrableHost(d) {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// -- Normalization --

// vocabulary is the set of request words typo correction snaps to.
var vocabulary = []string{
	"assess", "assessment", "subdomain", "subdomains", "enumerate", "enumeration",
	"reconnaissance", "vulnerability", "vulnerabilities", "pentest", "penetration",
	"exploit", "discover", "analyze", "whois", "nmap", "scan", "ports", "target",
	"company", "domain", "website", "certificate",
}

const typoScoreThreshold = 85

// Normalize collapses whitespace and corrects near-miss spellings of request
// vocabulary ("subdomian" becomes "subdomain"). Hostnames, URLs and short
// words are left alone.
func Normalize(prompt string) string {
	prompt = strings.TrimSpace(whitespaceRegex.ReplaceAllString(prompt, " "))
	if prompt == "" {
		return prompt
	}

	words := strings.Split(prompt, " ")
	for i, w := range words {
		if len(w) < 4 || strings.ContainsAny(w, "./:@0123456789") {
			continue
		}
		lower := strings.ToLower(w)
		best, bestScore := "", 0
		for _, v := range vocabulary {
			if v == lower {
				best = ""
				break
			}
			if v[0] != lower[0] || strings.HasPrefix(lower, v) || strings.HasPrefix(v, lower) {
				continue
			}
			if s := llmutil.Score(lower, v); s > bestScore {
				best, bestScore = v, s
			}
		}
		if best != "" && bestScore >= typoScoreThreshold {
			words[i] = best
		}
	}
	return strings.Join(words, " ")
}
