// File: internal/authz/scope.go
package authz

import (
	"net/netip"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// NormalizeTarget reduces a domain, URL, host:port, IP or CIDR to the form
// used for scope comparison: lowercase, no scheme, credentials, path, query
// or port, IDNs in their ASCII form. CIDR prefixes are kept and masked.
func NormalizeTarget(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return ""
	}
	if i := strings.Index(t, "://"); i >= 0 {
		t = t[i+3:]
	}
	t = strings.TrimPrefix(t, "//")

	if prefix, err := netip.ParsePrefix(t); err == nil {
		return prefix.Masked().String()
	}

	if i := strings.IndexAny(t, "/?#"); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndex(t, "@"); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimRight(stripPort(t), ".")
	for strings.HasPrefix(t, "*.") {
		t = t[2:]
	}

	if !isASCII(t) {
		if ascii, err := idna.Lookup.ToASCII(t); err == nil {
			t = ascii
		}
	}
	return strings.TrimSpace(t)
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host // bare IPv6 contains colons but no port
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && strings.Count(host, ":") == 1 {
		if port := host[i+1:]; port != "" && isDigits(port) {
			return host[:i]
		}
	}
	return host
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// MatchesScope reports whether a normalized target falls under a normalized
// scope entry: exact match, subdomain of the entry, equal IP, or IP inside
// the entry's CIDR.
func MatchesScope(target, entry string) bool {
	if target == "" || entry == "" {
		return false
	}
	if target == entry || strings.HasSuffix(target, "."+entry) {
		return true
	}
	addr, err := netip.ParseAddr(target)
	if err != nil {
		return false
	}
	if scopeAddr, err := netip.ParseAddr(entry); err == nil {
		return addr.Unmap() == scopeAddr.Unmap()
	}
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix.Contains(addr.Unmap())
	}
	return false
}

// ScopeManager holds the authorized scope of every conversation. An empty
// scope authorizes nothing.
type ScopeManager struct {
	mu     sync.RWMutex
	scopes map[string][]string
}

// NewScopeManager creates an empty scope manager.
func NewScopeManager() *ScopeManager {
	return &ScopeManager{scopes: make(map[string][]string)}
}

// AddToScope authorizes target for the conversation. It returns false when
// the target is empty or already present.
func (s *ScopeManager) AddToScope(conversationID, target string) bool {
	norm := NormalizeTarget(target)
	if norm == "" || conversationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.scopes[conversationID] {
		if existing == norm {
			return false
		}
	}
	s.scopes[conversationID] = append(s.scopes[conversationID], norm)
	return true
}

// RemoveFromScope revokes an exact scope entry.
func (s *ScopeManager) RemoveFromScope(conversationID, target string) bool {
	norm := NormalizeTarget(target)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.scopes[conversationID]
	for i, existing := range entries {
		if existing == norm {
			s.scopes[conversationID] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Scope returns a copy of the conversation's scope entries.
func (s *ScopeManager) Scope(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.scopes[conversationID]...)
}

// SetScope replaces the conversation's scope, e.g. when restoring a snapshot.
func (s *ScopeManager) SetScope(conversationID string, entries []string) {
	var norm []string
	seen := make(map[string]bool)
	for _, e := range entries {
		n := NormalizeTarget(e)
		if n != "" && !seen[n] {
			seen[n] = true
			norm = append(norm, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[conversationID] = norm
}

// Clear drops the conversation's scope.
func (s *ScopeManager) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, conversationID)
}

// IsTargetAuthorized reports whether target is covered by the conversation's
// scope. It fails closed for an empty conversation ID or an empty scope.
func (s *ScopeManager) IsTargetAuthorized(conversationID, target string) bool {
	if conversationID == "" {
		return false
	}
	norm := NormalizeTarget(target)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.scopes[conversationID] {
		if MatchesScope(norm, entry) {
			return true
		}
	}
	return false
}
