// File: internal/resolver/candidates.go
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
)

const (
	sourceHistory  = "conversation_history"
	sourceVerified = "verified_targets_db"
	sourceExplicit = "explicit"
	sourceSearch   = "web_search"
	sourceSelected = "user_selection"
	sourceConfirm  = "user_confirmation"

	historyConfidence   = 0.6
	historyPerMessage   = 3
	historyContextChars = 200
	verifiedSearchLimit = 100
)

// historyCandidates pulls domains mentioned in recent messages.
func historyCandidates(history []schemas.Message) []schemas.EntityCandidate {
	var out []schemas.EntityCandidate
	for _, msg := range history {
		for _, d := range firstN(domainsIn(msg.Content), historyPerMessage) {
			out = append(out, schemas.EntityCandidate{
				Domain:     d,
				Source:     sourceHistory,
				Confidence: historyConfidence,
				Context:    truncateRunes(msg.Content, historyContextChars),
			})
		}
	}
	return out
}

// promptStopWords are dropped before prompt words are matched against
// verified targets.
var promptStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "their": true, "them": true, "they": true,
	"our": true, "its": true, "with": true, "from": true, "this": true, "that": true,
	"company": true, "organization": true, "website": true, "domain": true, "please": true,
	"now": true, "run": true, "check": true, "again": true, "all": true, "can": true,
	"you": true, "assess": true, "scan": true, "pentest": true, "recon": true,
	"enumerate": true, "find": true, "test": true, "hack": true, "attack": true,
	"exploit": true, "osint": true, "gather": true, "information": true, "ports": true,
	"open": true, "subdomains": true, "vulnerabilities": true, "security": true,
}

var promptWordRegex = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)

// significantWords returns the distinct prompt words worth matching against
// domain labels.
func significantWords(prompt string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range promptWordRegex.FindAllString(strings.ToLower(prompt), -1) {
		if len(w) < 3 || promptStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// verifiedCandidates fuzzy matches the company name against targets verified
// in earlier conversations. Without a company name the prompt's significant
// words are matched instead.
func (r *Resolver) verifiedCandidates(ctx context.Context, company, prompt string) ([]schemas.EntityCandidate, error) {
	if r.store == nil {
		return nil, nil
	}
	names := []string{strings.ToLower(strings.TrimSpace(company))}
	if names[0] == "" {
		names = significantWords(prompt)
	}
	if len(names) == 0 {
		return nil, nil
	}
	targets, err := r.store.ListVerifiedTargets(ctx, verifiedSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified targets: %w", err)
	}

	var out []schemas.EntityCandidate
	for _, t := range targets {
		domain := strings.ToLower(t.Domain)
		label := domainLabel(domain)
		if label == "" {
			continue
		}
		best := 0.0
		for _, name := range names {
			if !strings.Contains(domain, name) && !strings.Contains(name, label) {
				continue
			}
			if ratio := llmutil.Ratio(name, label); ratio > best {
				best = ratio
			}
		}
		if best <= r.cfg.FuzzyMatchThreshold {
			continue
		}
		out = append(out, schemas.EntityCandidate{
			Domain:         domain,
			Source:         sourceVerified,
			Confidence:     best * 0.8,
			ConversationID: t.ConversationID,
		})
	}
	return out, nil
}

// lookupCandidates merges history and verified-target candidates, keeping
// the best per target.
func (r *Resolver) lookupCandidates(ctx context.Context, history []schemas.Message, company, prompt string) []schemas.EntityCandidate {
	candidates := historyCandidates(history)
	verified, err := r.verifiedCandidates(ctx, company, prompt)
	if err != nil {
		r.logger.Warn("Verified target lookup failed.", zap.Error(err))
	}
	candidates = append(candidates, verified...)
	return dedupeCandidates(candidates, r.cfg.MaxCandidates)
}

// dedupeCandidates keeps the highest-confidence candidate per normalized
// target, sorted by descending confidence and truncated to limit. Hosts under
// the same registrable domain stay distinct.
func dedupeCandidates(candidates []schemas.EntityCandidate, limit int) []schemas.EntityCandidate {
	best := make(map[string]int)
	var out []schemas.EntityCandidate
	for _, c := range candidates {
		key := authz.NormalizeTarget(c.Domain)
		if i, ok := best[key]; ok {
			if c.Confidence > out[i].Confidence {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// domainLabel is the leftmost label of the registrable domain ("acme" for
// "www.acme.co.za").
func domainLabel(domain string) string {
	root := RegistrableDomain(domain)
	if i := strings.Index(root, "."); i > 0 {
		return root[:i]
	}
	return root
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
