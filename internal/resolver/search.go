// File: internal/resolver/search.go
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
)

const extractionResultLimit = 10

// -- Prompts --

const identitySystemPrompt = `You extract the organization a security tester is referring to.
Return only JSON: {"company_name": "...", "location": "..."}. Use empty strings for unknown fields.
Examples:
- "hellogroup from South Africa" -> {"company_name": "hellogroup", "location": "South Africa"}
- "scan acme corp" -> {"company_name": "acme corp", "location": ""}
- "check the target" -> {"company_name": "", "location": ""}`

const querySystemPrompt = `You write web search queries that find the official website and domain of an organization.
Return only JSON: {"queries": ["...", "..."]} with 3 to 5 queries.`

const extractionSystemPrompt = `You extract the identity of an organization from web search results.
Return only JSON: {"legal_name": "", "country": "", "domain": "", "asn": "", "ip_ranges": [], "confidence": 0.0}.
The domain must be the organization's own registrable domain, not a directory or social network.
Confidence is between 0 and 1.`

const validationSystemPrompt = `You cross-check organization identities extracted from different sources.
Check that the domain is unique and that the country agrees with the domain's TLD.
Return only JSON: {"valid": true, "confidence": 0.0, "conflicts": [], "validated_info": {"legal_name": "", "country": "", "domain": "", "asn": "", "ip_ranges": [], "confidence": 0.0}}.`

type identity struct {
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
}

type queryList struct {
	Queries []string `json:"queries"`
}

// extractIdentity asks the fast tier for the company name and location.
func (r *Resolver) extractIdentity(ctx context.Context, prompt, recent string) identity {
	user := fmt.Sprintf("Recent conversation:\n%s\n\nCurrent request:\n%s", recent, prompt)
	parsed, _, err := llmutil.GenerateJSON[identity](ctx, r.llm, schemas.GenerationRequest{
		SystemPrompt: identitySystemPrompt,
		UserPrompt:   user,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1},
	})
	if err != nil {
		r.logger.Debug("Identity extraction failed.", zap.Error(err))
		return identity{}
	}
	return identity{
		CompanyName: strings.TrimSpace(parsed.CompanyName),
		Location:    strings.TrimSpace(parsed.Location),
	}
}

// generateQueries returns between one and MaxQueries search queries, from
// the model when possible and from templates otherwise.
func (r *Resolver) generateQueries(ctx context.Context, prompt string, id identity) []string {
	user := fmt.Sprintf("Request: %s\nCompany: %s\nLocation: %s", prompt, id.CompanyName, id.Location)
	parsed, _, err := llmutil.GenerateJSON[queryList](ctx, r.llm, schemas.GenerationRequest{
		SystemPrompt: querySystemPrompt,
		UserPrompt:   user,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3},
	})

	var queries []string
	if err == nil {
		for _, q := range parsed.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
	} else {
		r.logger.Debug("Query generation failed, using templates.", zap.Error(err))
	}
	if len(queries) == 0 {
		queries = fallbackQueries(prompt, id)
	}
	if r.cfg.MaxQueries > 0 && len(queries) > r.cfg.MaxQueries {
		queries = queries[:r.cfg.MaxQueries]
	}
	return queries
}

func fallbackQueries(prompt string, id identity) []string {
	c, l := id.CompanyName, id.Location
	switch {
	case c != "" && l != "":
		return []string{
			fmt.Sprintf("%s %s official website domain", c, l),
			fmt.Sprintf("%s %s company website", c, l),
			fmt.Sprintf("%s (Pty) Ltd %s", c, l),
		}
	case c != "":
		return []string{
			fmt.Sprintf("%s official website domain", c),
			fmt.Sprintf("%s company website", c),
		}
	default:
		return []string{fmt.Sprintf("%s official website", prompt)}
	}
}

// runSearches executes the queries with bounded concurrency. Results keep
// query order and are deduplicated by URL. The first failure message is
// returned when no query produced results.
func (r *Resolver) runSearches(ctx context.Context, queries []string) ([]schemas.SearchResult, string) {
	responses := make([]schemas.SearchResponse, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.SearchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := r.searcher.Search(gctx, q, r.cfg.ResultsPerQuery)
			if err != nil {
				resp = schemas.SearchResponse{Query: q, Error: err.Error()}
			}
			responses[i] = resp
			// A failed query never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()

	var (
		results  []schemas.SearchResult
		firstErr string
		seen     = make(map[string]bool)
	)
	for _, resp := range responses {
		if !resp.HasResults() {
			if firstErr == "" && resp.Error != "" {
				firstErr = resp.Error
			}
			continue
		}
		for _, res := range resp.Results {
			if res.URL != "" && seen[res.URL] {
				continue
			}
			seen[res.URL] = true
			results = append(results, res)
		}
	}
	if len(results) > 0 {
		firstErr = ""
	}
	r.logger.Debug("Search fan-out finished.", zap.Int("queries", len(queries)), zap.Int("results", len(results)))
	return results, firstErr
}

// extractEntity turns search results into an EntityInfo, falling back to the
// first well-formed result URL at low confidence.
func (r *Resolver) extractEntity(ctx context.Context, results []schemas.SearchResult, id identity) schemas.EntityInfo {
	if len(results) > extractionResultLimit {
		results = results[:extractionResultLimit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nLocation: %s\n\n", id.CompanyName, id.Location)
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d:\nTitle: %s\nSnippet: %s\nLink: %s\n\n", i+1, res.Title, res.Snippet, res.URL)
	}

	parsed, _, err := llmutil.GenerateJSON[schemas.EntityInfo](ctx, r.llm, schemas.GenerationRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.1},
	})
	if err == nil {
		info := parsed.Clamp()
		info.Domain = strings.ToLower(strings.TrimSpace(info.Domain))
		return info
	}
	r.logger.Debug("Entity extraction failed, using first result link.", zap.Error(err))
	return fallbackEntity(results, id)
}

func fallbackEntity(results []schemas.SearchResult, id identity) schemas.EntityInfo {
	info := schemas.EntityInfo{LegalName: id.CompanyName, Country: id.Location, Confidence: 0.3}
	for _, res := range results {
		u, err := url.Parse(res.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if len(host) > 3 {
			info.Domain = host
			return info
		}
	}
	return info
}

// crossCheck validates extracted entities, falling back to a local
// consistency check when the model is unavailable.
func (r *Resolver) crossCheck(ctx context.Context, infos []schemas.EntityInfo) schemas.ValidationResult {
	if len(infos) == 0 {
		return schemas.FailedValidation("No entity information to validate")
	}

	var b strings.Builder
	for i, info := range infos {
		fmt.Fprintf(&b, "Source %d: legal_name=%q country=%q domain=%q asn=%q ip_ranges=%v confidence=%.2f\n",
			i+1, info.LegalName, info.Country, info.Domain, info.ASN, info.IPRanges, info.Confidence)
	}
	parsed, _, err := llmutil.GenerateJSON[schemas.ValidationResult](ctx, r.llm, schemas.GenerationRequest{
		SystemPrompt: validationSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.1},
	})
	if err == nil {
		return *parsed
	}
	r.logger.Debug("Cross-check failed, using local consistency check.", zap.Error(err))
	return localCrossCheck(infos)
}

func localCrossCheck(infos []schemas.EntityInfo) schemas.ValidationResult {
	best := infos[0]
	domains := make(map[string]bool)
	countries := make(map[string]bool)
	for _, info := range infos {
		if info.Confidence > best.Confidence {
			best = info
		}
		if info.Domain != "" {
			domains[strings.ToLower(info.Domain)] = true
		}
		if info.Country != "" {
			countries[strings.ToLower(info.Country)] = true
		}
	}

	var conflicts []string
	if len(domains) > 1 {
		conflicts = append(conflicts, "Multiple different domains found")
	}
	if len(countries) > 1 {
		conflicts = append(conflicts, "Multiple different countries found")
	}
	return schemas.ValidationResult{
		Valid:         len(conflicts) == 0,
		Confidence:    best.Confidence,
		Conflicts:     conflicts,
		ValidatedInfo: &best,
	}
}
