// File: internal/synth/composer.go
package synth

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// Input is what a Composer builds an answer from. Evidence is never empty.
type Input struct {
	Prompt   string
	Target   string
	Evidence Evidence
	History  []schemas.Message
}

// Composed is a composer's answer.
type Composed struct {
	Text        string
	Source      Source
	ModelCalled bool
}

// Composer renders non-empty evidence into an answer.
type Composer interface {
	Compose(ctx context.Context, in Input) Composed
}

// NewComposer selects the composer named by the configuration. A nil client
// always yields the digest composer.
func NewComposer(cfg config.SynthesisConfig, client schemas.LLMClient, logger *zap.Logger) Composer {
	digest := NewDigestComposer(cfg)
	if cfg.Composer == config.ComposerDigest || client == nil {
		return digest
	}
	return NewLLMComposer(client, cfg, digest, logger)
}

// -- LLM Composer --

const synthesisSystemPrompt = `You are the answer synthesis component of an authorized security testing assistant.
Answer the user's question using ONLY the evidence provided below.
- Do not invent hosts, ports, vulnerabilities or versions that are not in the evidence.
- If the evidence does not answer part of the question, say so plainly.
- Summarize findings first, then recommend concrete next steps.
- Use short paragraphs and bullet lists. Do not output JSON.`

// LLMComposer asks the reasoning backend to write the answer. It falls back to
// another composer when the backend fails or returns nothing.
type LLMComposer struct {
	client   schemas.LLMClient
	fallback Composer
	maxChars int
	logger   *zap.Logger
}

var _ Composer = (*LLMComposer)(nil)

// NewLLMComposer creates an LLMComposer. fallback may be nil.
func NewLLMComposer(client schemas.LLMClient, cfg config.SynthesisConfig, fallback Composer, logger *zap.Logger) *LLMComposer {
	return &LLMComposer{
		client:   client,
		fallback: fallback,
		maxChars: cfg.MaxEvidenceChars,
		logger:   logger.Named("llm_composer"),
	}
}

func (c *LLMComposer) Compose(ctx context.Context, in Input) Composed {
	text, err := c.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: synthesisSystemPrompt,
		UserPrompt:   c.userPrompt(in),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2},
	})
	text = strings.TrimSpace(text)
	if err == nil && text != "" {
		return Composed{Text: text, Source: SourceSynthesized, ModelCalled: true}
	}
	if err == nil {
		err = fmt.Errorf("empty synthesis response")
	}
	c.logger.Warn("Synthesis backend failed, rendering evidence digest.", zap.Error(err))
	if c.fallback == nil {
		return Composed{Text: InsufficientEvidenceMessage, Source: SourceRefusal, ModelCalled: true}
	}
	out := c.fallback.Compose(ctx, in)
	out.ModelCalled = true
	return out
}

// evidencePayload is the JSON view of evidence handed to the backend.
type evidencePayload struct {
	ToolResults      []toolEvidence           `json:"tool_results,omitempty"`
	SearchResults    []schemas.SearchResponse `json:"search_results,omitempty"`
	Knowledge        []string                 `json:"knowledge_results,omitempty"`
	RetrievedContext string                   `json:"retrieved_context,omitempty"`
	DirectAnswer     string                   `json:"direct_answer,omitempty"`
}

type toolEvidence struct {
	Tool     string           `json:"tool"`
	Target   string           `json:"target,omitempty"`
	Success  bool             `json:"success"`
	Findings schemas.Findings `json:"findings"`
	Output   string           `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (c *LLMComposer) userPrompt(in Input) string {
	payload := evidencePayload{
		SearchResults:    in.Evidence.SuccessfulSearches(),
		Knowledge:        in.Evidence.Knowledge,
		RetrievedContext: in.Evidence.RetrievedContext,
		DirectAnswer:     in.Evidence.DirectAnswer,
	}
	for _, r := range in.Evidence.ToolResults {
		payload.ToolResults = append(payload.ToolResults, toolEvidence{
			Tool:     r.ToolName,
			Target:   r.Target,
			Success:  r.Success,
			Findings: r.Findings,
			Output:   r.Output,
			Error:    r.Error,
		})
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		raw = []byte(Digest(in, c.maxChars))
	}
	evidence := truncate(string(raw), c.maxChars)

	var b strings.Builder
	if len(in.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range in.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Content, 500))
		}
		b.WriteString("\n")
	}
	if in.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", in.Target)
	}
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n%s\n", in.Prompt, evidence)
	return b.String()
}

// -- Digest Composer --

// DigestComposer renders the evidence as a structured summary without a model.
type DigestComposer struct {
	maxOutputChars int
}

var _ Composer = (*DigestComposer)(nil)

func NewDigestComposer(cfg config.SynthesisConfig) *DigestComposer {
	return &DigestComposer{maxOutputChars: cfg.MaxOutputChars}
}

func (d *DigestComposer) Compose(_ context.Context, in Input) Composed {
	return Composed{Text: Digest(in, d.maxOutputChars), Source: SourceDigest}
}

// Digest renders evidence as plain text. maxOutput bounds the raw output
// excerpt shown for results without structured findings.
func Digest(in Input, maxOutput int) string {
	var b strings.Builder
	ev := in.Evidence

	if ev.DirectAnswer != "" {
		b.WriteString(strings.TrimSpace(ev.DirectAnswer))
		b.WriteString("\n\n")
	}

	if len(ev.ToolResults) > 0 {
		if in.Target != "" {
			fmt.Fprintf(&b, "Tool results for %s:\n", in.Target)
		} else {
			b.WriteString("Tool results:\n")
		}
		for _, r := range ev.ToolResults {
			writeToolResult(&b, r, maxOutput)
		}
		if merged := mergeFindings(ev.ToolResults); !merged.IsEmpty() {
			b.WriteString("\nCombined findings:\n")
			writeFindings(&b, merged, "  ")
		}
		b.WriteString("\n")
	}

	if searches := ev.SuccessfulSearches(); len(searches) > 0 {
		b.WriteString("Web search results:\n")
		for _, s := range searches {
			for _, hit := range s.Results {
				fmt.Fprintf(&b, "- %s (%s)", hit.Title, hit.URL)
				if hit.Snippet != "" {
					fmt.Fprintf(&b, ": %s", truncate(hit.Snippet, 200))
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if len(ev.Knowledge) > 0 {
		b.WriteString("Knowledge base:\n")
		for _, k := range ev.Knowledge {
			fmt.Fprintf(&b, "- %s\n", k)
		}
		b.WriteString("\n")
	}

	if ctx := strings.TrimSpace(ev.RetrievedContext); ctx != "" {
		b.WriteString("Known context:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func writeToolResult(b *strings.Builder, r schemas.ToolResult, maxOutput int) {
	status := "succeeded"
	if !r.Success {
		status = "failed"
	}
	fmt.Fprintf(b, "- %s", r.ToolName)
	if r.Target != "" {
		fmt.Fprintf(b, " on %s", r.Target)
	}
	fmt.Fprintf(b, " %s", status)
	switch {
	case !r.Success && r.Error != "":
		fmt.Fprintf(b, ": %s\n", r.Error)
	case !r.Findings.IsEmpty():
		fmt.Fprintf(b, " with %d finding(s)\n", r.Findings.Count())
	case strings.TrimSpace(r.Output) != "" && maxOutput > 0:
		fmt.Fprintf(b, ":\n%s\n", indent(truncate(strings.TrimSpace(r.Output), maxOutput), "    "))
	default:
		b.WriteString("\n")
	}
}

func mergeFindings(results []schemas.ToolResult) schemas.Findings {
	var ac schemas.AgentContext
	for _, r := range results {
		if r.Success {
			ac.MergeFindings(r.Findings)
		}
	}
	return schemas.Findings{
		Subdomains:      ac.Subdomains,
		IPs:             ac.IPs,
		OpenPorts:       ac.OpenPorts,
		Services:        ac.Services,
		Vulnerabilities: ac.Vulnerabilities,
		Technologies:    ac.Technologies,
	}
}

func writeFindings(b *strings.Builder, f schemas.Findings, prefix string) {
	list := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		sorted := append([]string(nil), items...)
		sort.Strings(sorted)
		fmt.Fprintf(b, "%s%s: %s\n", prefix, label, strings.Join(sorted, ", "))
	}
	list("Subdomains", f.Subdomains)
	list("IP addresses", f.IPs)
	if len(f.OpenPorts) > 0 {
		ports := make([]string, 0, len(f.OpenPorts))
		for _, p := range f.OpenPorts {
			host := p.Host
			if host == "" {
				host = p.IP
			}
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			s := strconv.Itoa(p.Port) + "/" + proto
			if host != "" {
				s = host + ":" + s
			}
			if p.Service != "" {
				s += " (" + p.Service + ")"
			}
			ports = append(ports, s)
		}
		fmt.Fprintf(b, "%sOpen ports: %s\n", prefix, strings.Join(ports, ", "))
	}
	list("Services", f.Services)
	list("Technologies", f.Technologies)
	for _, v := range f.Vulnerabilities {
		line := v.Type
		if v.CVE != "" {
			line += " " + v.CVE
		}
		if v.Severity != "" {
			line += " [" + string(v.Severity) + "]"
		}
		if v.Target != "" {
			line += " on " + v.Target
		}
		fmt.Fprintf(b, "%sVulnerability: %s\n", prefix, line)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
