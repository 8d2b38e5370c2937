// File: internal/synth/synth.go
package synth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// InsufficientEvidenceMessage is returned instead of a synthesized answer when
// a turn gathered no evidence at all.
const InsufficientEvidenceMessage = "I don't have any tool results, web search results, knowledge base entries, or prior context " +
	"for this question. To give a reliable answer, we should first run appropriate tools or a web " +
	"search through the agent pipeline."

const sourceName = "synthesizer"

// Source records how an answer was produced.
type Source string

const (
	SourceDirect      Source = "direct"
	SourceSynthesized Source = "synthesized"
	SourceDigest      Source = "digest"
	SourceRefusal     Source = "refusal"
)

// retrievalKeywords mark prompts that ask about earlier results.
var retrievalKeywords = []string{"show", "list", "what", "found", "result", "previous", "earlier"}

// Evidence is everything a turn gathered that an answer may be built from.
type Evidence struct {
	ToolResults      []schemas.ToolResult
	Search           []schemas.SearchResponse
	Knowledge        []string
	RetrievedContext string
	DirectAnswer     string
	// DirectAnswerSufficient marks DirectAnswer as final; it is returned verbatim.
	DirectAnswerSufficient bool
}

// SuccessfulSearches returns the searches that actually produced hits.
func (e Evidence) SuccessfulSearches() []schemas.SearchResponse {
	var out []schemas.SearchResponse
	for _, r := range e.Search {
		if r.HasResults() {
			out = append(out, r)
		}
	}
	return out
}

// Empty reports whether there is nothing to ground an answer on. Failed or
// empty searches do not count as evidence.
func (e Evidence) Empty() bool {
	return len(e.ToolResults) == 0 &&
		len(e.SuccessfulSearches()) == 0 &&
		len(e.Knowledge) == 0 &&
		strings.TrimSpace(e.RetrievedContext) == "" &&
		strings.TrimSpace(e.DirectAnswer) == ""
}

// Request is the synthesizer input for one turn.
type Request struct {
	ConversationID string
	Prompt         string
	Target         string
	// Recall forces retrieval of stored tool results, as for a memory query.
	Recall   bool
	Evidence Evidence
	History  []schemas.Message
}

// Summary describes the tool results an answer was built from.
type Summary struct {
	Text      string   `json:"summary"`
	Succeeded int      `json:"successful_count"`
	Failed    int      `json:"failed_count"`
	Tools     []string `json:"tools_used"`
}

// Answer is the final response of a turn.
type Answer struct {
	Text        string
	Source      Source
	Summary     *Summary
	ModelCalled bool
	// Evidence is the evidence the answer was built from, including any
	// results retrieved from the store.
	Evidence Evidence
}

// Synthesizer turns gathered evidence into an answer and refuses to answer
// when there is none.
type Synthesizer struct {
	composer Composer
	store    schemas.MemoryStore
	window   int
	logger   *zap.Logger
}

// New creates a Synthesizer. store may be nil, which disables retrieval of
// earlier tool results. window bounds how many stored results are retrieved.
func New(composer Composer, store schemas.MemoryStore, sessionCfg config.SessionConfig, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		composer: composer,
		store:    store,
		window:   sessionCfg.ToolResultWindow,
		logger:   logger.Named("synthesizer"),
	}
}

// Synthesize produces the answer for a turn. The composer is reached only
// when the evidence is non-empty.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request, stream schemas.StreamCallback) Answer {
	ev := req.Evidence

	if len(ev.ToolResults) == 0 && (req.Recall || wantsRetrieval(req.Prompt)) {
		if results := s.retrieve(ctx, req.ConversationID); len(results) > 0 {
			ev.ToolResults = results
			stream.Emit(schemas.EventStatus, sourceName, fmt.Sprintf("Retrieved %d earlier tool result(s) from memory.", len(results)))
		}
	}

	var summary *Summary
	if len(ev.ToolResults) > 0 {
		summary = summarize(ev.ToolResults)
		stream.Emit(schemas.EventStatus, "result_analyzer", summary.Text)
	}

	if ev.DirectAnswerSufficient && strings.TrimSpace(ev.DirectAnswer) != "" {
		return s.finish(req, Answer{Text: ev.DirectAnswer, Source: SourceDirect, Summary: summary, Evidence: ev})
	}

	if ev.Empty() {
		stream.Emit(schemas.EventStatus, sourceName, InsufficientEvidenceMessage)
		return s.finish(req, Answer{Text: InsufficientEvidenceMessage, Source: SourceRefusal, Evidence: ev})
	}

	composed := s.composer.Compose(ctx, Input{
		Prompt:   req.Prompt,
		Target:   req.Target,
		Evidence: ev,
		History:  req.History,
	})
	return s.finish(req, Answer{
		Text:        composed.Text,
		Source:      composed.Source,
		Summary:     summary,
		ModelCalled: composed.ModelCalled,
		Evidence:    ev,
	})
}

func (s *Synthesizer) finish(req Request, a Answer) Answer {
	s.logger.Info("Answer synthesized.",
		zap.String("conversation_id", req.ConversationID),
		zap.String("source", string(a.Source)),
		zap.Int("tool_results", len(a.Evidence.ToolResults)),
		zap.Bool("model_called", a.ModelCalled))
	return a
}

// retrieve loads earlier tool results for the conversation. A store failure
// is treated as no evidence.
func (s *Synthesizer) retrieve(ctx context.Context, conversationID string) []schemas.ToolResult {
	if s.store == nil || conversationID == "" {
		return nil
	}
	results, err := s.store.RecentToolResults(ctx, conversationID, s.window)
	if err != nil {
		s.logger.Warn("Failed to retrieve earlier tool results.", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return results
}

func wantsRetrieval(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range retrievalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func summarize(results []schemas.ToolResult) *Summary {
	sum := &Summary{Tools: make([]string, 0, len(results))}
	for _, r := range results {
		name := r.ToolName
		if name == "" {
			name = "unknown"
		}
		sum.Tools = append(sum.Tools, name)
		if r.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	sum.Text = fmt.Sprintf("Executed %d tool(s): %s (%d succeeded, %d failed)",
		len(results), strings.Join(sum.Tools, ", "), sum.Succeeded, sum.Failed)
	return sum
}
