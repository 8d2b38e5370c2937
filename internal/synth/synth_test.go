// File: internal/synth/synth_test.go
package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/mocks"
)

type event struct {
	kind    schemas.EventKind
	source  string
	payload any
}

func recorder() (*[]event, schemas.StreamCallback) {
	var events []event
	return &events, func(kind schemas.EventKind, source string, payload any) {
		events = append(events, event{kind, source, payload})
	}
}

func newSynth(t *testing.T, client schemas.LLMClient, store schemas.MemoryStore) *Synthesizer {
	t.Helper()
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)
	return New(NewComposer(cfg.Synthesis(), client, logger), store, cfg.Session(), logger)
}

func nmapResult(success bool) schemas.ToolResult {
	r := schemas.ToolResult{ToolName: "nmap_scan", Target: "acme.com", Success: success}
	if success {
		r.Findings = schemas.Findings{OpenPorts: []schemas.PortFinding{{Host: "acme.com", Port: 443, Protocol: "tcp", Service: "https"}}}
	} else {
		r.Error = "timed out"
	}
	return r
}

func TestSynthesize_NoEvidenceRefusesWithoutModel(t *testing.T) {
	client := new(mocks.MockLLMClient)
	s := newSynth(t, client, nil)
	events, stream := recorder()

	ans := s.Synthesize(context.Background(), Request{
		ConversationID: "c1",
		Prompt:         "is acme.com vulnerable to log4shell?",
		Evidence: Evidence{
			Search: []schemas.SearchResponse{
				{Success: false, Query: "acme log4shell", Error: "backend down"},
				{Success: true, Query: "acme log4shell"},
			},
		},
	}, stream)

	assert.Equal(t, InsufficientEvidenceMessage, ans.Text)
	assert.Equal(t, SourceRefusal, ans.Source)
	assert.False(t, ans.ModelCalled)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	require.NotEmpty(t, *events)
	assert.Equal(t, InsufficientEvidenceMessage, (*events)[len(*events)-1].payload)
}

func TestSynthesize_SufficientDirectAnswerIsVerbatim(t *testing.T) {
	client := new(mocks.MockLLMClient)
	s := newSynth(t, client, nil)

	ans := s.Synthesize(context.Background(), Request{
		Prompt: "what is a SYN scan?",
		Evidence: Evidence{
			DirectAnswer:           "A SYN scan sends SYN packets and never completes the handshake.",
			DirectAnswerSufficient: true,
		},
	}, nil)

	assert.Equal(t, "A SYN scan sends SYN packets and never completes the handshake.", ans.Text)
	assert.Equal(t, SourceDirect, ans.Source)
	assert.False(t, ans.ModelCalled)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSynthesize_ComposesFromToolResults(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful && !req.Options.ForceJSONFormat &&
			containsAll(req.UserPrompt, "Question: which ports are open?", "nmap_scan", "443")
	})).Return("Port 443 (https) is open on acme.com.", nil).Once()
	s := newSynth(t, client, nil)
	events, stream := recorder()

	ans := s.Synthesize(context.Background(), Request{
		ConversationID: "c1",
		Prompt:         "which ports are open?",
		Target:         "acme.com",
		Evidence:       Evidence{ToolResults: []schemas.ToolResult{nmapResult(true), nmapResult(false)}},
	}, stream)

	assert.Equal(t, "Port 443 (https) is open on acme.com.", ans.Text)
	assert.Equal(t, SourceSynthesized, ans.Source)
	assert.True(t, ans.ModelCalled)
	require.NotNil(t, ans.Summary)
	assert.Equal(t, "Executed 2 tool(s): nmap_scan, nmap_scan (1 succeeded, 1 failed)", ans.Summary.Text)
	assert.Equal(t, 1, ans.Summary.Succeeded)
	assert.Equal(t, 1, ans.Summary.Failed)
	assert.Contains(t, *events, event{schemas.EventStatus, "result_analyzer", ans.Summary.Text})
	client.AssertExpectations(t)
}

func TestSynthesize_BackendFailureFallsBackToDigest(t *testing.T) {
	client := new(mocks.MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded")).Once()
	s := newSynth(t, client, nil)

	ans := s.Synthesize(context.Background(), Request{
		Prompt:   "summarize the scan",
		Target:   "acme.com",
		Evidence: Evidence{ToolResults: []schemas.ToolResult{nmapResult(true)}},
	}, nil)

	assert.Equal(t, SourceDigest, ans.Source)
	assert.True(t, ans.ModelCalled)
	assert.Contains(t, ans.Text, "Tool results for acme.com:")
	assert.Contains(t, ans.Text, "- nmap_scan on acme.com succeeded with 1 finding(s)")
	assert.Contains(t, ans.Text, "Open ports: acme.com:443/tcp (https)")
	client.AssertExpectations(t)
}

func TestSynthesize_RetrievesEarlierResults(t *testing.T) {
	store := new(mocks.MockMemoryStore)
	store.On("RecentToolResults", mock.Anything, "c1", 20).Return([]schemas.ToolResult{nmapResult(true)}, nil).Once()
	s := newSynth(t, nil, store)
	events, stream := recorder()

	ans := s.Synthesize(context.Background(), Request{
		ConversationID: "c1",
		Prompt:         "show me the previous results",
	}, stream)

	assert.Equal(t, SourceDigest, ans.Source)
	assert.False(t, ans.ModelCalled)
	require.Len(t, ans.Evidence.ToolResults, 1)
	assert.Contains(t, *events, event{schemas.EventStatus, sourceName, "Retrieved 1 earlier tool result(s) from memory."})
	store.AssertExpectations(t)
}

func TestSynthesize_RetrievalSkipped(t *testing.T) {
	t.Run("No Retrieval Keyword", func(t *testing.T) {
		store := new(mocks.MockMemoryStore)
		s := newSynth(t, nil, store)
		ans := s.Synthesize(context.Background(), Request{ConversationID: "c1", Prompt: "hello there"}, nil)
		assert.Equal(t, SourceRefusal, ans.Source)
		store.AssertNotCalled(t, "RecentToolResults", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Current Results Present", func(t *testing.T) {
		store := new(mocks.MockMemoryStore)
		s := newSynth(t, nil, store)
		s.Synthesize(context.Background(), Request{
			ConversationID: "c1",
			Prompt:         "what did you find?",
			Evidence:       Evidence{ToolResults: []schemas.ToolResult{nmapResult(true)}},
		}, nil)
		store.AssertNotCalled(t, "RecentToolResults", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Store Failure Is No Evidence", func(t *testing.T) {
		store := new(mocks.MockMemoryStore)
		store.On("RecentToolResults", mock.Anything, "c1", 20).Return(nil, errors.New("connection refused")).Once()
		s := newSynth(t, nil, store)
		ans := s.Synthesize(context.Background(), Request{ConversationID: "c1", Recall: true, Prompt: "recap"}, nil)
		assert.Equal(t, InsufficientEvidenceMessage, ans.Text)
		store.AssertExpectations(t)
	})
}

func TestEvidence_Empty(t *testing.T) {
	tests := []struct {
		name string
		ev   Evidence
		want bool
	}{
		{"Nothing", Evidence{}, true},
		{"Failed Search", Evidence{Search: []schemas.SearchResponse{{Success: false, Results: []schemas.SearchResult{{Title: "x"}}}}}, true},
		{"Whitespace Context", Evidence{RetrievedContext: "  \n"}, true},
		{"Successful Search", Evidence{Search: []schemas.SearchResponse{{Success: true, Results: []schemas.SearchResult{{Title: "x"}}}}}, false},
		{"Knowledge", Evidence{Knowledge: []string{"CVE-2021-44228 affects log4j 2.x"}}, false},
		{"Retrieved Context", Evidence{RetrievedContext: "Target: acme.com"}, false},
		{"Insufficient Direct Answer", Evidence{DirectAnswer: "partial"}, false},
		{"Failed Tool Result", Evidence{ToolResults: []schemas.ToolResult{nmapResult(false)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Empty())
		})
	}
}

func TestNewComposer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig().Synthesis()

	assert.IsType(t, &LLMComposer{}, NewComposer(cfg, new(mocks.MockLLMClient), logger))
	assert.IsType(t, &DigestComposer{}, NewComposer(cfg, nil, logger))

	cfg.Composer = config.ComposerDigest
	assert.IsType(t, &DigestComposer{}, NewComposer(cfg, new(mocks.MockLLMClient), logger))
}

func TestDigest(t *testing.T) {
	in := Input{
		Prompt: "what do we know?",
		Evidence: Evidence{
			ToolResults: []schemas.ToolResult{
				{ToolName: "whois_lookup", Target: "acme.com", Success: true, Output: "Registrar: Example Registrar\nCreated: 1999"},
				{ToolName: "dns_enum", Target: "acme.com", Success: true, Findings: schemas.Findings{Subdomains: []string{"www.acme.com", "api.acme.com"}}},
			},
			Search: []schemas.SearchResponse{
				{Success: true, Results: []schemas.SearchResult{{Title: "Acme Corp", URL: "https://acme.com", Snippet: "Acme makes anvils."}}},
			},
			Knowledge:        []string{"Acme hosts on AWS."},
			RetrievedContext: "Target: acme.com",
		},
	}

	out := Digest(in, 10)
	assert.Contains(t, out, "Tool results:\n- whois_lookup on acme.com succeeded:\n    Registrar:... [truncated]")
	assert.Contains(t, out, "- dns_enum on acme.com succeeded with 2 finding(s)")
	assert.Contains(t, out, "Subdomains: api.acme.com, www.acme.com")
	assert.Contains(t, out, "- Acme Corp (https://acme.com): Acme makes anvils.")
	assert.Contains(t, out, "Knowledge base:\n- Acme hosts on AWS.")
	assert.Contains(t, out, "Known context:\nTarget: acme.com")
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
