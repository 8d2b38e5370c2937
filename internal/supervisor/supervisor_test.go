package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/mocks"
	"github.com/xkilldash9x/vigil-cli/internal/session"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

// -- Fixtures --

type fixture struct {
	gate     *authz.Gate
	scope    *authz.ScopeManager
	modes    *authz.ModeManager
	autonomy *authz.AutonomyController
	registry *tools.Registry
	conv     *session.Conversation
}

func newFixture(t *testing.T, level authz.AutonomyLevel) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	scope := authz.NewScopeManager()
	modes := authz.NewModeManager(authz.ModeCooperative)
	policy := authz.NewPolicyEngine(scope, modes, logger)
	autonomy := authz.NewAutonomyController(level, nil, authz.NewAuditLog(authz.DefaultAuditCapacity), logger)
	reg, err := tools.LoadRegistry(config.ToolsConfig{}, logger)
	require.NoError(t, err)

	conv := session.NewManager(nil, config.SessionConfig{}, logger).New()
	scope.AddToScope(conv.ID, "acme.com")
	return fixture{
		gate:     authz.NewGate(policy, autonomy, modes, scope, logger),
		scope:    scope,
		modes:    modes,
		autonomy: autonomy,
		registry: reg,
		conv:     conv,
	}
}

// fakeExecutor records requests and delegates to fn.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []schemas.ExecutionRequest
	fn    func(req schemas.ExecutionRequest) schemas.ToolResult
}

func (f *fakeExecutor) Execute(_ context.Context, req schemas.ExecutionRequest, _ schemas.StreamCallback) schemas.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func succeed(req schemas.ExecutionRequest) schemas.ToolResult {
	return schemas.ToolResult{
		ToolName: req.Tool.Name,
		Success:  true,
		Output:   "ok",
		Findings: schemas.Findings{Subdomains: []string{"www." + req.Target}},
	}
}

type recorderFunc func(conversationID string, result schemas.ToolResult)

func (f recorderFunc) Record(conversationID string, result schemas.ToolResult) {
	f(conversationID, result)
}

func toolSubtask(id string, toolNames ...string) schemas.Subtask {
	return schemas.Subtask{ID: id, Name: "Run " + id, Type: schemas.SubtaskToolExecution, RequiredTools: toolNames, Status: schemas.StatusPending}
}

func plan(conv *session.Conversation, subtasks ...schemas.Subtask) []schemas.Subtask {
	conv.RecordSubtasks(subtasks)
	for _, st := range subtasks {
		conv.Context.AddOpenTask(st)
	}
	return subtasks
}

// -- Test Cases --

func TestExecute_PartialFailureTolerance(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	exec := &fakeExecutor{fn: func(req schemas.ExecutionRequest) schemas.ToolResult {
		if req.Tool.Name == "dns_enum" {
			panic("dig crashed")
		}
		return succeed(req)
	}}
	var recorded []schemas.ToolResult
	rec := recorderFunc(func(_ string, r schemas.ToolResult) { recorded = append(recorded, r) })

	// The guard proves that every execution carried a grant.
	guarded := tools.NewGuardedExecutor(exec, zaptest.NewLogger(t))
	s := New(f.gate, f.registry, guarded, zaptest.NewLogger(t), WithRecorder(rec))

	subtasks := plan(f.conv,
		toolSubtask("s1", "whois_lookup"),
		toolSubtask("s2", "dns_enum"),
		toolSubtask("s3", "subdomain_discovery"),
	)
	report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "acme.com", Subtasks: subtasks}, nil)

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].Success)
	assert.False(t, report.Results[1].Success)
	assert.Equal(t, schemas.ErrCodeExecutorPanic, report.Results[1].ErrorCode)
	assert.True(t, report.Results[2].Success)
	assert.Equal(t, 2, report.Succeeded())

	assert.Equal(t, []string{"s1", "s3"}, report.Completed)
	assert.Equal(t, []string{"s2"}, report.Failed)
	assert.Equal(t, []string{"s1", "s3"}, f.conv.Context.CompletedTasks)
	require.Len(t, f.conv.Context.OpenTasks, 1)
	assert.Equal(t, "s2", f.conv.Context.OpenTasks[0].ID)
	assert.Equal(t, schemas.StatusFailed, f.conv.Subtasks[1].Status)

	assert.Equal(t, []string{"www.acme.com"}, f.conv.Context.Subdomains)
	assert.ElementsMatch(t, []string{"whois_lookup", "dns_enum", "subdomain_discovery"}, f.conv.Context.ToolsRun)
	assert.Len(t, recorded, 3)
	for _, r := range report.Results {
		assert.NotEmpty(t, r.ExecutionID)
		assert.Equal(t, "acme.com", r.Target)
	}
}

func TestExecute_ModeFilterDropsIncompatibleTools(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	_, err := f.modes.SetMode(f.conv.ID, authz.ModePassive)
	require.NoError(t, err)
	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

	subtasks := plan(f.conv,
		toolSubtask("recon", "whois_lookup", "nmap_scan"),
		toolSubtask("exploit", "metasploit_exploit"),
	)
	report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "acme.com", Subtasks: subtasks}, nil)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "whois_lookup", exec.calls[0].Tool.Name)
	assert.Equal(t, "passive", exec.calls[0].Mode)
	assert.Equal(t, []string{"recon"}, report.Completed)
	assert.Equal(t, []string{"exploit"}, report.Skipped)
	assert.Equal(t, []string{"whois_lookup"}, f.conv.Subtasks[0].RequiredTools, "dropped tools are removed from the subtask")
	assert.Equal(t, schemas.StatusSkipped, f.conv.Subtasks[1].Status)

	denied := report.Denied()
	require.Len(t, denied, 2)
	assert.Equal(t, "nmap_scan", denied[0].Tool)
	assert.Contains(t, denied[0].Reason, "not compatible")
	assert.Equal(t, "metasploit_exploit", denied[1].Tool)
}

func TestExecute_OutOfScopeIsDeniedWithoutExecution(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

	var policyEvents []ToolDecision
	stream := schemas.StreamCallback(func(kind schemas.EventKind, _ string, payload any) {
		if kind == schemas.EventPolicy {
			policyEvents = append(policyEvents, payload.(ToolDecision))
		}
	})

	subtasks := plan(f.conv, toolSubtask("s1", "whois_lookup"))
	report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "other.org", Subtasks: subtasks}, stream)

	assert.Empty(t, exec.calls)
	assert.Empty(t, report.Results)
	assert.Equal(t, []string{"s1"}, report.Skipped)
	require.Len(t, policyEvents, 1)
	assert.Equal(t, authz.DecisionDenied, policyEvents[0].Decision)
	assert.Contains(t, policyEvents[0].Reason, "not in authorized scope")
}

func TestExecute_ConfirmationGatesLowAutonomy(t *testing.T) {
	cases := []struct {
		reply   string
		granted bool
	}{
		{"yes", true},
		{"no", false},
	}
	for _, tc := range cases {
		t.Run(tc.reply, func(t *testing.T) {
			f := newFixture(t, authz.LevelManual)
			asked := 0
			f.autonomy.SetConfirmationCallback(func(context.Context, string, map[string]any) (string, error) {
				asked++
				return tc.reply, nil
			})
			exec := &fakeExecutor{fn: succeed}
			s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

			ledger := authz.NewLedger()
			subtasks := plan(f.conv, toolSubtask("s1", "whois_lookup"))
			report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "acme.com", Subtasks: subtasks, Ledger: ledger}, nil)

			assert.Equal(t, 1, asked)
			require.Len(t, report.Decisions, 1)
			assert.Equal(t, tc.granted, report.Decisions[0].Granted)
			assert.Equal(t, tc.granted, ledger.Granted("whois_lookup", "acme.com", authz.ModeCooperative))
			if tc.granted {
				assert.Len(t, exec.calls, 1)
			} else {
				assert.Empty(t, exec.calls)
			}
		})
	}
}

func TestExecute_ToolCallerThenExecutorFallback(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	caller := new(mocks.MockToolCaller)
	caller.On("CallTool", mock.Anything, mock.MatchedBy(func(r schemas.ToolCallRequest) bool {
		return r.Request.Tool.Name == "whois_lookup"
	}), mock.Anything).Return(&schemas.ToolResult{ToolName: "whois_lookup", Success: true, Output: "Registrar: Example"}, nil)
	caller.On("CallTool", mock.Anything, mock.MatchedBy(func(r schemas.ToolCallRequest) bool {
		return r.Request.Tool.Name == "dns_enum"
	}), mock.Anything).Return(nil, nil)
	caller.On("CallTool", mock.Anything, mock.MatchedBy(func(r schemas.ToolCallRequest) bool {
		return r.Request.Tool.Name == "dns_lookup"
	}), mock.Anything).Return(nil, errors.New("model unavailable"))

	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t), WithToolCaller(caller))

	subtasks := plan(f.conv, toolSubtask("s1", "whois_lookup", "dns_enum", "dns_lookup"))
	report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "acme.com", Subtasks: subtasks, Prompt: "recon acme"}, nil)

	require.Len(t, report.Results, 3)
	assert.Equal(t, sourceToolCalling, report.Results[0].Source)
	assert.Equal(t, sourceExecutor, report.Results[1].Source)
	assert.Equal(t, sourceExecutor, report.Results[2].Source)
	require.Len(t, exec.calls, 2)
	assert.Equal(t, "dns_enum", exec.calls[0].Tool.Name)
	caller.AssertExpectations(t)
}

func TestExecute_SubtaskTargetsAndPorts(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

	st := toolSubtask("scan", "nmap_scan")
	st.Description = "Scan ports 80, 443 on api.acme.com"
	report := s.Execute(context.Background(), Request{Conversation: f.conv, Target: "acme.com", Subtasks: plan(f.conv, st)}, nil)

	require.Len(t, exec.calls, 1)
	call := exec.calls[0]
	assert.Equal(t, "api.acme.com", call.Target, "a host named in the subtask wins over the turn target")
	assert.Equal(t, "ports", call.Command)
	assert.Equal(t, "80,443", call.Parameters["ports"])
	assert.Equal(t, "api.acme.com", call.Parameters["host"])
	assert.Equal(t, []string{"scan"}, report.Completed)
}

func TestExecute_NoTargetSkips(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

	report := s.Execute(context.Background(), Request{Conversation: f.conv, Subtasks: plan(f.conv, toolSubtask("s1", "whois_lookup"))}, nil)

	assert.Empty(t, exec.calls)
	assert.Equal(t, []string{"s1"}, report.Skipped)
	require.Len(t, report.Denied(), 1)
}

func TestExecute_IgnoresNonToolSubtasks(t *testing.T) {
	f := newFixture(t, authz.LevelFullAuto)
	exec := &fakeExecutor{fn: succeed}
	s := New(f.gate, f.registry, exec, zaptest.NewLogger(t))

	report := s.Execute(context.Background(), Request{
		Conversation: f.conv,
		Target:       "acme.com",
		Subtasks:     []schemas.Subtask{{ID: "a", Type: schemas.SubtaskAnalysis}},
	}, nil)

	assert.Empty(t, exec.calls)
	assert.Empty(t, report.Completed)
	assert.Empty(t, report.Skipped)
}

// -- Parameters --

func TestExtractPorts(t *testing.T) {
	cases := map[string]string{
		"scan ports 80, 443 and 8080":  "80,443,8080",
		"check port 22":                "22",
		"ports: 1-1024":                "1-1024",
		"ports 99999":                  "",
		"port 443, 443":                "443",
		"ports 100-10":                 "",
		"just scan it":                 "",
		"ports 1-1024 and 3306, 70000": "1-1024,3306",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, extractPorts(in))
		})
	}
}

func TestParameters(t *testing.T) {
	params := Parameters("acme.com", "no ports here", "scan port 8443")
	assert.Equal(t, map[string]string{
		"domain": "acme.com",
		"target": "acme.com",
		"host":   "acme.com",
		"url":    "https://acme.com",
		"ports":  "8443",
	}, params)
}
