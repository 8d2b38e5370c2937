// File: internal/tools/guard.go
package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/authz"
)

// targetParams are the parameters that name the host a tool will touch.
var targetParams = []string{"domain", "target", "host", "url"}

// GuardedExecutor refuses any invocation that was not granted in the turn
// ledger carried on the context, or whose target parameters point outside
// the granted target.
type GuardedExecutor struct {
	next   schemas.ToolExecutor
	logger *zap.Logger
}

var _ schemas.ToolExecutor = (*GuardedExecutor)(nil)

// NewGuardedExecutor wraps next.
func NewGuardedExecutor(next schemas.ToolExecutor, logger *zap.Logger) *GuardedExecutor {
	return &GuardedExecutor{next: next, logger: logger.Named("guard")}
}

// Execute checks the grant, then delegates.
func (g *GuardedExecutor) Execute(ctx context.Context, req schemas.ExecutionRequest, stream schemas.StreamCallback) schemas.ToolResult {
	ledger := authz.LedgerFromContext(ctx)
	if !ledger.Granted(req.Tool.Name, req.Target, authz.ExecutionMode(req.Mode)) {
		g.logger.Warn("Refusing ungranted execution.",
			zap.String("tool", req.Tool.Name),
			zap.String("target", req.Target),
			zap.String("mode", req.Mode))
		return denied(req, fmt.Sprintf("no authorization recorded for tool '%s' on '%s' in mode '%s'", req.Tool.Name, req.Target, req.Mode))
	}

	granted := authz.NormalizeTarget(req.Target)
	for _, key := range targetParams {
		v, ok := req.Parameters[key]
		if !ok || v == "" {
			continue
		}
		if !authz.MatchesScope(authz.NormalizeTarget(v), granted) {
			g.logger.Warn("Refusing parameter outside the granted target.",
				zap.String("tool", req.Tool.Name),
				zap.String("param", key),
				zap.String("value", v),
				zap.String("target", req.Target))
			return denied(req, fmt.Sprintf("parameter '%s'='%s' is outside the authorized target '%s'", key, v, req.Target))
		}
	}
	return g.next.Execute(ctx, req, stream)
}

func denied(req schemas.ExecutionRequest, msg string) schemas.ToolResult {
	return schemas.ToolResult{
		ExecutionID: uuidNewString(),
		ToolName:    req.Tool.Name,
		SubtaskID:   req.SubtaskID,
		Target:      req.Target,
		Parameters:  req.Parameters,
		Success:     false,
		Error:       msg,
		ErrorCode:   schemas.ErrCodePolicyDenied,
		Source:      "executor",
		StartedAt:   timeNow().UTC(),
	}
}

// TargetParameters derives the standard executor parameters for a target:
// domain, target and host set to the target host, and an https URL when the
// target looks like a hostname.
func TargetParameters(target string) map[string]string {
	target = strings.TrimSpace(target)
	host := target
	isURL := strings.HasPrefix(strings.ToLower(target), "http")
	if isURL {
		host = authz.NormalizeTarget(target)
	}
	params := map[string]string{
		"domain": host,
		"target": host,
		"host":   host,
	}
	switch {
	case isURL:
		params["url"] = target
	case strings.Contains(target, "."):
		params["url"] = "https://" + target
	}
	return params
}
