// File: internal/tools/caller.go
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/llmutil"
)

const toolCallSystemPrompt = `You choose how to invoke one security tool for an authorized assessment.
The target is fixed and has already been authorized; never change it.
Pick the command that best fits the task and fill in only the extra parameters its arguments need (for example "ports").
Set "call" to false when none of the commands fits the task.
Return only JSON: {"call": true, "command": "name", "parameters": {"ports": "80,443"}}`

// toolCall is the backend's invocation choice.
type toolCall struct {
	Call       bool              `json:"call"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters"`
}

// ModelCaller lets the reasoning backend choose a tool's command template and
// extra parameters, then runs it through the executor. Target parameters are
// never taken from the backend.
type ModelCaller struct {
	llm      schemas.LLMClient
	executor schemas.ToolExecutor
	logger   *zap.Logger
}

var _ schemas.ToolCaller = (*ModelCaller)(nil)

// NewModelCaller creates a ModelCaller that executes through executor.
func NewModelCaller(llm schemas.LLMClient, executor schemas.ToolExecutor, logger *zap.Logger) *ModelCaller {
	return &ModelCaller{llm: llm, executor: executor, logger: logger.Named("tool_caller")}
}

// CallTool returns a nil result when the backend declines the call, so the
// caller can fall back to direct execution.
func (c *ModelCaller) CallTool(ctx context.Context, req schemas.ToolCallRequest, stream schemas.StreamCallback) (*schemas.ToolResult, error) {
	tool := req.Request.Tool
	if len(tool.Commands) == 0 {
		return nil, nil
	}

	call, _, err := llmutil.GenerateJSON[toolCall](ctx, c.llm, schemas.GenerationRequest{
		SystemPrompt: toolCallSystemPrompt,
		UserPrompt:   callPrompt(req),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call selection for '%s' failed: %w", tool.Name, err)
	}
	if !call.Call {
		c.logger.Debug("Backend declined the tool call.", zap.String("tool", tool.Name))
		return nil, nil
	}

	name, tmpl, ok := tool.Command(call.Command)
	if !ok {
		return nil, fmt.Errorf("backend chose unknown command '%s' for tool '%s'", call.Command, tool.Name)
	}

	exec := req.Request
	exec.Command = name
	exec.Parameters = mergeParameters(req.Request.Parameters, call.Parameters, placeholders(tmpl))
	c.logger.Debug("Backend selected tool invocation.",
		zap.String("tool", tool.Name),
		zap.String("command", name),
		zap.Any("parameters", exec.Parameters))

	res := c.executor.Execute(ctx, exec, stream)
	return &res, nil
}

// mergeParameters adds the backend's values for placeholders the template
// uses. Target parameters always keep their authorized values.
func mergeParameters(base, chosen map[string]string, allowed map[string]bool) map[string]string {
	out := make(map[string]string, len(base)+len(chosen))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range chosen {
		k = strings.ToLower(strings.TrimSpace(k))
		if isTargetParam(k) || !allowed[k] || strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func isTargetParam(key string) bool {
	for _, p := range targetParams {
		if p == key {
			return true
		}
	}
	return false
}

func placeholders(tmpl schemas.CommandTemplate) map[string]bool {
	out := make(map[string]bool)
	for _, a := range tmpl.Args {
		for _, m := range placeholderRegex.FindAllStringSubmatch(a, -1) {
			out[m[1]] = true
		}
	}
	return out
}

func callPrompt(req schemas.ToolCallRequest) string {
	tool := req.Request.Tool
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s (%s)\n", tool.Name, tool.Description)
	fmt.Fprintf(&b, "Target: %s\n", req.Request.Target)
	if req.Subtask.Description != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.Subtask.Description)
	}
	fmt.Fprintf(&b, "User request: %s\n", req.UserPrompt)

	b.WriteString("Commands:\n")
	names := make([]string, 0, len(tool.Commands))
	for name := range tool.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := tool.Commands[name]
		fmt.Fprintf(&b, "- %s: %s %s", name, tool.Executable, strings.Join(cmd.Args, " "))
		if cmd.Description != "" {
			fmt.Fprintf(&b, " (%s)", cmd.Description)
		}
		if name == tool.DefaultCommand {
			b.WriteString(" [default]")
		}
		b.WriteString("\n")
	}

	if len(req.Request.Parameters) > 0 {
		keys := make([]string, 0, len(req.Request.Parameters))
		for k := range req.Request.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Known parameters:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s = %s\n", k, req.Request.Parameters[k])
		}
	}
	return b.String()
}
