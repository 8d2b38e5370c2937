// File: internal/tools/executor.go
package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// Function variables swapped in tests.
var (
	execCommandContext = exec.CommandContext
	uuidNewString      = uuid.NewString
	timeNow            = time.Now
)

var placeholderRegex = regexp.MustCompile(`\{([a-z_]+)\}`)

const (
	defaultMaxOutput = 1 << 20
	maxLineBytes     = 1 << 20
)

// ProcessExecutor runs catalog tools as subprocesses. Output is read line by
// line, streamed through the callback and bounded in memory.
type ProcessExecutor struct {
	cfg    config.ToolsConfig
	logger *zap.Logger
}

var _ schemas.ToolExecutor = (*ProcessExecutor)(nil)

// NewProcessExecutor creates a subprocess executor.
func NewProcessExecutor(cfg config.ToolsConfig, logger *zap.Logger) *ProcessExecutor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	return &ProcessExecutor{cfg: cfg, logger: logger.Named("executor")}
}

// BuildArgs resolves a command template against the request parameters. Any
// placeholder without a value is an error.
func BuildArgs(tmpl schemas.CommandTemplate, params map[string]string) ([]string, error) {
	args := make([]string, 0, len(tmpl.Args))
	var missing []string
	for _, a := range tmpl.Args {
		resolved := placeholderRegex.ReplaceAllStringFunc(a, func(m string) string {
			key := m[1 : len(m)-1]
			if v := params[key]; v != "" {
				return v
			}
			missing = append(missing, key)
			return m
		})
		args = append(args, resolved)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing parameters: %s", strings.Join(missing, ", "))
	}
	return args, nil
}

// Execute runs one tool invocation. It never panics; every failure is
// reported on the returned result.
func (e *ProcessExecutor) Execute(ctx context.Context, req schemas.ExecutionRequest, stream schemas.StreamCallback) (result schemas.ToolResult) {
	start := timeNow()
	result = schemas.ToolResult{
		ExecutionID: uuidNewString(),
		ToolName:    req.Tool.Name,
		SubtaskID:   req.SubtaskID,
		Target:      req.Target,
		Parameters:  req.Parameters,
		Source:      "executor",
		StartedAt:   start.UTC(),
	}
	logger := e.logger.With(zap.String("tool", req.Tool.Name), zap.String("execution_id", result.ExecutionID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during tool execution.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			result.Success = false
			result.ErrorCode = schemas.ErrCodeExecutorPanic
			result.Error = fmt.Sprintf("executor panic: %v", r)
		}
		result.Duration = timeNow().Sub(start)
	}()

	if req.Tool.Executable == "" {
		return failed(result, schemas.ErrCodeToolNotFound, fmt.Sprintf("tool '%s' has no executable", req.Tool.Name))
	}
	cmdName, tmpl, ok := req.Tool.Command(req.Command)
	if !ok {
		return failed(result, schemas.ErrCodeInvalidParameters, fmt.Sprintf("tool '%s' has no command '%s'", req.Tool.Name, req.Command))
	}
	args, err := BuildArgs(tmpl, req.Parameters)
	if err != nil {
		return failed(result, schemas.ErrCodeInvalidParameters, err.Error())
	}
	result.Command = req.Tool.Executable + " " + strings.Join(args, " ")

	timeout := tmpl.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := execCommandContext(runCtx, req.Tool.Executable, args...)
	if e.cfg.WorkDir != "" {
		cmd.Dir = e.cfg.WorkDir
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed(result, schemas.ErrCodeExecutionFailure, fmt.Sprintf("failed to open stdout: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failed(result, schemas.ErrCodeExecutionFailure, fmt.Sprintf("failed to open stderr: %v", err))
	}

	logger.Info("Starting tool.", zap.String("command", cmdName), zap.Strings("args", args), zap.Duration("timeout", timeout))
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return failed(result, schemas.ErrCodeToolNotFound, fmt.Sprintf("executable '%s' not found: %v", req.Tool.Executable, err))
		}
		return failed(result, schemas.ErrCodeExecutionFailure, fmt.Sprintf("failed to start '%s': %v", req.Tool.Executable, err))
	}
	// The process must be reaped even if the stream callback panics.
	waited := false
	defer func() {
		if !waited {
			cancel()
			_ = cmd.Wait()
		}
	}()

	out := newBoundedBuffer(e.cfg.MaxOutputBytes)
	errOut := newBoundedBuffer(e.cfg.MaxOutputBytes / 4)
	// stderr drains in the background; stdout is read on this goroutine so
	// the stream callback runs on the caller's stack.
	var g errgroup.Group
	g.Go(func() error {
		return readLines(stderr, errOut.WriteLine)
	})
	readErr := readLines(stdout, func(line string) {
		out.WriteLine(line)
		stream.Emit(schemas.EventToolOutput, "tool:"+req.Tool.Name, line)
	})
	if err := g.Wait(); readErr == nil {
		readErr = err
	}
	waitErr := cmd.Wait()
	waited = true

	result.Output = out.String()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return failed(result, schemas.ErrCodeTimeoutError, fmt.Sprintf("tool '%s' timed out after %s", req.Tool.Name, timeout))
	}
	if ctx.Err() != nil {
		return failed(result, schemas.ErrCodeExecutionFailure, fmt.Sprintf("execution cancelled: %v", ctx.Err()))
	}
	if readErr != nil {
		logger.Warn("Error reading tool output.", zap.Error(readErr))
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return failed(result, schemas.ErrCodeExecutionFailure, waitErr.Error())
		}
		exitCode = exitErr.ExitCode()
	}
	if !tmpl.IsSuccess(exitCode) {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", exitCode)
		}
		return failed(result, schemas.ErrCodeExecutionFailure, msg)
	}

	result.Success = true
	result.Findings = ExtractFindings(result.Output, req.Target)
	logger.Info("Tool finished.",
		zap.Int("exit_code", exitCode),
		zap.Int("output_bytes", len(result.Output)),
		zap.Int("findings", result.Findings.Count()))
	return result
}

func failed(res schemas.ToolResult, code schemas.ErrorCode, msg string) schemas.ToolResult {
	res.Success = false
	res.ErrorCode = code
	res.Error = msg
	return res
}

// readLines calls fn for each line of r. After a scan error, such as a line
// longer than the buffer, the rest of r is drained so the process never
// blocks on a full pipe.
func readLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// boundedBuffer keeps at most limit bytes of output and notes truncation.
type boundedBuffer struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.b.Len()+len(line)+1 > b.limit {
		b.truncated = true
		return
	}
	b.b.WriteString(line)
	b.b.WriteByte('\n')
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.b.String() + "[output truncated]\n"
	}
	return b.b.String()
}
