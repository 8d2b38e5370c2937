// File: cmd/console.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/service"
	"github.com/xkilldash9x/vigil-cli/internal/session"
	"github.com/xkilldash9x/vigil-cli/internal/supervisor"
)

// console runs turns for one terminal. Prompts and confirmation replies are
// read from the same reader.
type console struct {
	in         *bufio.Reader
	out        io.Writer
	components *service.Components
	conv       *session.Conversation
	verbose    bool
}

func newConsole(in io.Reader, out io.Writer, components *service.Components, verbose bool) *console {
	return &console{
		in:         bufio.NewReader(in),
		out:        out,
		components: components,
		verbose:    verbose,
	}
}

// confirm asks the user to approve a gated action. End of input denies.
func (c *console) confirm(_ context.Context, message string, details map[string]any) (string, error) {
	fmt.Fprintf(c.out, "\n[approval required] %s\n", message)
	if risk, ok := details["risk"]; ok {
		fmt.Fprintf(c.out, "  mode: %v  risk: %v\n", details["mode"], risk)
	}
	fmt.Fprint(c.out, "Approve? [Y/n] ")

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "no", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// stream renders pipeline events. Answers are printed once the turn ends.
func (c *console) stream() schemas.StreamCallback {
	return func(kind schemas.EventKind, source string, payload any) {
		switch kind {
		case schemas.EventStatus:
			fmt.Fprintf(c.out, "[%s] %v\n", source, payload)
		case schemas.EventPolicy:
			if d, ok := payload.(supervisor.ToolDecision); ok {
				status := "denied"
				if d.Granted {
					status = "granted"
				}
				fmt.Fprintf(c.out, "[policy] %s on %s: %s (%s)\n", d.Tool, d.Target, status, d.Reason)
			}
		case schemas.EventToolOutput:
			if c.verbose {
				fmt.Fprintf(c.out, "  | %v\n", payload)
			}
		case schemas.EventToolResult:
			if r, ok := payload.(schemas.ToolResult); ok {
				if r.Success {
					fmt.Fprintf(c.out, "[%s] finished with %d finding(s)\n", r.ToolName, r.Findings.Count())
				} else {
					fmt.Fprintf(c.out, "[%s] failed: %s\n", r.ToolName, r.Error)
				}
			}
		}
	}
}

// turn runs one prompt through the orchestrator and prints the reply.
func (c *console) turn(ctx context.Context, prompt string) error {
	t, err := c.components.Orchestrator.HandleTurn(ctx, c.conv.ID, prompt, c.stream())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%s\n", t.Text())
	return nil
}
