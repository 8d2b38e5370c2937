// File: cmd/chat.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/vigil-cli/internal/authz"
)

const chatBanner = `vigil: authorized security testing assistant
Type a request, /help for commands, or /exit to leave.
`

const chatHelp = `Commands:
  /scope list                 show the authorized targets
  /scope add <target>         authorize a domain, IP, CIDR or *.wildcard
  /scope remove <target>      revoke a target
  /scope clear                revoke every target
  /mode [passive|cooperative|simulation]
                              show or change the execution mode
  /autonomy [manual|copilot|semi_auto|full_auto]
                              show or change the autonomy level
  /audit [n]                  show the last n audit entries (default 10)
  /audit export <file>        write the retained audit log as JSON
  /context                    show what this conversation has learned
  /new                        start a new conversation
  /conversations              list the conversations of this session
  /switch <id>                continue another conversation
  /exit                       leave
`

const defaultAuditEntries = 10

func newChatCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			con, components, err := openConsole(cmd, flags)
			if err != nil {
				return err
			}
			defer components.Shutdown()
			return con.repl(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// repl reads prompts until end of input, /exit, or cancellation.
func (c *console) repl(ctx context.Context) error {
	fmt.Fprint(c.out, chatBanner)
	fmt.Fprintf(c.out, "Conversation: %s\n", c.conv.ID)

	for {
		fmt.Fprint(c.out, "\nvigil > ")
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, "/"):
			quit, err := c.command(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.turn(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// command handles a slash command and reports whether the session should end.
func (c *console) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	gate := c.components.Gate

	switch name {
	case "/exit", "/quit":
		return true, nil

	case "/help":
		fmt.Fprint(c.out, chatHelp)

	case "/new":
		c.conv = c.components.Orchestrator.NewConversation()
		fmt.Fprintf(c.out, "Started conversation %s\n", c.conv.ID)

	case "/conversations":
		for _, id := range c.components.Sessions.IDs() {
			marker := " "
			if id == c.conv.ID {
				marker = "*"
			}
			fmt.Fprintf(c.out, "%s %s\n", marker, id)
		}

	case "/switch":
		if len(args) != 1 {
			return false, errors.New("usage: /switch <conversation id>")
		}
		conv, err := c.components.Orchestrator.Conversation(ctx, args[0])
		if err != nil {
			return false, err
		}
		c.conv = conv
		fmt.Fprintf(c.out, "Switched to conversation %s\n", c.conv.ID)

	case "/scope":
		return false, c.scopeCommand(args)

	case "/mode":
		if len(args) == 0 {
			mode := gate.Modes().Mode(c.conv.ID)
			fmt.Fprintf(c.out, "Mode: %s (%s)\n", mode, mode.Description())
			return false, nil
		}
		mode, err := authz.ParseMode(args[0])
		if err != nil {
			return false, err
		}
		warning, err := gate.Modes().SetMode(c.conv.ID, mode)
		if err != nil {
			return false, err
		}
		if warning != "" {
			fmt.Fprintf(c.out, "warning: %s\n", warning)
		}
		fmt.Fprintf(c.out, "Mode set to %s (%s)\n", mode, mode.Description())

	case "/autonomy":
		if len(args) == 0 {
			level := gate.Autonomy().Level(c.conv.ID)
			fmt.Fprintf(c.out, "Autonomy: %s\n", level.Description())
			if actions := gate.Autonomy().ActionsForLevel(level); len(actions) > 0 {
				fmt.Fprintf(c.out, "Runs without confirmation: %s\n", strings.Join(actions, ", "))
			}
			return false, nil
		}
		level, err := authz.ParseLevel(strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		gate.Autonomy().SetLevel(c.conv.ID, level)
		fmt.Fprintf(c.out, "Autonomy set to %s\n", level.Description())

	case "/audit":
		if len(args) > 0 && strings.EqualFold(args[0], "export") {
			if len(args) != 2 {
				return false, errors.New("usage: /audit export <file>")
			}
			return false, c.exportAudit(args[1])
		}
		n := defaultAuditEntries
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return false, fmt.Errorf("audit count must be a positive integer; got %q", args[0])
			}
			n = parsed
		}
		entries := gate.Audit().Entries(n)
		if len(entries) == 0 {
			fmt.Fprintln(c.out, "No audit entries yet.")
		}
		for _, e := range entries {
			payload, _ := json.Marshal(e.Payload)
			fmt.Fprintf(c.out, "%s  %-16s %s\n", e.Timestamp.Format("15:04:05"), e.Event, payload)
		}

	case "/context":
		data, err := json.MarshalIndent(c.conv.Context, "", "  ")
		if err != nil {
			return false, fmt.Errorf("failed to render context: %w", err)
		}
		fmt.Fprintln(c.out, string(data))

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (c *console) scopeCommand(args []string) error {
	scope := c.components.Gate.Scope()
	sub := "list"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "list":
		entries := scope.Scope(c.conv.ID)
		if len(entries) == 0 {
			fmt.Fprintln(c.out, "No targets are authorized. Use /scope add <target>.")
			return nil
		}
		fmt.Fprintln(c.out, "Authorized scope:")
		for _, e := range entries {
			fmt.Fprintf(c.out, "  - %s\n", e)
		}
		return nil

	case "add", "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: /scope %s <target>", sub)
		}
		for _, target := range args[1:] {
			ok, verb := false, "added"
			if sub == "add" {
				ok = scope.AddToScope(c.conv.ID, target)
			} else {
				ok, verb = scope.RemoveFromScope(c.conv.ID, target), "removed"
			}
			if ok {
				fmt.Fprintf(c.out, "%s: %s\n", verb, authz.NormalizeTarget(target))
			} else {
				fmt.Fprintf(c.out, "unchanged: %s\n", target)
			}
		}
		c.conv.Context.SetScope(scope.Scope(c.conv.ID))
		return nil

	case "clear":
		scope.Clear(c.conv.ID)
		c.conv.Context.SetScope(nil)
		fmt.Fprintln(c.out, "Scope cleared. Every target is now denied.")
		return nil
	}
	return fmt.Errorf("unknown scope command %q (use list, add, remove or clear)", sub)
}

func (c *console) exportAudit(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create audit export: %w", err)
	}
	audit := c.components.Gate.Audit()
	if err := audit.Export(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audit export: %w", err)
	}
	fmt.Fprintf(c.out, "Exported %d audit entries to %s\n", audit.Len(), path)
	return nil
}
