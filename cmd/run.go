// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/internal/config"
	"github.com/xkilldash9x/vigil-cli/internal/observability"
	"github.com/xkilldash9x/vigil-cli/internal/service"
)

// sessionFlags are the authorization overrides shared by run and chat.
type sessionFlags struct {
	scope          []string
	mode           string
	autonomy       string
	yes            bool
	conversationID string
	verbose        bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.scope, "scope", "s", nil, "Targets authorized for this conversation (domains, IPs, CIDRs, *.wildcards)")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "Execution mode: passive, cooperative or simulation (overrides config)")
	cmd.Flags().StringVarP(&f.autonomy, "autonomy", "a", "", "Autonomy level: manual, copilot, semi_auto or full_auto (overrides config)")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Approve every confirmation request without asking")
	cmd.Flags().StringVar(&f.conversationID, "conversation", "", "Resume a stored conversation by ID")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Stream raw tool output")
}

// apply writes the overrides into cfg and revalidates it.
func (f *sessionFlags) apply(cfg *config.Config) error {
	if f.mode != "" {
		cfg.SetPolicyDefaultMode(f.mode)
	}
	if f.autonomy != "" {
		cfg.SetAutonomyDefaultLevel(f.autonomy)
	}
	if f.yes {
		cfg.SetAutonomyAutoApprove(true)
	}
	return cfg.Validate()
}

// openConsole creates the components and a console bound to the requested
// conversation. The caller must shut the components down.
func openConsole(cmd *cobra.Command, flags *sessionFlags) (*console, *service.Components, error) {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := flags.apply(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid flags: %w", err)
	}

	logger := observability.GetLogger()
	components, err := newComponentFactory().Create(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	con := newConsole(cmd.InOrStdin(), cmd.OutOrStdout(), components, flags.verbose)
	if !flags.yes {
		components.Gate.Autonomy().SetConfirmationCallback(con.confirm)
	}

	if flags.conversationID != "" {
		con.conv, err = components.Orchestrator.Conversation(ctx, flags.conversationID)
		if err != nil {
			components.Shutdown()
			return nil, nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	} else {
		con.conv = components.Orchestrator.NewConversation()
	}

	for _, entry := range flags.scope {
		if !components.Gate.Scope().AddToScope(con.conv.ID, entry) {
			logger.Warn("Scope entry ignored (empty or duplicate).", zap.String("entry", entry))
		}
	}
	con.conv.Context.SetScope(components.Gate.Scope().Scope(con.conv.ID))
	return con, components, nil
}

func newRunCmd() *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run a single conversation turn and print the answer",
		Example: `  vigil run --scope example.com "scan example.com for open ports"
  vigil run --mode passive "what subdomains does example.com have?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			con, components, err := openConsole(cmd, flags)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			prompt := strings.Join(args, " ")
			if err := con.turn(cmd.Context(), prompt); err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("turn aborted by user signal: %w", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConversation: %s\n", con.conv.ID)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
