// File: cmd/tools.go
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/vigil-cli/internal/authz"
	"github.com/xkilldash9x/vigil-cli/internal/observability"
	"github.com/xkilldash9x/vigil-cli/internal/tools"
)

func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}

	var mode string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog tools with their risk and mode tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := tools.LoadRegistry(cfg.Tools(), observability.GetLogger())
			if err != nil {
				return err
			}

			var filter authz.ExecutionMode
			if mode != "" {
				if filter, err = authz.ParseMode(mode); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tRISK\tMODES\tDESCRIPTION")
			for _, def := range registry.List() {
				if filter != "" && !authz.IsToolCompatible(def.Mode, filter) {
					continue
				}
				modes := strings.Join(def.Mode, ",")
				if modes == "" {
					modes = "any"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, def.Category, def.EffectiveRisk(), modes, def.Description)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVarP(&mode, "mode", "m", "", "Only show tools usable in this execution mode")

	toolsCmd.AddCommand(listCmd)
	return toolsCmd
}
