// File: cmd/scope.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/vigil-cli/internal/authz"
)

// errOutOfScope is returned by `scope check` so scripts can rely on the exit code.
var errOutOfScope = errors.New("target is not in scope")

func newScopeCmd() *cobra.Command {
	scopeCmd := &cobra.Command{
		Use:   "scope",
		Short: "Inspect scope matching without running any tools",
	}

	var entries []string
	checkCmd := &cobra.Command{
		Use:   "check <target>",
		Short: "Report whether a target matches a scope",
		Example: `  vigil scope check api.example.com --scope "*.example.com"
  vigil scope check 10.0.0.7 --scope 10.0.0.0/24`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const checkID = "scope-check"
			scope := authz.NewScopeManager()
			if len(entries) == 0 {
				if cfg, err := getConfigFromContext(cmd.Context()); err == nil {
					entries = cfg.Policy().InitialScope
				}
			}
			for _, e := range entries {
				scope.AddToScope(checkID, e)
			}

			target := authz.NormalizeTarget(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target:   %s\n", target)
			fmt.Fprintf(out, "scope:    %v\n", scope.Scope(checkID))
			if scope.IsTargetAuthorized(checkID, target) {
				fmt.Fprintln(out, "result:   in scope")
				return nil
			}
			fmt.Fprintln(out, "result:   NOT in scope")
			return errOutOfScope
		},
	}
	checkCmd.Flags().StringSliceVarP(&entries, "scope", "s", nil, "Scope entries to check against (defaults to policy.initial_scope)")

	scopeCmd.AddCommand(checkCmd)
	return scopeCmd
}
