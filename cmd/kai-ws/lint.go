package main

import (
	"github.com/spf13/cobra"

	"kai-ws/internal/lint"
)

func newLintCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Check that the workspace description matches the filesystem",
		Long: `Runs every workspace integrity check and prints the violations grouped
by category: missing project roots, files outside any project, files
belonging to several projects, imported packages missing from package.json,
naming convention mismatches, circular dependencies and conflicting
package versions.

Exits 1 when any violation is found.`,
		Args: cobra.NoArgs,
		RunE: g.runner(true, func(cmd *cobra.Command, e *env, args []string) error {
			groups, err := lint.NewChecker(e.ws, lint.WithIgnore(e.ignore), lint.WithLogger(e.log)).Run(cmd.Context())
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return nil
			}
			e.errOut.Violations(groups)
			return &exitError{code: 1, silent: true}
		}),
	}
}
