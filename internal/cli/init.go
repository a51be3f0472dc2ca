package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tally storage",
		Long:  "Create the configuration directory and config.yaml if missing, then create the standings tables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Tally initialized successfully")
				fmt.Fprintln(out, "  backend:", e.cfg.Backend)
				if e.cfg.DataDir != "" {
					fmt.Fprintln(out, "  data:   ", e.cfg.DataDir)
				}
				return nil
			})
		},
	}
}
