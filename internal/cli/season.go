package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeasonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "season",
		Short: "Manage seasons",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <id>",
		Short: "Add a season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				season, err := e.svc.AddSeason(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), season.ID)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a season with its ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd.Context(), func(e *env) error {
				if err := e.svc.RemoveSeason(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}
