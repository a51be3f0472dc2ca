package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTeamCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add [id]",
		Short: "Add a team; a UUID is generated when id is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return a.withEnv(cmd.Context(), func(e *env) error {
				team, err := e.svc.AddTeam(cmd.Context(), id)
				if err != nil {
					return err
				}
				if a.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": team.ID})
				}
				fmt.Fprintln(cmd.OutOrStdout(), team.ID)
				return nil
			})
		},
	})
	return cmd
}
