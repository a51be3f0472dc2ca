package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRankingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Manage season rankings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <season> [team...]",
			Short: "Create a season's ranking with the given teams at zero points",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEnv(cmd.Context(), func(e *env) error {
					r, err := e.svc.CreateRanking(cmd.Context(), args[0], args[1:]...)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ranking %s created with %d teams\n", args[0], len(r.Positions()))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "enter <season> <team>",
			Short: "Add a team to an existing ranking",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEnv(cmd.Context(), func(e *env) error {
					if _, err := e.svc.EnterTeam(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s entered %s\n", args[1], args[0])
					return nil
				})
			},
		},
		newAwardCmd(a),
		&cobra.Command{
			Use:   "show <season>",
			Short: "Print a season's standings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEnv(cmd.Context(), func(e *env) error {
					table, err := e.svc.Standings(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if a.jsonMode {
						return printJSON(cmd.OutOrStdout(), table)
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "#\tTEAM\tPOINTS")
					for i, s := range table {
						fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, s.TeamID, s.Points)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

func newAwardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "award <season> <team> <points>",
		Short: "Add points to a team's position; points may be negative",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%w: points must be an integer, got %q", errUsage, args[2])
			}
			return a.withEnv(cmd.Context(), func(e *env) error {
				pos, err := e.svc.AwardPoints(cmd.Context(), args[0], args[1], delta)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[1], pos.Points())
				return nil
			})
		},
	}
	// Negative points such as -3 are arguments, not flags.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
