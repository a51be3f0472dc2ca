// Package cli implements the tally command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mesh-intelligence/tally/internal/standings"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app holds the global flag values shared by all subcommands.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// NewRootCmd creates the top-level "tally" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tally",
		Short: "Keep soccer season standings",
		Long: "Tally records teams, seasons and per-season rankings, and keeps each\n" +
			"team's points in a local SQLite store or a Postgres database.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/tally)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (default: $XDG_DATA_HOME/tally)")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newTeamCmd(a))
	root.AddCommand(newSeasonCmd(a))
	root.AddCommand(newRankingCmd(a))

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	wrapArgs(root)
	return root
}

// wrapArgs marks argument validation failures in cmd and its subcommands as
// usage errors.
func wrapArgs(cmd *cobra.Command) {
	if validate := cmd.Args; validate != nil {
		cmd.Args = func(c *cobra.Command, args []string) error {
			if err := validate(c, args); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			return nil
		}
	}
	for _, sub := range cmd.Commands() {
		wrapArgs(sub)
	}
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	os.Exit(run(context.Background(), NewRootCmd(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "tally:", err)
	return exitCode(err)
}

// userErrors are caused by the input rather than the environment.
var userErrors = []error{
	standings.ErrTeamExists,
	standings.ErrSeasonExists,
	standings.ErrSeasonNotFound,
	standings.ErrTeamNotFound,
	standings.ErrNoRanking,
	standings.ErrTeamAlreadyRanked,
	standings.ErrTeamNotRanked,
	standings.ErrSeasonHasRanking,
	types.ErrIdentityIncomplete,
	types.ErrDuplicateIdentity,
	errUsage,
}

var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}
