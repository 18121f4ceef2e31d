package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Pull provider data then show the run ledger",
	RunE:  runAction,
}

func init() {
	registerPullFlags(runCmd)
}

func runAction(cmd *cobra.Command, args []string) error {
	if err := pullAction(cmd, args); err != nil {
		return err
	}
	return runsAction(cmd, args)
}
