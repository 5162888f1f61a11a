package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/output"
)

var evictForce bool

var evictCmd = &cobra.Command{
	Use:   "evict <application>",
	Short: "Drop the cached state of an application",
	Long: `Release the cached security managers and the shared application object
of an application. Live sessions keep running; the next request rebuilds
what was evicted from the current configuration.

Examples:
  drpc evict demo
  drpc evict demo --force -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvict,
}

func init() {
	evictCmd.Flags().BoolVarP(&evictForce, "force", "f", false, "Skip confirmation")
}

func runEvict(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAdminClient()
	if err != nil {
		return err
	}
	app := args[0]
	return cmdutil.ConfirmThen(fmt.Sprintf("Evict application %s", app), evictForce, func() error {
		res, err := client.EvictApplication(app)
		if err != nil {
			return fmt.Errorf("failed to evict application: %w", err)
		}
		format, err := cmdutil.OutputFormat()
		if err != nil {
			return err
		}
		if format != output.FormatTable {
			return cmdutil.PrintOutput(cmd.OutOrStdout(), res, false, "", nil)
		}
		cmdutil.PrintSuccess(cmd.OutOrStdout(),
			fmt.Sprintf("Application %s evicted (%d security managers released)", res.Application, res.SecurityManagers))
		return nil
	})
}
