package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/output"
	"github.com/marmos91/dittorpc/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective DittoRPC configuration, with defaults and
environment overrides applied.

Outputs YAML unless --output json is given.

Examples:
  # Show the default config file
  drpc config show

  # Show as JSON
  drpc config show -o json

  # Show a specific config file
  drpc config show --config /etc/dittorpc/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cmdutil.Flags.ConfigFile)
	if err != nil {
		return err
	}

	format, err := cmdutil.OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
