package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Write a configuration file holding every default and a demo application.

The file is written to --config, or to $XDG_CONFIG_HOME/dittorpc/config.yaml.

Examples:
  # Create the default configuration
  drpc config init

  # Overwrite an existing file
  drpc config init --force --config ./config.yaml`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cmdutil.Flags.ConfigFile
	if path == "" {
		var err error
		if path, err = config.InitConfig(initForce); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, initForce); err != nil {
		return err
	}

	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Configuration written to %s", path))
	return nil
}
