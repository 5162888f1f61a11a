// Package commands implements the drpc command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	configcmd "github.com/marmos91/dittorpc/cmd/drpc/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "drpc",
	Short: "DittoRPC - multi-tenant remote session RPC server",
	Long: `drpc runs and administers a DittoRPC server.

Server side commands (start, config, user, token) read the configuration file
given by --config, or $XDG_CONFIG_HOME/dittorpc/config.yaml.

Admin commands (sessions, evict, audit) talk to a running server through its
admin API, using the profile saved by 'drpc login' or the --server and
--token flags.

Use "drpc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.ConfigFile, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Token, _ = cmd.Flags().GetString("token")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittorpc/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "Admin API URL (overrides the current profile)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides the current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
