package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/security/kerberos"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Load and validate a configuration file.

Besides the schema rules, every application is checked for life-cycle and
application classes and security managers this binary knows about.

Examples:
  drpc config validate
  drpc config validate --config /etc/dittorpc/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cmdutil.Flags.ConfigFile)
	if err != nil {
		return err
	}
	if problems := checkApplications(cfg); len(problems) > 0 {
		return fmt.Errorf("configuration has %d problem(s):\n  %s", len(problems), strings.Join(problems, "\n  "))
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}

// checkApplications reports references to unknown classes and managers.
func checkApplications(cfg *config.Config) []string {
	// The database and kerberos classes are registered when the server
	// starts.
	managers := append(security.Names(), security.DatabaseName, kerberos.Name)
	var problems []string
	for _, name := range slices.Sorted(maps.Keys(cfg.Applications)) {
		app := cfg.Applications[name]
		for _, class := range []string{app.LifeCycleClass, app.ApplicationClass} {
			if _, ok := objects.LookupClass(class); class != "" && !ok {
				problems = append(problems, fmt.Sprintf("applications.%s: unknown class %q", name, class))
			}
		}
		if m := strings.ToLower(app.Security.Manager); m != "" && !slices.Contains(managers, m) {
			problems = append(problems, fmt.Sprintf("applications.%s: unknown security manager %q", name, app.Security.Manager))
		}
	}
	return problems
}
