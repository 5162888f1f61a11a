package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for IDE/validation",
	Long: `Print the JSON schema of the configuration file.

Point your editor's YAML language server at the schema for completion and
validation.

Examples:
  # Print to stdout
  drpc config schema

  # Write to a file
  drpc config schema --file config.schema.json`,
	RunE: runConfigSchema,
}

func init() {
	schemaCmd.Flags().StringVar(&schemaOutput, "file", "", "Write the schema to this file instead of stdout")
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	data, err := config.Schema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}
	if schemaOutput == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	if err := os.WriteFile(schemaOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", schemaOutput)
	return nil
}
