// Package cmdutil provides shared helpers for drpc commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marmos91/dittorpc/internal/cli/output"
	"github.com/marmos91/dittorpc/internal/cli/profile"
	"github.com/marmos91/dittorpc/internal/cli/prompt"
	"github.com/marmos91/dittorpc/pkg/apiclient"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	ServerURL  string
	Token      string
	Output     string
	NoColor    bool
}

// OpenProfiles opens the profile store at its default location.
func OpenProfiles() (*profile.Store, error) {
	path, err := profile.DefaultPath()
	if err != nil {
		return nil, err
	}
	return profile.Open(path)
}

// GetAdminClient returns an admin API client. The --server and --token
// flags win over the current profile.
func GetAdminClient() (*apiclient.Client, error) {
	if Flags.ServerURL != "" && Flags.Token != "" {
		return apiclient.New(Flags.ServerURL).WithToken(Flags.Token), nil
	}

	store, err := OpenProfiles()
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles: %w", err)
	}
	p, err := store.Current()
	if err != nil {
		return nil, profile.ErrNotLoggedIn
	}

	url := p.ServerURL
	if Flags.ServerURL != "" {
		url = Flags.ServerURL
	}
	token := p.Token
	if Flags.Token != "" {
		token = Flags.Token
	} else if p.Expired(time.Now()) {
		return nil, fmt.Errorf("token of profile %q expired. Run 'drpc login' again", store.CurrentName())
	}
	return apiclient.New(url).WithToken(token), nil
}

// OutputFormat returns the parsed --output flag.
func OutputFormat() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data as JSON or YAML, or as a table using renderer.
// Empty tables print emptyMsg instead.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, renderer output.TableRenderer) error {
	format, err := OutputFormat()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, renderer)
	}
}

// PrintSuccess prints msg in table mode only, so JSON and YAML output stay
// machine readable.
func PrintSuccess(w io.Writer, msg string) {
	format, err := OutputFormat()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(w, format, !Flags.NoColor).Success(msg)
}

// ConfirmThen asks for confirmation unless force is set and runs fn.
func ConfirmThen(label string, force bool, fn func() error) error {
	ok, err := prompt.Confirm(label, force)
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Fprintln(os.Stderr, "\nAborted.")
			return nil
		}
		return err
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "Cancelled.")
		return nil
	}
	return fn()
}

// ParseCommaSeparatedList splits s on commas, dropping blanks.
func ParseCommaSeparatedList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
