package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/output"
	"github.com/marmos91/dittorpc/internal/cli/timeutil"
	"github.com/marmos91/dittorpc/pkg/apiclient"
)

var (
	sessionsApplication string
	sessionsForce       bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Inspect and destroy live sessions",
	Long: `Inspect and destroy the live sessions of a running server.

Examples:
  # List every session
  drpc sessions list

  # List the sessions of one application as JSON
  drpc sessions list --application demo -o json

  # Show one session
  drpc sessions show 6f1c...

  # Destroy a session without confirmation
  drpc sessions destroy 6f1c... --force`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDestroyCmd = &cobra.Command{
	Use:   "destroy <id>",
	Short: "Destroy a session and its sub sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDestroy,
}

func init() {
	sessionsListCmd.Flags().StringVarP(&sessionsApplication, "application", "a", "", "Only list sessions of this application")
	sessionsDestroyCmd.Flags().BoolVarP(&sessionsForce, "force", "f", false, "Skip confirmation")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDestroyCmd)
}

// SessionList renders sessions as a table.
type SessionList []apiclient.Session

func (l SessionList) Headers() []string {
	return []string{"ID", "APPLICATION", "USER", "STATE", "SUBS", "CALLBACKS", "PUSH", "AGE", "IDLE"}
}

func (l SessionList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		id := s.ID
		if s.MasterID != "" {
			id = "└ " + id
		}
		rows = append(rows, []string{
			id,
			s.Application,
			orDash(s.UserName),
			s.State,
			strconv.Itoa(s.Subs),
			strconv.Itoa(s.Callbacks),
			yesNo(s.Push),
			timeutil.FormatAge(now.Sub(s.CreatedAt)),
			timeutil.FormatAge(now.Sub(s.LastAccess)),
		})
	}
	return rows
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAdminClient()
	if err != nil {
		return err
	}
	sessions, err := client.ListSessions(sessionsApplication)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return cmdutil.PrintOutput(cmd.OutOrStdout(), sessions, len(sessions) == 0, "No sessions.", SessionList(sessions))
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAdminClient()
	if err != nil {
		return err
	}
	s, err := client.GetSession(args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	format, err := cmdutil.OutputFormat()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(cmd.OutOrStdout(), s, false, "", nil)
	}
	return output.KeyValues(cmd.OutOrStdout(), [][2]string{
		{"ID", s.ID},
		{"Master", orDash(s.MasterID)},
		{"Application", s.Application},
		{"User", orDash(s.UserName)},
		{"State", s.State},
		{"Created", timeutil.FormatTime(s.CreatedAt)},
		{"Last access", timeutil.FormatTime(s.LastAccess)},
		{"Sub sessions", strconv.Itoa(s.Subs)},
		{"Pending callbacks", strconv.Itoa(s.Callbacks)},
		{"Push channel", yesNo(s.Push)},
	})
}

func runSessionsDestroy(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAdminClient()
	if err != nil {
		return err
	}
	id := args[0]
	return cmdutil.ConfirmThen(fmt.Sprintf("Destroy session %s", id), sessionsForce, func() error {
		if err := client.DestroySession(id); err != nil {
			var apiErr *apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.IsGone() {
				fmt.Fprintf(os.Stderr, "Session %s already expired\n", id)
				return nil
			}
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Session %s destroyed", id))
		return nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
