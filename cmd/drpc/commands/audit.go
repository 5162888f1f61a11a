package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/timeutil"
	"github.com/marmos91/dittorpc/pkg/apiclient"
)

var (
	auditSession     string
	auditApplication string
	auditEvent       string
	auditSince       time.Duration
	auditLimit       int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the session audit journal",
	Long: `Show session lifecycle events recorded by a running server, newest first.

Events are "created", "destroyed" (with the reason) and "failed" (session
creations rejected by a security manager).

Examples:
  # Last 100 events
  drpc audit

  # Everything that happened to a session and its sub sessions
  drpc audit --session 6f1c...

  # Failed logins of the last hour
  drpc audit --application demo --event failed --since 1h`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditSession, "session", "", "Filter by session or master session ID")
	auditCmd.Flags().StringVarP(&auditApplication, "application", "a", "", "Filter by application")
	auditCmd.Flags().StringVar(&auditEvent, "event", "", "Filter by event (created|destroyed|failed)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only show events newer than this")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Maximum number of events (server default 100)")
}

// AuditList renders audit records as a table.
type AuditList []apiclient.AuditRecord

func (l AuditList) Headers() []string {
	return []string{"TIME", "EVENT", "APPLICATION", "SESSION", "USER", "DETAIL"}
}

func (l AuditList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		detail := r.Reason
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{
			timeutil.FormatTime(r.Time),
			r.Event,
			r.Application,
			orDash(r.SessionID),
			orDash(r.UserName),
			orDash(detail),
		})
	}
	return rows
}

func runAudit(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAdminClient()
	if err != nil {
		return err
	}
	q := apiclient.AuditQuery{
		SessionID:   auditSession,
		Application: auditApplication,
		Event:       auditEvent,
		Limit:       auditLimit,
	}
	if auditSince > 0 {
		q.Since = time.Now().Add(-auditSince)
	}
	records, err := client.ListAudit(q)
	if err != nil {
		return fmt.Errorf("failed to read audit journal: %w", err)
	}
	return cmdutil.PrintOutput(cmd.OutOrStdout(), records, len(records) == 0, "No audit records.", AuditList(records))
}
