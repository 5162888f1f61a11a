package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/prompt"
	"github.com/marmos91/dittorpc/internal/cli/timeutil"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/security/userstore"
)

const minPasswordLength = 8

var (
	userPassword     string
	userApplications string
	userForce        bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts of the database security manager",
	Long: `Manage the accounts checked by applications whose security manager is
"database". Commands open the user store named in the configuration file
directly, so they run on the server host.

Examples:
  # Add a user allowed to use every application
  drpc user add alice

  # Add a user restricted to two applications
  drpc user add bob --applications demo,billing

  # Change a password
  drpc user passwd alice

  # Lock an account without deleting it
  drpc user disable bob`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"rm"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserDelete,
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change the password of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserPasswd,
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <username>",
	Short: "Enable a user",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(cmd, args[0], true) },
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable a user",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(cmd, args[0], false) },
}

func init() {
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")
	userAddCmd.Flags().StringVar(&userApplications, "applications", "", "Comma separated applications the user may use (default: all)")
	userPasswdCmd.Flags().StringVar(&userPassword, "password", "", "New password (prompted when omitted)")
	userDeleteCmd.Flags().BoolVarP(&userForce, "force", "f", false, "Skip confirmation")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userEnableCmd)
	userCmd.AddCommand(userDisableCmd)
}

// openUserStore opens the user store of the local configuration.
func openUserStore() (*userstore.GORMStore, error) {
	cfg, err := config.MustLoad(cmdutil.Flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	store, err := userstore.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}
	return store, nil
}

func passwordOrPrompt() (string, error) {
	if userPassword != "" {
		if len(userPassword) < minPasswordLength {
			return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
		}
		return userPassword, nil
	}
	return prompt.NewPassword(minPasswordLength)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	password, err := passwordOrPrompt()
	if err != nil {
		return err
	}
	store, err := openUserStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	user, err := store.CreateUser(context.Background(), args[0], password, cmdutil.ParseCommaSeparatedList(userApplications))
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("User %s added", user.Username))
	return nil
}

// UserList renders users as a table.
type UserList []*userstore.User

func (l UserList) Headers() []string {
	return []string{"USERNAME", "ENABLED", "APPLICATIONS", "CREATED", "LAST LOGIN"}
}

func (l UserList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, u := range l {
		apps := u.Applications
		if apps == "" {
			apps = "*"
		}
		lastLogin := "-"
		if u.LastLogin != nil {
			lastLogin = timeutil.FormatTime(*u.LastLogin)
		}
		rows = append(rows, []string{u.Username, yesNo(u.Enabled), apps, timeutil.FormatTime(u.CreatedAt), lastLogin})
	}
	return rows
}

func runUserList(cmd *cobra.Command, args []string) error {
	store, err := openUserStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	return cmdutil.PrintOutput(cmd.OutOrStdout(), users, len(users) == 0, "No users.", UserList(users))
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	return cmdutil.ConfirmThen(fmt.Sprintf("Delete user %s", args[0]), userForce, func() error {
		store, err := openUserStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.DeleteUser(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("User %s deleted", args[0]))
		return nil
	})
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	password, err := passwordOrPrompt()
	if err != nil {
		return err
	}
	store, err := openUserStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetPassword(context.Background(), args[0], password); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Password of %s changed", args[0]))
	return nil
}

func setUserEnabled(cmd *cobra.Command, username string, enabled bool) error {
	store, err := openUserStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SetEnabled(context.Background(), username, enabled); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("User %s %s", username, state))
	return nil
}
