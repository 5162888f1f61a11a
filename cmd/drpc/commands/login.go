package commands

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittorpc/cmd/drpc/cmdutil"
	"github.com/marmos91/dittorpc/internal/cli/profile"
	"github.com/marmos91/dittorpc/internal/cli/prompt"
	"github.com/marmos91/dittorpc/pkg/apiclient"
)

var (
	loginProfile string
	loginUse     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save admin API credentials",
	Long: `Store a server URL and admin token as a named profile and make it current.

The token is checked against the server before it is saved. Tokens are
minted with 'drpc token' on a host holding the server configuration.

Examples:
  # Log in, prompting for the token
  drpc login --server http://localhost:8090

  # Log in non-interactively under a custom profile name
  drpc login --server https://rpc.example.com --token "$TOKEN" --profile prod

  # Switch to an existing profile
  drpc login --use prod`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the token of the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cmdutil.OpenProfiles()
		if err != nil {
			return err
		}
		if err := store.Logout(); err != nil {
			return err
		}
		cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Logged out of profile %q", store.CurrentName()))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginProfile, "profile", "", "Profile name (default: the server host)")
	loginCmd.Flags().StringVar(&loginUse, "use", "", "Switch to an existing profile")
}

func runLogin(cmd *cobra.Command, args []string) error {
	store, err := cmdutil.OpenProfiles()
	if err != nil {
		return err
	}

	if loginUse != "" {
		if err := store.Use(loginUse); err != nil {
			return fmt.Errorf("profile %q: %w", loginUse, err)
		}
		cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Using profile %q", loginUse))
		return nil
	}

	serverURL := strings.TrimRight(cmdutil.Flags.ServerURL, "/")
	if serverURL == "" {
		return fmt.Errorf("--server is required")
	}
	token := cmdutil.Flags.Token
	if token == "" {
		if token, err = prompt.Password("Token", 1); err != nil {
			return err
		}
	}

	if _, err := apiclient.New(serverURL).WithToken(token).ListSessions(""); err != nil {
		return fmt.Errorf("token rejected by %s: %w", serverURL, err)
	}

	name := loginProfile
	if name == "" {
		name = profileName(serverURL)
	}
	if err := store.Set(name, &profile.Profile{
		ServerURL: serverURL,
		Token:     token,
		ExpiresAt: tokenExpiry(token),
	}); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Logged in to %s as profile %q", serverURL, name))
	return nil
}

// profileName derives a profile name from a server URL.
func profileName(serverURL string) string {
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		return u.Host
	}
	return serverURL
}

// tokenExpiry reads the exp claim without verifying the signature. The
// server remains the judge of validity.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
