package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/auth"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage GitHub credentials",
	Long: `Manage the GitHub OAuth credential the gateway uses to reach Copilot.

The credential is obtained once via the device-authorization flow and stored
locally; the short-lived Copilot API token is minted from it automatically.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with GitHub via the device flow",
	RunE:  handleAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential status",
	RunE:  handleAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored GitHub credential",
	RunE:  handleAuthLogout,
}

func credentialStore() (*auth.Store, error) {
	cfg, err := config.Load(debugFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return auth.NewStore(cfg.CredentialsFile, cfg.ForeignCredentialsFile), nil
}

func handleAuthLogin(cmd *cobra.Command, args []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}

	if _, ok := store.ReadOAuthToken(); ok {
		fmt.Println("Already authenticated. Run 'auth logout' first to re-authenticate.")
		return nil
	}

	fmt.Println("Authenticating with GitHub...")
	token, user, err := auth.NewDeviceFlow().Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("device authorization failed: %w", err)
	}
	if err := store.SaveOAuthToken(token, user); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if user != "" {
		fmt.Printf("✅ Authenticated as %s\n", user)
	} else {
		fmt.Println("✅ Authenticated")
	}
	return nil
}

func handleAuthStatus(cmd *cobra.Command, args []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}

	entry, ok := store.Lookup()
	if !ok {
		fmt.Println("❌ Not authenticated. Run 'auth login' to authenticate.")
		return nil
	}
	if entry.User != "" {
		fmt.Printf("✅ Authenticated as %s\n", entry.User)
	} else {
		fmt.Println("✅ Authenticated")
	}
	return nil
}

func handleAuthLogout(cmd *cobra.Command, args []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.RemoveOAuthToken(); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	fmt.Println("Credential removed.")
	return nil
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}
