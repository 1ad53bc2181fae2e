package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/workspacekit/workspace-cli/internal/auth"
	"github.com/workspacekit/workspace-cli/internal/server"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Google account authentication",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthListCmd())
	cmd.AddCommand(newAuthSwitchCmd())
	cmd.AddCommand(newAuthStatusCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		account           string
		credentialsPath   string
		serviceAccountKey string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a Google account",
		Long: `Authenticate a Google account and store its tokens securely.

By default this runs the interactive browser consent flow using an OAuth
client credentials.json file. With --service-account a service account key
file is used instead; no browser interaction is needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			cfg := rt.Config()
			account = rt.ResolveAccount(account)

			var flow auth.Authenticator
			switch {
			case serviceAccountKey != "":
				key, err := auth.ReadServiceAccountKey(serviceAccountKey)
				if err != nil {
					return err
				}
				flow = &auth.ServiceAccountFlow{Key: key}
			default:
				if credentialsPath != "" {
					cfg.RememberAccount(account, credentialsPath)
				}
				path := cfg.CredentialsPathFor(account)
				if path == "" {
					return fmt.Errorf("no credentials.json found; pass --credentials or set WORKSPACE_CLI_CREDENTIALS_PATH")
				}
				creds, err := auth.ReadCredentials(path)
				if err != nil {
					return err
				}
				flow = &auth.InstalledFlow{
					Credentials: creds,
					Logger:      slog.Default(),
					Prompt: func(authURL string) {
						fmt.Fprintf(cmd.OutOrStdout(),
							"Open this URL in your browser to authorize access:\n\n  %s\n\n", authURL)
					},
				}
			}

			mgr, err := rt.ManagerFor(account)
			if err != nil {
				return err
			}
			if err := mgr.EnsureAuthenticated(ctx, flow); err != nil {
				return err
			}

			cfg.SetActiveAccount(account)
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Authenticated as %q (now the active account)\n", account)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name to authenticate (default: the active account)")
	cmd.Flags().StringVar(&credentialsPath, "credentials", "", "Path to the OAuth client credentials.json")
	cmd.Flags().StringVar(&serviceAccountKey, "service-account", "", "Path to a service account key file")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove an account's stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			account = rt.ResolveAccount(account)
			mgr, err := rt.ManagerFor(account)
			if err != nil {
				return err
			}
			if err := mgr.Logout(ctx); err != nil {
				return err
			}

			cfg := rt.Config()
			cfg.ForgetAccount(account)
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged out %q\n", account)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name to log out (default: the active account)")
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List authenticated accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			accounts, err := rt.Store().List(ctx)
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No authenticated accounts. Run 'workspace-cli auth login' first.")
				return nil
			}

			active := rt.ResolveAccount("")
			for _, a := range accounts {
				marker := " "
				if a == active {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, a)
			}
			return nil
		},
	}
}

func newAuthSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <account>",
		Short: "Set the active account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			account := args[0]

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			accounts, err := rt.Store().List(ctx)
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}
			known := false
			for _, a := range accounts {
				if a == account {
					known = true
					break
				}
			}
			if !known {
				return fmt.Errorf("account %q is not authenticated; run 'workspace-cli auth login --account %s' first",
					account, account)
			}

			cfg := rt.Config()
			cfg.SetActiveAccount(account)
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Active account is now %q\n", account)
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored token state for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			account = rt.ResolveAccount(account)
			rec, err := rt.Store().Get(ctx, account)
			if err != nil {
				return fmt.Errorf("no stored token for %q: %w", account, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account:       %s\n", account)
			if rec.Expiry.IsZero() {
				fmt.Fprintf(out, "Access token:  valid (no recorded expiry)\n")
			} else if rec.Valid(time.Now()) {
				fmt.Fprintf(out, "Access token:  valid until %s\n", rec.Expiry.Local().Format(time.RFC1123))
			} else {
				fmt.Fprintf(out, "Access token:  expired at %s (will refresh on next use)\n",
					rec.Expiry.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "Refresh token: %v\n", rec.RefreshToken != "")
			for i, scope := range rec.Scopes {
				if i == 0 {
					fmt.Fprintf(out, "Scopes:        %s\n", scope)
				} else {
					fmt.Fprintf(out, "               %s\n", scope)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: the active account)")
	return cmd
}

// newRuntime builds the shared runtime for one command invocation.
func newRuntime(ctx context.Context) (*server.Runtime, error) {
	return server.NewRuntime(ctx, server.Options{Logger: slog.Default()})
}
