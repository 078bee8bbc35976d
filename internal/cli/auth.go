package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccproxy-dev/ccproxy/internal/credentials"
)

func newAuthCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage upstream OAuth credentials",
	}
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := credentials.NewStore()
			creds, path, err := store.Load()
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials found.")
				fmt.Fprintln(cmd.OutOrStdout(), "Searched:")
				for _, p := range store.Paths() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
				}
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential file: %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Expires at:      %s\n", creds.ExpiresAt.Format(time.RFC3339))
			if creds.Valid(time.Now()) {
				fmt.Fprintln(cmd.OutOrStdout(), "Status:          valid")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Status:          expired (will refresh on next request)")
			}
			if creds.SubscriptionType != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Subscription:    %s\n", creds.SubscriptionType)
			}
			return nil
		},
	}
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store credentials from a pasted credential JSON",
		Long: `Reads a credential JSON object from stdin, in the same shape as the
credential file ({"claudeAiOauth":{...}}), and stores it at the primary
credential path with mode 0600.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Paste credential JSON, then EOF (Ctrl-D):")
			reader := bufio.NewReader(cmd.InOrStdin())
			var raw strings.Builder
			buf := make([]byte, 4096)
			for {
				n, err := reader.Read(buf)
				raw.Write(buf[:n])
				if err != nil {
					break
				}
			}

			var file struct {
				ClaudeAIOauth struct {
					AccessToken      string   `json:"accessToken"`
					RefreshToken     string   `json:"refreshToken"`
					ExpiresAt        int64    `json:"expiresAt"`
					Scopes           []string `json:"scopes"`
					SubscriptionType string   `json:"subscriptionType"`
					TokenType        string   `json:"tokenType"`
				} `json:"claudeAiOauth"`
			}
			if err := json.Unmarshal([]byte(strings.TrimSpace(raw.String())), &file); err != nil {
				return fmt.Errorf("parse credential JSON: %w", err)
			}
			s := file.ClaudeAIOauth
			if s.AccessToken == "" && s.RefreshToken == "" {
				return fmt.Errorf("credential JSON carries no tokens")
			}

			creds := &credentials.Credentials{
				AccessToken:      s.AccessToken,
				RefreshToken:     s.RefreshToken,
				ExpiresAt:        time.UnixMilli(s.ExpiresAt),
				Scopes:           s.Scopes,
				SubscriptionType: s.SubscriptionType,
				TokenType:        s.TokenType,
			}
			store := credentials.NewStore()
			if err := store.Save(creds, ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials at %s\n", store.Paths()[0])
			return nil
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := credentials.NewStore()
			if !store.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials to delete.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credentials deleted.")
			return nil
		},
	}
}
