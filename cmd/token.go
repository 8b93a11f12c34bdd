package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/quiztaker/internal/api"
)

// newTokenCmd issues access tokens for local development, when no identity
// provider is around.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if c.Auth.Secret == "" {
				return fmt.Errorf("auth.secret is not configured")
			}

			tok, err := api.NewAuthenticator(c.Auth.Secret).Sign(userID, username, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id, the token subject")
	cmd.Flags().StringVar(&username, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
