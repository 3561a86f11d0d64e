package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zentra/nbot/pkg/auth"
)

func (c *cli) tokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = c.cfg.JWT.AccessTTL
			}
			token, err := auth.GenerateAdminToken(subject, c.cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Name of the operator the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_ACCESS_TOKEN_EXPIRY)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
