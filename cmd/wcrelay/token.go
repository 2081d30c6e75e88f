package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pedrouid/walletconnect-v1-prototype/relay"
)

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admission token signed with RELAY_AUTH_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := relay.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return errors.New("RELAY_AUTH_SECRET is not set")
			}
			auth, err := relay.NewTokenAuthenticator([]byte(cfg.AuthSecret))
			if err != nil {
				return err
			}
			tok, err := auth.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "client", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
