package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/config"
)

// buildTokenCmd creates the "token" command group for one-time admin tokens.
func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage one-time admin tokens",
	}
	cmd.AddCommand(buildTokenIssueCmd())
	return cmd
}

func buildTokenIssueCmd() *cobra.Command {
	var (
		configPath string
		channelID  string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an admin token for a channel",
		Long: `Issue a signed token that authenticates one connection to a channel in
place of its secret. The token is accepted once and expires after the TTL.

Requires auth.admin_token_secret in the configuration.`,
		Example: `  chanbridge token issue --channel support --ttl 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runTokenIssue(cmd.OutOrStdout(), cfg.Auth, channelID, ttl)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.admin_token_ttl)")
	_ = cmd.MarkFlagRequired("channel") //nolint:errcheck
	return cmd
}

func runTokenIssue(out io.Writer, cfg config.AuthConfig, channelID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cfg.AdminTokenTTL
	}
	tokens := auth.NewAdminTokenService(cfg.AdminTokenSecret, ttl)
	if tokens == nil {
		return errors.New("admin tokens are disabled: set auth.admin_token_secret")
	}
	token, err := tokens.Issue(channelID)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
