package main

import (
	"github.com/spf13/cobra"
)

// buildChannelsCmd creates the "channels" command group for channel records.
func buildChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage channel records",
		Long: `Create, list, enable and disable channels in the configured database.

A channel without a gateway URL is brokered: the bridge pairs its agent with
its humans. A channel with a gateway URL is proxied to that gateway.`,
	}

	cmd.AddCommand(
		buildChannelsAddCmd(),
		buildChannelsListCmd(),
		buildChannelsEnableCmd(),
		buildChannelsDisableCmd(),
	)
	return cmd
}

func buildChannelsAddCmd() *cobra.Command {
	var (
		configPath string
		req        addChannelRequest
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a channel",
		Example: `  # Brokered channel
  chanbridge channels add --id support --secret s3cret

  # Proxied channel
  chanbridge channels add --id relay --secret s3cret --gateway wss://gw.example.com/ws --gateway-token t0ken`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelStore(cmd, resolveConfigPath(configPath), func(h channelHandler) error {
				return h.add(cmd.Context(), req)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	cmd.Flags().StringVar(&req.ChannelID, "id", "", "Channel id (required)")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Channel secret (required)")
	cmd.Flags().StringVar(&req.GatewayURL, "gateway", "", "Gateway URL for a proxied channel")
	cmd.Flags().StringVar(&req.GatewayToken, "gateway-token", "", "Bearer token sent to the gateway")
	cmd.Flags().BoolVar(&req.Disabled, "disabled", false, "Create the channel disabled")
	_ = cmd.MarkFlagRequired("id")     //nolint:errcheck
	_ = cmd.MarkFlagRequired("secret") //nolint:errcheck
	return cmd
}

func buildChannelsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelStore(cmd, resolveConfigPath(configPath), func(h channelHandler) error {
				return h.list(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	return cmd
}

func buildChannelsEnableCmd() *cobra.Command {
	return buildChannelsToggleCmd("enable", "Enable a channel", true)
}

func buildChannelsDisableCmd() *cobra.Command {
	return buildChannelsToggleCmd("disable", "Disable a channel; new connections are refused", false)
}

func buildChannelsToggleCmd(use, short string, enabled bool) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   use + " <channel-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChannelStore(cmd, resolveConfigPath(configPath), func(h channelHandler) error {
				return h.setEnabled(cmd.Context(), args[0], enabled)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	return cmd
}
