package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the bridge.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the channel bridge",
		Long: `Start the channel bridge HTTP server.

The server will:
1. Load configuration from the specified file (or chanbridge.yaml)
2. Open channel and history storage
3. Acquire the instance lock for the channel store
4. Serve /channel/{id}, /healthz and the metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM signals. Live connections are
closed with code 1001.`,
		Example: `  # Start with default config
  chanbridge serve

  # Start with custom config
  chanbridge serve --config /etc/chanbridge/production.yaml

  # Start with debug logging
  chanbridge serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
