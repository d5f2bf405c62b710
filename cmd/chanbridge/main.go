// Package main provides the CLI entry point for chanbridge, a relay between
// one agent connection and any number of human connections per channel.
//
// # Basic Usage
//
// Start the bridge:
//
//	chanbridge serve --config chanbridge.yaml
//
// Register a channel and list channels:
//
//	chanbridge channels add --id support --secret s3cret
//	chanbridge channels list
//
// Issue a one-time admin token for a channel:
//
//	chanbridge token issue --channel support
//
// # Environment Variables
//
//   - CHANBRIDGE_CONFIG: path to the configuration file (default: chanbridge.yaml)
//   - CHANBRIDGE_ALLOW_MULTI: set to 1 to skip the instance lock
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "chanbridge.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chanbridge",
		Short: "chanbridge - agent/human channel bridge",
		Long: `chanbridge accepts websocket connections on /channel/{id}, authenticates
them against the channel secret and relays traffic between the channel's agent
and its humans. Channels with a gateway URL are proxied to that gateway instead.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChannelsCmd(),
		buildTokenCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies CHANBRIDGE_CONFIG when the flag was left at its
// default.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" || path == defaultConfigPath {
		if env := strings.TrimSpace(os.Getenv("CHANBRIDGE_CONFIG")); env != "" {
			return env
		}
		return defaultConfigPath
	}
	return path
}
