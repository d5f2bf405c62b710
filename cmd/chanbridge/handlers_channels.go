package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/config"
	"github.com/haasonsaas/chanbridge/internal/storage"
)

type addChannelRequest struct {
	ChannelID    string
	Secret       string
	GatewayURL   string
	GatewayToken string
	Disabled     bool
}

type channelHandler struct {
	store storage.ChannelStore
	out   io.Writer
}

// withChannelStore opens the configured channel source for one command. The
// memory driver is refused since its records would vanish on exit.
func withChannelStore(cmd *cobra.Command, configPath string, fn func(channelHandler) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(cfg.ChannelsFile.Path) == "" {
		driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
		if driver == "" || driver == "memory" {
			return errors.New("channel commands need a sqlite or postgres database")
		}
	}

	stores, channelFile, err := openStores(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer stores.Close() //nolint:errcheck
	if channelFile != nil {
		defer channelFile.Close() //nolint:errcheck
	}
	return fn(channelHandler{store: stores.Channels, out: cmd.OutOrStdout()})
}

func (h channelHandler) add(ctx context.Context, req addChannelRequest) error {
	id := strings.TrimSpace(req.ChannelID)
	if id == "" {
		return errors.New("channel id is required")
	}
	if req.Secret == "" {
		return errors.New("channel secret is required")
	}
	gatewayURL := strings.TrimSpace(req.GatewayURL)
	if gatewayURL != "" {
		if err := checkGatewayURL(gatewayURL); err != nil {
			return err
		}
	}

	hash, err := auth.HashSecret(req.Secret)
	if err != nil {
		return err
	}
	ch := &storage.Channel{
		ChannelID:    id,
		SecretHash:   hash,
		Enabled:      !req.Disabled,
		GatewayURL:   gatewayURL,
		GatewayToken: req.GatewayToken,
	}
	if err := h.store.Create(ctx, ch); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("channel %q already exists", id)
		}
		return fmt.Errorf("create channel: %w", err)
	}

	mode := "brokered"
	if ch.Proxied() {
		mode = "proxied"
	}
	fmt.Fprintf(h.out, "Created %s channel %s\n", mode, id)
	return nil
}

func (h channelHandler) list(ctx context.Context) error {
	channels, err := h.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		fmt.Fprintln(h.out, "No channels configured.")
		return nil
	}

	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tMODE\tENABLED\tGATEWAY\tLAST CONNECTED")
	for _, ch := range channels {
		mode := "brokered"
		if ch.Proxied() {
			mode = "proxied"
		}
		last := "never"
		if !ch.LastConnectedAt.IsZero() {
			last = ch.LastConnectedAt.UTC().Format(time.RFC3339)
		}
		gateway := ch.GatewayURL
		if gateway == "" {
			gateway = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", ch.ChannelID, mode, ch.Enabled, gateway, last)
	}
	return tw.Flush()
}

func (h channelHandler) setEnabled(ctx context.Context, channelID string, enabled bool) error {
	if err := h.store.SetEnabled(ctx, channelID, enabled); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("channel %q not found", channelID)
		case errors.Is(err, storage.ErrReadOnly):
			return fmt.Errorf("channel %q comes from the channels file; edit the file instead", channelID)
		}
		return fmt.Errorf("update channel: %w", err)
	}
	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	fmt.Fprintf(h.out, "%s channel %s\n", state, channelID)
	return nil
}

func checkGatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("gateway url scheme %q is not ws, wss, http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("gateway url has no host")
	}
	return nil
}
