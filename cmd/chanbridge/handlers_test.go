package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/chanbridge/internal/auth"
	"github.com/haasonsaas/chanbridge/internal/config"
	"github.com/haasonsaas/chanbridge/internal/storage"
)

func TestChannelHandlerAdd(t *testing.T) {
	store := storage.NewMemoryChannelStore()
	var out bytes.Buffer
	h := channelHandler{store: store, out: &out}
	ctx := context.Background()

	if err := h.add(ctx, addChannelRequest{ChannelID: "support", Secret: "s3cret"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ch, err := store.Get(ctx, "support")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ch.Enabled || ch.Proxied() {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if ch.SecretHash == "s3cret" || !auth.VerifySecret(ch.SecretHash, "s3cret") {
		t.Fatalf("secret not stored as a hash")
	}
	if !strings.Contains(out.String(), "Created brokered channel support") {
		t.Fatalf("output = %q", out.String())
	}

	err = h.add(ctx, addChannelRequest{ChannelID: "support", Secret: "other"})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("duplicate add err = %v", err)
	}
}

func TestChannelHandlerAddValidation(t *testing.T) {
	h := channelHandler{store: storage.NewMemoryChannelStore(), out: &bytes.Buffer{}}
	tests := []struct {
		name string
		req  addChannelRequest
	}{
		{name: "missing id", req: addChannelRequest{Secret: "s"}},
		{name: "missing secret", req: addChannelRequest{ChannelID: "c"}},
		{name: "bad scheme", req: addChannelRequest{ChannelID: "c", Secret: "s", GatewayURL: "ftp://gw"}},
		{name: "no host", req: addChannelRequest{ChannelID: "c", Secret: "s", GatewayURL: "wss://"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.add(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChannelHandlerListAndToggle(t *testing.T) {
	store := storage.NewMemoryChannelStore()
	var out bytes.Buffer
	h := channelHandler{store: store, out: &out}
	ctx := context.Background()

	if err := h.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "No channels configured.") {
		t.Fatalf("empty list output = %q", out.String())
	}

	if err := h.add(ctx, addChannelRequest{
		ChannelID:    "relay",
		Secret:       "s3cret",
		GatewayURL:   "wss://gw.example.com/ws",
		GatewayToken: "t0ken",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := h.setEnabled(ctx, "relay", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	out.Reset()
	if err := h.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	listing := out.String()
	for _, want := range []string{"relay", "proxied", "false", "wss://gw.example.com/ws", "never"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing missing %q:\n%s", want, listing)
		}
	}
	if strings.Contains(listing, "t0ken") {
		t.Fatalf("listing leaks gateway token:\n%s", listing)
	}

	if err := h.setEnabled(ctx, "missing", true); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("toggle missing err = %v", err)
	}
}

func TestChannelsCommandsWithSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chanbridge.yaml")
	cfgBody := "database:\n  driver: sqlite\n  url: " + filepath.Join(dir, "bridge.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	run := func(args ...string) string {
		t.Helper()
		cmd := buildRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out.String())
		}
		return out.String()
	}

	run("channels", "add", "-c", cfgPath, "--id", "support", "--secret", "s3cret")
	run("channels", "disable", "-c", cfgPath, "support")
	listing := run("channels", "list", "-c", cfgPath)
	if !strings.Contains(listing, "support") || !strings.Contains(listing, "false") {
		t.Fatalf("listing = %q", listing)
	}
}

func TestChannelsCommandsRefuseMemoryDriver(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "chanbridge.yaml")
	if err := os.WriteFile(cfgPath, []byte("database:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := buildRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"channels", "list", "-c", cfgPath})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected memory driver to be refused")
	}
}

func TestRunTokenIssue(t *testing.T) {
	cfg := config.AuthConfig{AdminTokenSecret: "0123456789abcdef0123", AdminTokenTTL: time.Minute}
	var out bytes.Buffer
	if err := runTokenIssue(&out, cfg, "support", 0); err != nil {
		t.Fatalf("issue: %v", err)
	}
	token := strings.TrimSpace(out.String())
	if token == "" {
		t.Fatal("no token printed")
	}

	tokens := auth.NewAdminTokenService(cfg.AdminTokenSecret, cfg.AdminTokenTTL)
	if err := tokens.Redeem(token, "support"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if err := runTokenIssue(&out, config.AuthConfig{}, "support", 0); err == nil {
		t.Fatal("expected error without a token secret")
	}
}

func TestBridgeLimitsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.MaxAuthAttempts = 5
	cfg.Bridge.KeepaliveInterval = 0

	limits := bridgeLimits(cfg.Bridge)
	if limits.MaxAuthAttempts != 5 {
		t.Fatalf("MaxAuthAttempts = %d", limits.MaxAuthAttempts)
	}
	if limits.KeepaliveInterval != 0 {
		t.Fatalf("KeepaliveInterval = %v", limits.KeepaliveInterval)
	}
	if limits.HistoryMaxLimit != 200 || limits.HistoryDefaultLimit != 50 {
		t.Fatalf("history limits = %d/%d", limits.HistoryDefaultLimit, limits.HistoryMaxLimit)
	}
	if limits.UpstreamBackoff.Initial <= 0 {
		t.Fatal("upstream backoff should keep its default")
	}
}

func TestLockKey(t *testing.T) {
	cfg := config.Default()
	if got := lockKey(cfg); !strings.HasPrefix(got, "memory:") {
		t.Fatalf("memory key = %q", got)
	}

	cfg.Database.Driver = "postgres"
	cfg.Database.URL = "postgres://db/bridge"
	if got := lockKey(cfg); got != "postgres:postgres://db/bridge" {
		t.Fatalf("postgres key = %q", got)
	}

	cfg.ChannelsFile.Path = "/etc/chanbridge/channels.yaml"
	if got := lockKey(cfg); got != "file:/etc/chanbridge/channels.yaml" {
		t.Fatalf("file key = %q", got)
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"chanbridge configuration", "max_auth_attempts", "channels_file"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
