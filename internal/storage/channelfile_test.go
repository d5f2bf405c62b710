package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeChannelFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write channel file: %v", err)
	}
}

func TestFileChannelStoreLoad(t *testing.T) {
	t.Setenv("CHANBRIDGE_TEST_GW_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeChannelFile(t, path, `
channels:
  - id: c1
    secret_hash: "$2a$10$abc"
  - id: c2
    secret_hash: h2
    enabled: false
  - id: p1
    secret_hash: h3
    gateway_url: ws://gateway.internal:9000/ws
    gateway_token: ${CHANBRIDGE_TEST_GW_TOKEN}
`)

	store, err := NewFileChannelStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileChannelStore() error = %v", err)
	}
	ctx := context.Background()

	c1, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get(c1) error = %v", err)
	}
	if !c1.Enabled || c1.Proxied() || c1.SecretHash != "$2a$10$abc" {
		t.Fatalf("c1 = %+v", c1)
	}
	c2, _ := store.Get(ctx, "c2")
	if c2.Enabled {
		t.Fatal("c2 should be disabled")
	}
	p1, _ := store.Get(ctx, "p1")
	if !p1.Proxied() || p1.GatewayToken != "tok-123" {
		t.Fatalf("p1 = %+v", p1)
	}

	if err := store.Create(ctx, &Channel{ChannelID: "x"}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	at := time.UnixMilli(1700000000000)
	if err := store.MarkConnected(ctx, "c1", at); err != nil {
		t.Fatalf("MarkConnected() error = %v", err)
	}
	c1, _ = store.Get(ctx, "c1")
	if !c1.LastConnectedAt.Equal(at) {
		t.Fatalf("LastConnectedAt = %v", c1.LastConnectedAt)
	}
}

func TestFileChannelStoreRejectsBadFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", "channels:\n  - secret_hash: x\n"},
		{"duplicate", "channels:\n  - id: a\n  - id: a\n"},
		{"not yaml", "channels: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "channels.yaml")
			writeChannelFile(t, path, tt.body)
			if _, err := NewFileChannelStore(path, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFileChannelStoreWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeChannelFile(t, path, "channels:\n  - id: c1\n")

	store, err := NewFileChannelStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileChannelStore() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.StartWatching(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("StartWatching() error = %v", err)
	}
	defer store.Close()

	writeChannelFile(t, path, "channels:\n  - id: c1\n  - id: c9\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Get(ctx, "c9"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("channel file change was not picked up")
}
