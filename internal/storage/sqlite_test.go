package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) StoreSet {
	t.Helper()
	stores, err := NewSQLiteStores(context.Background(), ":memory:")
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") {
			t.Skip("SQLite driver not available")
		}
		t.Fatalf("NewSQLiteStores() error = %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func TestSQLiteChannelStore(t *testing.T) {
	stores := newTestSQLite(t)
	ctx := context.Background()

	ch := &Channel{ChannelID: "c1", SecretHash: "hash", Enabled: true, GatewayURL: "ws://gw:9000/ws"}
	if err := stores.Channels.Create(ctx, ch); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := stores.Channels.Create(ctx, &Channel{ChannelID: "c1", SecretHash: "x"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := stores.Channels.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != ch.ID || got.SecretHash != "hash" || !got.Enabled || !got.Proxied() {
		t.Fatalf("Get() = %+v", got)
	}

	if err := stores.Channels.SetEnabled(ctx, "c1", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	at := time.UnixMilli(1700000000123)
	if err := stores.Channels.MarkConnected(ctx, "c1", at); err != nil {
		t.Fatalf("MarkConnected() error = %v", err)
	}
	got, _ = stores.Channels.Get(ctx, "c1")
	if got.Enabled || !got.LastConnectedAt.Equal(at) {
		t.Fatalf("after updates got %+v", got)
	}

	if _, err := stores.Channels.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := stores.Channels.SetEnabled(ctx, "nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := stores.Channels.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}
}

func TestSQLiteHistoryStore(t *testing.T) {
	stores := newTestSQLite(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i, id := range []string{"a", "b", "c"} {
		err := stores.History.Append(ctx, &ChatMessage{
			ChannelID: "c1",
			ID:        id,
			Role:      RoleAgent,
			Text:      "text-" + id,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			ReplyTo:   "r",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := stores.History.Append(ctx, &ChatMessage{ChannelID: "c1", ID: "a", Role: RoleHuman, Text: "dup"}); err != nil {
		t.Fatalf("duplicate Append() error = %v", err)
	}

	got, err := stores.History.History(ctx, "c1", 2, time.Time{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if ids := messageIDs(got); !reflect.DeepEqual(ids, []string{"b", "c"}) {
		t.Fatalf("History() = %v", ids)
	}
	if got[0].Role != RoleAgent || got[0].ReplyTo != "r" || !got[0].Timestamp.Equal(base.Add(time.Millisecond)) {
		t.Fatalf("unexpected record %+v", got[0])
	}

	older, err := stores.History.History(ctx, "c1", 50, base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if ids := messageIDs(older); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Fatalf("History(before) = %v", ids)
	}
	if older[0].Text != "text-a" {
		t.Fatalf("duplicate append rewrote record: %q", older[0].Text)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	stores, err := Open(context.Background(), Options{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := stores.Channels.(*MemoryChannelStore); !ok {
		t.Fatalf("expected memory channel store, got %T", stores.Channels)
	}
	if _, err := Open(context.Background(), Options{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
