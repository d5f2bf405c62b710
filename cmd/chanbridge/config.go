package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/chanbridge/internal/config"
	"github.com/haasonsaas/chanbridge/internal/storage"
)

// openStores opens the configured database and, when a channels file is set,
// swaps in the file-backed channel source. Closing the StoreSet does not
// close the file store; callers close it separately.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.StoreSet, *storage.FileChannelStore, error) {
	db := cfg.Database
	stores, err := storage.Open(ctx, storage.Options{
		Driver: db.Driver,
		URL:    db.URL,
		Pool: &storage.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
			ConnectTimeout:  db.ConnectTimeout,
		},
	})
	if err != nil {
		return storage.StoreSet{}, nil, fmt.Errorf("open %s storage: %w", db.Driver, err)
	}

	path := strings.TrimSpace(cfg.ChannelsFile.Path)
	if path == "" {
		return stores, nil, nil
	}
	file, err := storage.NewFileChannelStore(path, logger)
	if err != nil {
		_ = stores.Close() //nolint:errcheck
		return storage.StoreSet{}, nil, fmt.Errorf("load channels file: %w", err)
	}
	return stores.WithChannels(file), file, nil
}

// lockKey names the channel source guarded by the instance lock. Processes
// sharing a source would each keep their own registry and could admit two
// agents for one channel.
func lockKey(cfg *config.Config) string {
	if path := strings.TrimSpace(cfg.ChannelsFile.Path); path != "" {
		return "file:" + path
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver == "" || driver == "memory" {
		// Memory stores are private to the process.
		return "memory:" + cfg.Server.Addr()
	}
	return driver + ":" + cfg.Database.URL
}
