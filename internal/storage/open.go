package storage

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a storage backend.
type Options struct {
	Driver string // memory, sqlite or postgres
	URL    string
	Pool   *PoolConfig
}

// Open builds the StoreSet for opts.
func Open(ctx context.Context, opts Options) (StoreSet, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "memory":
		return NewMemoryStores(), nil
	case "sqlite":
		return NewSQLiteStores(ctx, opts.URL)
	case "postgres", "postgresql":
		return NewPostgresStoresFromDSN(opts.URL, opts.Pool)
	default:
		return StoreSet{}, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// WithChannels returns a copy of s that resolves channels from channels while
// keeping s's history store and lifecycle.
func (s StoreSet) WithChannels(channels ChannelStore) StoreSet {
	s.Channels = channels
	return s
}
