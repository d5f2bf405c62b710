package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// channelFile is the on-disk layout of a channel source file.
type channelFile struct {
	Channels []channelFileEntry `yaml:"channels"`
}

type channelFileEntry struct {
	ID           string `yaml:"id"`
	SecretHash   string `yaml:"secret_hash"`
	Enabled      *bool  `yaml:"enabled"`
	GatewayURL   string `yaml:"gateway_url"`
	GatewayToken string `yaml:"gateway_token"`
}

// FileChannelStore serves channels from a YAML file and reloads it when the
// file changes. Administrative writes are rejected with ErrReadOnly; connected
// timestamps are kept in memory.
type FileChannelStore struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	channels  map[string]*Channel
	connected map[string]time.Time

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewFileChannelStore loads path and returns the store.
func NewFileChannelStore(path string, logger *slog.Logger) (*FileChannelStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileChannelStore{
		path:      path,
		logger:    logger.With("component", "channel-file"),
		channels:  make(map[string]*Channel),
		connected: make(map[string]time.Time),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the channel file. On error the previous snapshot is kept.
func (s *FileChannelStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read channel file: %w", err)
	}
	var file channelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse channel file: %w", err)
	}

	next := make(map[string]*Channel, len(file.Channels))
	for i, entry := range file.Channels {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return fmt.Errorf("channel file entry %d: id is required", i)
		}
		if _, dup := next[id]; dup {
			return fmt.Errorf("channel file: duplicate channel %q", id)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		next[id] = &Channel{
			ID:           "file:" + id,
			ChannelID:    id,
			SecretHash:   entry.SecretHash,
			Enabled:      enabled,
			GatewayURL:   strings.TrimSpace(os.ExpandEnv(entry.GatewayURL)),
			GatewayToken: os.ExpandEnv(entry.GatewayToken),
		}
	}

	s.mu.Lock()
	s.channels = next
	s.mu.Unlock()
	s.logger.Info("channel file loaded", "path", s.path, "channels", len(next))
	return nil
}

func (s *FileChannelStore) Get(ctx context.Context, channelID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ch
	clone.LastConnectedAt = s.connected[channelID]
	return &clone, nil
}

func (s *FileChannelStore) List(ctx context.Context) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.channels))
	for id, ch := range s.channels {
		clone := *ch
		clone.LastConnectedAt = s.connected[id]
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *FileChannelStore) MarkConnected(ctx context.Context, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return ErrNotFound
	}
	s.connected[channelID] = at
	return nil
}

func (s *FileChannelStore) Create(ctx context.Context, ch *Channel) error {
	return ErrReadOnly
}

func (s *FileChannelStore) SetEnabled(ctx context.Context, channelID string, enabled bool) error {
	return ErrReadOnly
}

// StartWatching reloads the file whenever it changes until ctx is cancelled
// or Close is called.
func (s *FileChannelStore) StartWatching(ctx context.Context, debounce time.Duration) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file by rename are seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch channel file: %w", err)
	}
	s.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops the watcher.
func (s *FileChannelStore) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *FileChannelStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer s.watchWg.Done()

	target := filepath.Clean(s.path)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("channel file reload failed", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("channel file watch error", "error", err)
		}
	}
}
