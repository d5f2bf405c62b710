package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemoryStores returns a StoreSet backed by process memory.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Channels: NewMemoryChannelStore(),
		History:  NewMemoryHistoryStore(),
	}
}

// MemoryChannelStore provides an in-memory ChannelStore.
type MemoryChannelStore struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewMemoryChannelStore creates an in-memory channel store.
func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{channels: make(map[string]*Channel)}
}

func (s *MemoryChannelStore) Create(ctx context.Context, ch *Channel) error {
	if ch == nil || ch.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[ch.ChannelID]; exists {
		return ErrAlreadyExists
	}
	clone := *ch
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.channels[ch.ChannelID] = &clone
	return nil
}

func (s *MemoryChannelStore) Get(ctx context.Context, channelID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ch
	return &clone, nil
}

func (s *MemoryChannelStore) List(ctx context.Context) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		clone := *ch
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *MemoryChannelStore) SetEnabled(ctx context.Context, channelID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Enabled = enabled
	return nil
}

func (s *MemoryChannelStore) MarkConnected(ctx context.Context, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.LastConnectedAt = at
	return nil
}

// MemoryHistoryStore provides an in-memory HistoryStore.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*ChatMessage // channel -> append order
	seen     map[string]struct{}       // channel + "/" + id
}

// NewMemoryHistoryStore creates an in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		messages: make(map[string][]*ChatMessage),
		seen:     make(map[string]struct{}),
	}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, msg *ChatMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	key := msg.ChannelID + "/" + msg.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return nil
	}
	clone := *msg
	if clone.Timestamp.IsZero() {
		clone.Timestamp = time.Now()
	}
	s.seen[key] = struct{}{}
	s.messages[msg.ChannelID] = append(s.messages[msg.ChannelID], &clone)
	return nil
}

func (s *MemoryHistoryStore) History(ctx context.Context, channelID string, limit int, before time.Time) ([]*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[channelID]
	matched := make([]*ChatMessage, 0, len(all))
	for _, msg := range all {
		if !before.IsZero() && !msg.Timestamp.Before(before) {
			continue
		}
		clone := *msg
		matched = append(matched, &clone)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
