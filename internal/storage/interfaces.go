package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrReadOnly      = errors.New("channel source is read-only")
)

// Role identifies who authored a chat message or holds a connection.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// Channel is one conversation endpoint. It is administered outside the bridge
// and read-only to it apart from the connected timestamp.
type Channel struct {
	ID              string // internal record id
	ChannelID       string
	SecretHash      string
	Enabled         bool
	GatewayURL      string // set only for proxied channels
	GatewayToken    string
	CreatedAt       time.Time
	LastConnectedAt time.Time
}

// Proxied reports whether traffic for the channel is relayed to an external gateway.
func (c *Channel) Proxied() bool {
	return c != nil && strings.TrimSpace(c.GatewayURL) != ""
}

// ChatMessage is an append-only history record.
type ChatMessage struct {
	ChannelID string
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
	ReplyTo   string
	ConnID    string
}

// ChannelLookup is the part of channel persistence the bridge consumes.
type ChannelLookup interface {
	Get(ctx context.Context, channelID string) (*Channel, error)
	MarkConnected(ctx context.Context, channelID string, at time.Time) error
}

// ChannelStore adds the administrative operations used by the CLI.
type ChannelStore interface {
	ChannelLookup
	Create(ctx context.Context, ch *Channel) error
	List(ctx context.Context) ([]*Channel, error)
	SetEnabled(ctx context.Context, channelID string, enabled bool) error
}

// HistoryStore persists chat messages.
type HistoryStore interface {
	// Append stores msg. A message whose id already exists on the channel is
	// ignored, records are never rewritten.
	Append(ctx context.Context, msg *ChatMessage) error
	// History returns at most limit messages older than before (zero means
	// now), ordered oldest to newest.
	History(ctx context.Context, channelID string, limit int, before time.Time) ([]*ChatMessage, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Channels ChannelStore
	History  HistoryStore
	closer   func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func validateMessage(msg *ChatMessage) error {
	if msg == nil || msg.ChannelID == "" || msg.ID == "" {
		return errors.New("message channel and id are required")
	}
	if msg.Role != RoleHuman && msg.Role != RoleAgent {
		return errors.New("message role must be human or agent")
	}
	return nil
}
