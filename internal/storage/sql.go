package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name        string
	numbered    bool // $1 placeholders instead of ?
	schemaStmts []string
}

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var commonSchema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		gateway_url TEXT NOT NULL DEFAULT '',
		gateway_token TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		last_connected_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		channel_id TEXT NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		ts BIGINT NOT NULL,
		reply_to TEXT NOT NULL DEFAULT '',
		conn_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (channel_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_channel_ts ON chat_messages(channel_id, ts)`,
}

func ensureSchema(ctx context.Context, db *sql.DB, d dialect) error {
	for _, stmt := range d.schemaStmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", d.name, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

type sqlChannelStore struct {
	db      *sql.DB
	dialect dialect
}

const channelColumns = `id, channel_id, secret_hash, enabled, gateway_url, gateway_token, created_at, last_connected_at`

func (s *sqlChannelStore) Create(ctx context.Context, ch *Channel) error {
	if ch == nil || ch.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.bind(
		`INSERT INTO channels (`+channelColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		ch.ID,
		ch.ChannelID,
		ch.SecretHash,
		ch.Enabled,
		ch.GatewayURL,
		ch.GatewayToken,
		toMillis(ch.CreatedAt),
		toMillis(ch.LastConnectedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

func (s *sqlChannelStore) Get(ctx context.Context, channelID string) (*Channel, error) {
	if channelID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.dialect.bind(
		`SELECT `+channelColumns+` FROM channels WHERE channel_id = ?`), channelID)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (s *sqlChannelStore) List(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return out, nil
}

func (s *sqlChannelStore) SetEnabled(ctx context.Context, channelID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.dialect.bind(
		`UPDATE channels SET enabled = ? WHERE channel_id = ?`), enabled, channelID)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return requireAffected(res)
}

func (s *sqlChannelStore) MarkConnected(ctx context.Context, channelID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.bind(
		`UPDATE channels SET last_connected_at = ? WHERE channel_id = ?`), toMillis(at), channelID)
	if err != nil {
		return fmt.Errorf("mark channel connected: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var created, connected int64
	if err := row.Scan(
		&ch.ID,
		&ch.ChannelID,
		&ch.SecretHash,
		&ch.Enabled,
		&ch.GatewayURL,
		&ch.GatewayToken,
		&created,
		&connected,
	); err != nil {
		return nil, err
	}
	ch.CreatedAt = fromMillis(created)
	ch.LastConnectedAt = fromMillis(connected)
	return &ch, nil
}

type sqlHistoryStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlHistoryStore) Append(ctx context.Context, msg *ChatMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.bind(
		`INSERT INTO chat_messages (channel_id, id, role, text, ts, reply_to, conn_id)
		 VALUES (?,?,?,?,?,?,?) ON CONFLICT DO NOTHING`),
		msg.ChannelID,
		msg.ID,
		string(msg.Role),
		msg.Text,
		ts.UnixMilli(),
		msg.ReplyTo,
		msg.ConnID,
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *sqlHistoryStore) History(ctx context.Context, channelID string, limit int, before time.Time) ([]*ChatMessage, error) {
	cutoff := int64(1<<63 - 1)
	if !before.IsZero() {
		cutoff = before.UnixMilli()
	}
	query := `SELECT channel_id, id, role, text, ts, reply_to, conn_id FROM chat_messages
		WHERE channel_id = ? AND ts < ? ORDER BY ts DESC, id DESC`
	args := []any{channelID, cutoff}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var role string
		var ts int64
		if err := rows.Scan(&msg.ChannelID, &msg.ID, &role, &msg.Text, &ts, &msg.ReplyTo, &msg.ConnID); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.Role = Role(role)
		msg.Timestamp = fromMillis(ts)
		newestFirst = append(newestFirst, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}

	out := make([]*ChatMessage, len(newestFirst))
	for i, msg := range newestFirst {
		out[len(newestFirst)-1-i] = msg
	}
	return out, nil
}
