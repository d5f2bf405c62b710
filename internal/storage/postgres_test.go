package storage

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func setupMockStores(t *testing.T) (*sql.DB, sqlmock.Sqlmock, StoreSet) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, newSQLStores(db, postgresDialect)
}

func TestPostgresDialectBind(t *testing.T) {
	got := postgresDialect.bind("UPDATE t SET a = ? WHERE b = ? AND c = ?")
	want := "UPDATE t SET a = $1 WHERE b = $2 AND c = $3"
	if got != want {
		t.Fatalf("bind() = %q, want %q", got, want)
	}
	if sqliteDialect.bind("a = ?") != "a = ?" {
		t.Fatal("sqlite dialect must keep ? placeholders")
	}
}

func TestPostgresChannelStore_Create(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		anyErr    bool
	}{
		{
			name: "successful create",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channels").
					WithArgs(sqlmock.AnyArg(), "c1", "hash", true, "", "", sqlmock.AnyArg(), int64(0)).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "duplicate channel",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channels").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: ErrAlreadyExists,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO channels").
					WillReturnError(errors.New("connection refused"))
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, stores := setupMockStores(t)
			defer db.Close()
			tt.setupMock(mock)

			err := stores.Channels.Create(context.Background(), &Channel{ChannelID: "c1", SecretHash: "hash", Enabled: true})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresChannelStore_Get(t *testing.T) {
	db, mock, stores := setupMockStores(t)
	defer db.Close()

	columns := []string{"id", "channel_id", "secret_hash", "enabled", "gateway_url", "gateway_token", "created_at", "last_connected_at"}
	mock.ExpectQuery(`SELECT (.+) FROM channels WHERE channel_id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("rec-1", "c1", "hash", true, "ws://gw/ws", "tok", int64(1700000000000), int64(0)))
	mock.ExpectQuery(`SELECT (.+) FROM channels WHERE channel_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	ch, err := stores.Channels.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ch.ID != "rec-1" || !ch.Proxied() || ch.GatewayToken != "tok" || !ch.LastConnectedAt.IsZero() {
		t.Fatalf("Get() = %+v", ch)
	}
	if !ch.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("CreatedAt = %v", ch.CreatedAt)
	}

	if _, err := stores.Channels.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresChannelStore_MarkConnected(t *testing.T) {
	db, mock, stores := setupMockStores(t)
	defer db.Close()

	at := time.UnixMilli(1700000000500)
	mock.ExpectExec(`UPDATE channels SET last_connected_at = \$1 WHERE channel_id = \$2`).
		WithArgs(at.UnixMilli(), "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE channels SET last_connected_at`).
		WithArgs(at.UnixMilli(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := stores.Channels.MarkConnected(context.Background(), "c1", at); err != nil {
		t.Fatalf("MarkConnected() error = %v", err)
	}
	if err := stores.Channels.MarkConnected(context.Background(), "gone", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresHistoryStore(t *testing.T) {
	db, mock, stores := setupMockStores(t)
	defer db.Close()

	ts := time.UnixMilli(1700000000000)
	mock.ExpectExec(`INSERT INTO chat_messages (.+) ON CONFLICT DO NOTHING`).
		WithArgs("c1", "m1", "human", "hi", ts.UnixMilli(), "", "conn-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := stores.History.Append(context.Background(), &ChatMessage{
		ChannelID: "c1", ID: "m1", Role: RoleHuman, Text: "hi", Timestamp: ts, ConnID: "conn-1",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	before := ts.Add(time.Minute)
	columns := []string{"channel_id", "id", "role", "text", "ts", "reply_to", "conn_id"}
	mock.ExpectQuery(`SELECT (.+) FROM chat_messages WHERE channel_id = \$1 AND ts < \$2 ORDER BY ts DESC, id DESC LIMIT \$3`).
		WithArgs("c1", before.UnixMilli(), 2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("c1", "m2", "agent", "hello", ts.UnixMilli()+10, "m1", "").
			AddRow("c1", "m1", "human", "hi", ts.UnixMilli(), "", "conn-1"))

	got, err := stores.History.History(context.Background(), "c1", 2, before)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if ids := messageIDs(got); !reflect.DeepEqual(ids, []string{"m1", "m2"}) {
		t.Fatalf("History() = %v, want oldest first", ids)
	}
	if got[1].Role != RoleAgent || got[1].ReplyTo != "m1" {
		t.Fatalf("unexpected record %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
