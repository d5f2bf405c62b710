package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

var sqliteDialect = dialect{
	name: "sqlite",
	schemaStmts: append([]string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	}, commonSchema...),
}

// NewSQLiteStores opens (or creates) a SQLite database at path. An empty path
// or ":memory:" keeps the database in memory for the life of the process.
func NewSQLiteStores(ctx context.Context, path string) (StoreSet, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite free of SQLITE_BUSY and pins a :memory: database
	// to a single connection.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(ctx, db, sqliteDialect); err != nil {
		_ = db.Close()
		return StoreSet{}, err
	}
	return newSQLStores(db, sqliteDialect), nil
}
