package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

var memSeq atomic.Int64

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations. Use ":memory:" for an in-process throwaway store.
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		// A unique shared-cache name keeps the database alive across pooled
		// connections without leaking state between separate Opens.
		dsn = fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memSeq.Add(1))
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite writes serialize anyway; one connection avoids lock churn and
	// keeps the shared in-memory database alive for tests.
	conn.SetMaxOpenConns(1)

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
