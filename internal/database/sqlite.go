package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

func sqliteDSN(path string, syncWrites bool) string {
	sync := "FULL"
	if !syncWrites {
		sync = "NORMAL"
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + "_journal_mode=WAL&_synchronous=" + sync + "&_busy_timeout=5000"
}

func ensureDir(path string) error {
	if strings.HasPrefix(path, "file:") || strings.HasPrefix(path, ":memory:") {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	return nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func sqliteQueries(t Table) queries {
	return queries{
		get:    fmt.Sprintf("SELECT value FROM %s WHERE key = ?", t),
		insert: fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING", t),
		put: fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value", t),
		scan: fmt.Sprintf("SELECT key, value FROM %s WHERE key >= ? AND substr(key, 1, length(?)) = ? ORDER BY key", t),
		scanArgs: func(prefix string) []any {
			return []any{prefix, prefix, prefix}
		},
	}
}
