package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// keys use the "C" collation so that ORDER BY key is byte order
func postgresQueries(t Table) queries {
	return queries{
		get:    fmt.Sprintf("SELECT value FROM %s WHERE key = $1", t),
		insert: fmt.Sprintf("INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING", t),
		put: fmt.Sprintf("INSERT INTO %s (key, value) VALUES ($1, $2) "+
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value", t),
		scan: fmt.Sprintf("SELECT key, value FROM %s WHERE key >= $1 AND starts_with(key, $1) ORDER BY key", t),
		scanArgs: func(prefix string) []any {
			return []any{prefix}
		},
	}
}
