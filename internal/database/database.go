package database

import (
	"database/sql"
	"fmt"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DB struct {
	conn    *sql.DB
	driver  string
	queries map[Table]queries
}

// Open connects to the backend, applies pending migrations and returns a
// handle shared by every store built from it. syncWrites controls whether
// SQLite fsyncs on every commit.
func Open(driver, dsn string, syncWrites bool) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn, syncWrites)
		conn, err = openSQLite(dsn)
	case DriverPostgres:
		conn, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := migrateUp(driver, dsn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db := &DB{
		conn:    conn,
		driver:  driver,
		queries: make(map[Table]queries),
	}
	for _, t := range []Table{AccountsTable, MessagesTable} {
		if driver == DriverPostgres {
			db.queries[t] = postgresQueries(t)
		} else {
			db.queries[t] = sqliteQueries(t)
		}
	}

	return db, nil
}

// Store returns the key/value namespace backed by table.
func (db *DB) Store(table Table) (Store, error) {
	if !table.valid() {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	return &sqlStore{conn: db.conn, table: table, q: db.queries[table]}, nil
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
