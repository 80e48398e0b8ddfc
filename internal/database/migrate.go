package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// migrateUp applies the embedded migrations for driver. It uses its own
// connection because closing a migrate instance closes the database it
// was built from.
func migrateUp(driver, dsn string) error {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("load migrations: %w", err)
	}

	var drv migratedb.Driver
	switch driver {
	case DriverSQLite:
		drv, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	case DriverPostgres:
		drv, err = migratepg.WithInstance(conn, &migratepg.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		src.Close()
		conn.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		src.Close()
		drv.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
