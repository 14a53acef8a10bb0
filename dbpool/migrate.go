package dbpool

import (
	"database/sql"
	"fmt"

	"github.com/docvault/ingestd/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending migration embedded in the migrations
// package against databaseURL. It opens its own database/sql connection
// (goose's migration runner predates pgx's native pool interface) rather
// than reusing the pgxpool.Pool, and closes it before returning.
func Migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("dbpool: open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("dbpool: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("dbpool: run migrations: %w", err)
	}
	return nil
}
