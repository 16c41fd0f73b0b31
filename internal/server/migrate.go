package server

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given source directory
// (for example file://migrations). The caller resolves the DSN from
// configuration; an empty one is an error rather than a guess.
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return fmt.Errorf("migrate: empty database dsn")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown direction: %s", direction)
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	if direction == "down" {
		steps = -steps
		if steps == 0 {
			return m.Down()
		}
		return m.Steps(steps)
	}
	if steps > 0 {
		return m.Steps(steps)
	}
	return m.Up()
}
