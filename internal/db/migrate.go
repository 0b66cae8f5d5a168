package db

import (
	"database/sql"
	"embed"
	"os"

	migrate "github.com/rubenv/sql-migrate"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const dialect = "sqlite3"

// migrationSource prefers dir when it exists, falling back to the embedded set.
func migrationSource(dir string) (migrate.MigrationSource, error) {
	if dir != "" {
		st, err := os.Stat(dir)
		switch {
		case err == nil && st.IsDir():
			return &migrate.FileMigrationSource{Dir: dir}, nil
		case err == nil:
			return nil, errors.New("migrations path is not a directory: " + dir)
		case !os.IsNotExist(err):
			return nil, errors.Wrap(err, "failed to stat migrations dir")
		}
	}
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: embeddedMigrations, Root: "migrations"}, nil
}

func MigrateUp(db *sql.DB, dir string, log *logan.Entry) error {
	src, err := migrationSource(dir)
	if err != nil {
		return err
	}
	applied, err := migrate.Exec(db, dialect, src, migrate.Up)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	log.WithField("applied", applied).Info("migrations applied")
	return nil
}

func MigrateDown(db *sql.DB, dir string, log *logan.Entry) error {
	src, err := migrationSource(dir)
	if err != nil {
		return err
	}
	applied, err := migrate.Exec(db, dialect, src, migrate.Down)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	log.WithField("applied", applied).Info("migrations applied")
	return nil
}
