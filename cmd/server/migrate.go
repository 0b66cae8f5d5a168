package main

import (
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/soaringjerry/pricecrowd/internal/api"
	"github.com/soaringjerry/pricecrowd/internal/config"
	dbstore "github.com/soaringjerry/pricecrowd/internal/db"
)

func migrateDB(cfg config.Config, log *logan.Entry, up bool) error {
	if cfg.SQLitePath == "" {
		return errors.New("PRICECROWD_SQLITE_PATH is required for migrations")
	}
	db, err := dbstore.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if up {
		return dbstore.MigrateUp(db, cfg.MigrationsDir, log)
	}
	return dbstore.MigrateDown(db, cfg.MigrationsDir, log)
}

// openStore returns the SQLite store when a path is configured, migrating it
// first, and the in-memory store otherwise. The returned closer is never nil.
func openStore(cfg config.Config, log *logan.Entry) (api.Store, func() error, error) {
	if cfg.SQLitePath == "" {
		log.Warn("PRICECROWD_SQLITE_PATH not set, state is kept in memory")
		return api.NewMemoryStore(cfg.AuditCapacity), func() error { return nil }, nil
	}
	db, err := dbstore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := dbstore.MigrateUp(db, cfg.MigrationsDir, log); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store, err := dbstore.NewSQLiteStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.WithField("path", cfg.SQLitePath).Info("using sqlite store")
	return store, db.Close, nil
}
