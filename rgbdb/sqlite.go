package rgbdb

import (
	"database/sql"
	"fmt"
	"net/url"

	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite" // Register the pure Go sqlite driver.
)

const (
	// sqliteBusyTimeout is how long a connection waits for a lock held by
	// another connection, in milliseconds.
	sqliteBusyTimeout = 5000
)

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
type SqliteConfig struct {
	// SkipMigrations if true, then the schema isn't created or upgraded on
	// start up.
	SkipMigrations bool `long:"skipmigrations" description:"Skip applying migrations on startup."`

	// DatabaseFileName is the full file path where the database file can be
	// found.
	DatabaseFileName string `long:"dbfile" description:"The full path to the database."`
}

// SqliteStore is a sqlite3 based contract store database.
type SqliteStore struct {
	cfg *SqliteConfig

	*BaseDB
}

// NewSqliteStore attempts to open a new sqlite database based on the passed
// config.
func NewSqliteStore(cfg *SqliteConfig) (*SqliteStore, error) {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "foreign_keys=on")
	pragmas.Add("_pragma", "journal_mode=WAL")
	pragmas.Add(
		"_pragma", fmt.Sprintf("busy_timeout=%d", sqliteBusyTimeout),
	)

	dsn := fmt.Sprintf("file:%s?%s", cfg.DatabaseFileName,
		pragmas.Encode())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Sqlite serializes writers anyway, a single connection avoids busy
	// errors between our own connections.
	db.SetMaxOpenConns(1)

	if !cfg.SkipMigrations {
		driver, err := sqlite_migrate.WithInstance(
			db, &sqlite_migrate.Config{},
		)
		if err != nil {
			return nil, err
		}

		err = applyMigrations(sqlSchemas, driver, "migrations", "sqlite")
		if err != nil {
			return nil, fmt.Errorf("unable to apply migrations: %w",
				err)
		}
	}

	log.Infof("Opened sqlite database at %v", cfg.DatabaseFileName)

	return &SqliteStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      db,
			Backend: BackendSqlite,
		},
	}, nil
}
