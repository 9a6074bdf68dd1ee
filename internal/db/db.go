package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"crypto-risk/internal/logger"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection holding the price cache and the
// analysis run history.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// Parent directories are created as needed. ":memory:" opens a private
// in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Debug("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS price_history (
				symbol TEXT NOT NULL,
				date   TEXT NOT NULL,
				price  REAL NOT NULL,
				PRIMARY KEY (symbol, date)
			);

			CREATE TABLE IF NOT EXISTS price_meta (
				symbol     TEXT PRIMARY KEY,
				days       INTEGER NOT NULL,
				updated_at TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Debug("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS run_history (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp       TEXT NOT NULL,
				command         TEXT NOT NULL,
				portfolio       TEXT NOT NULL,
				assets          INTEGER NOT NULL,
				objective       TEXT,
				expected_return REAL,
				volatility      REAL,
				sharpe          REAL,
				duration_ms     INTEGER NOT NULL DEFAULT 0,
				params_json     TEXT,
				result_json     TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_run_history_ts ON run_history(timestamp);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Debug("DB", "Applied migration v2")
	}

	return nil
}

// SchemaVersion reports the applied migration level.
func (d *DB) SchemaVersion() int {
	v := 0
	d.sql.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v)
	return v
}
