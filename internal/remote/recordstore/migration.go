package recordstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const currentSchemaVersion = 2

// RunMigrations brings the database up to the current schema version.
func (s *SQLiteStore) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migration to v1 failed: %w", err)
		}
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the applied schema version, 0 for a fresh database.
func (s *SQLiteStore) getSchemaVersion() (int, error) {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// migrateToV1 creates the records table with one TEXT column per field.
func (s *SQLiteStore) migrateToV1() error {
	var cols strings.Builder
	for _, c := range dataColumns {
		if c == "bucket" {
			fmt.Fprintf(&cols, "\t\t%s TEXT NOT NULL DEFAULT 'A',\n", c)
			continue
		}
		fmt.Fprintf(&cols, "\t\t%s TEXT NOT NULL DEFAULT '',\n", c)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE,
		client_key TEXT UNIQUE,
%s		updated_at TEXT NOT NULL DEFAULT ''
	)`, cols.String()),
		`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`,
	}
	return s.exec(migrations)
}

// migrateToV2 indexes the columns purge and filtering read.
func (s *SQLiteStore) migrateToV2() error {
	return s.exec([]string{
		`CREATE INDEX IF NOT EXISTS idx_records_bucket ON records(bucket)`,
		`CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at)`,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (2)`,
	})
}

func (s *SQLiteStore) exec(stmts []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SchemaVersion reports the applied schema version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	return s.getSchemaVersion()
}
